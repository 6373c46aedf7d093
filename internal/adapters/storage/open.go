package storage

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/foundry/pkgfs/internal/config"
	"github.com/foundry/pkgfs/internal/core/services"
)

// Open builds the object store named by a parsed connection string. Stores
// that hold resources also implement io.Closer.
func Open(cs config.ConnectionString) (services.ObjectStore, error) {
	switch cs.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendDisk:
		return NewDiskStore(cs.Get("path"))
	case config.BackendSQLite:
		return NewSQLiteStore(cs.Get("path"))
	case config.BackendS3:
		sess, err := newS3Session(cs)
		if err != nil {
			return nil, err
		}
		return NewS3Store(s3.New(sess), cs.Get("bucket"), cs.Get("prefix")), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cs.Backend)
	}
}

func newS3Session(cs config.ConnectionString) (*session.Session, error) {
	cfg := &aws.Config{Region: aws.String(cs.Get("region"))}
	if endpoint := cs.Get("endpoint"); endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if cs.Bool("pathStyle") {
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if key := cs.Get("accessKey"); key != "" {
		cfg.Credentials = credentials.NewStaticCredentials(key, cs.Get("secretKey"), "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating s3 session: %w", err)
	}
	return sess, nil
}
