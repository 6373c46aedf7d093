package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/foundry/pkgfs/internal/adapters/storage/storagetest"
	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"
)

// fakeS3 implements the slice of the S3 API the store uses, keeping
// objects in memory and canonicalizing metadata keys the way S3 does.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string]fakeObject
	fail    error

	// beforePut runs ahead of every put, outside the lock.
	beforePut func(key string)
}

type fakeObject struct {
	data     []byte
	metadata map[string]*string
	modified time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func notFoundErr() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req")
}

func canonical(md map[string]*string) map[string]*string {
	out := make(map[string]*string, len(md))
	for k, v := range md {
		out[http.CanonicalHeaderKey(k)] = aws.String(aws.StringValue(v))
	}
	return out
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFoundErr()
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		Metadata:      canonical(obj.metadata),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.StringValue(in.Key)
	if f.beforePut != nil {
		f.beforePut(key)
	}
	req := &request.Request{HTTPRequest: &http.Request{Header: http.Header{}}}
	for _, opt := range opts {
		opt(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.objects[key]; exists && req.HTTPRequest.Header.Get("If-None-Match") == "*" {
		return nil, awserr.NewRequestFailure(awserr.New("PreconditionFailed", "At least one of the pre-conditions you specified did not hold", nil), http.StatusPreconditionFailed, "req")
	}
	f.objects[key] = fakeObject{data: data, metadata: canonical(in.Metadata), modified: time.Now().UTC()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.NewRequestFailure(awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil), http.StatusNotFound, "req")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.StringValue(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectsWithContext(_ aws.Context, in *s3.DeleteObjectsInput, _ ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.StringValue(id.Key))
	}
	f.mu.Unlock()
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) CopyObjectWithContext(_ aws.Context, in *s3.CopyObjectInput, _ ...request.Option) (*s3.CopyObjectOutput, error) {
	src := strings.TrimPrefix(aws.StringValue(in.CopySource), aws.StringValue(in.Bucket)+"/")
	parts := strings.Split(src, "/")
	for i, p := range parts {
		unescaped, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		parts[i] = unescaped
	}
	srcKey := strings.Join(parts, "/")

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[srcKey]
	if !ok {
		return nil, notFoundErr()
	}
	md := obj.metadata
	if aws.StringValue(in.MetadataDirective) == s3.MetadataDirectiveReplace {
		md = canonical(in.Metadata)
	}
	f.objects[aws.StringValue(in.Key)] = fakeObject{data: obj.data, metadata: md, modified: time.Now().UTC()}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	prefix := aws.StringValue(in.Prefix)
	delim := aws.StringValue(in.Delimiter)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := make(map[string]bool)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, &s3.Object{Key: aws.String(k)})
	}
	fn(out, true)
	return nil
}

func TestS3Store(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) services.ObjectStore {
		return NewS3Store(newFakeS3(), "packages", "")
	})
}

func TestS3Store_WithPrefix(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) services.ObjectStore {
		return NewS3Store(newFakeS3(), "packages", "feeds/main/")
	})
}

func TestS3Store_KeyLayout(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "packages", "p/")
	ctx := context.Background()

	store.CreateContainer(ctx, "acme")
	store.PutBlob(ctx, "acme", "1.0.0", strings.NewReader("x"), 1)

	for _, want := range []string{"p/acme/.container", "p/acme/1.0.0"} {
		if _, ok := fake.objects[want]; !ok {
			t.Errorf("expected object %q, have %v", want, fake.objects)
		}
	}
}

func TestS3Store_DotKeyDoesNotReplaceMarker(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "packages", "")
	ctx := context.Background()

	store.CreateContainer(ctx, "acme")
	if err := store.SetContainerMetadata(ctx, "acme", models.Metadata{models.MetaLastVersion: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutBlob(ctx, "acme", ".container", strings.NewReader("payload"), 7); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["acme/%2Econtainer"]; !ok {
		t.Errorf("expected escaped object key, have %v", fake.objects)
	}

	props, err := store.ContainerProperties(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if props.Metadata[models.MetaLastVersion] != "1.0.0" {
		t.Errorf("container metadata was overwritten: %v", props.Metadata)
	}
	keys, err := store.ListBlobs(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != ".container" {
		t.Errorf("ListBlobs = %v, want [.container]", keys)
	}

	if err := store.DeleteBlob(ctx, "acme", ".container"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.ContainerExists(ctx, "acme"); !ok {
		t.Error("deleting the blob removed the container")
	}
}

func TestS3Store_CreateContainerKeepsConcurrentMarker(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "packages", "")
	ctx := context.Background()

	// Another client creates the container and records a version between
	// our existence check and our marker put.
	fake.beforePut = func(key string) {
		fake.beforePut = nil
		fake.mu.Lock()
		fake.objects[key] = fakeObject{
			metadata: canonical(map[string]*string{models.MetaLastVersion: aws.String("2.0.0")}),
			modified: time.Now().UTC(),
		}
		fake.mu.Unlock()
	}

	created, err := store.CreateContainer(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("CreateContainer reported a container another client created")
	}
	props, err := store.ContainerProperties(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if props.Metadata[models.MetaLastVersion] != "2.0.0" {
		t.Errorf("marker was replaced: %v", props.Metadata)
	}
}

func TestS3Store_BackendFailure(t *testing.T) {
	fake := newFakeS3()
	fake.fail = awserr.NewRequestFailure(awserr.New("AccessDenied", "denied", nil), http.StatusForbidden, "req")
	store := NewS3Store(fake, "packages", "")

	_, err := store.ContainerExists(context.Background(), "acme")
	if !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if errors.Is(err, services.ErrNotFound) {
		t.Error("backend failure must not look like not found")
	}
}
