package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"
)

// markerKey is the object under each container prefix whose user metadata
// holds the container metadata. Its LastModified is the container's.
const markerKey = ".container"

// deleteBatch is the most keys S3 accepts in one DeleteObjects call.
const deleteBatch = 1000

// S3Store maps containers onto key prefixes of a single S3 bucket:
//
//	<prefix><name>/.container   marker carrying container metadata
//	<prefix><name>/<key>        object content and metadata
//
// Name and key segments are path-escaped, and a leading dot is escaped too
// so no key can land on the marker. Do not change Bucket or Prefix
// concurrently with calls using the structure.
//
// Marker read-modify-writes are serialized within the process only.
type S3Store struct {
	mu     sync.Mutex
	svc    s3iface.S3API
	Bucket string
	Prefix string
}

var _ services.ObjectStore = (*S3Store)(nil)

// NewS3Store creates an S3Store using the given client.
func NewS3Store(svc s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{svc: svc, Bucket: bucket, Prefix: prefix}
}

// escapeSegment path-escapes one key segment. PathEscape leaves a leading
// dot alone, which would let a key named like the marker overwrite it.
func escapeSegment(seg string) string {
	esc := url.PathEscape(seg)
	if strings.HasPrefix(esc, ".") {
		esc = "%2E" + esc[1:]
	}
	return esc
}

func (s *S3Store) containerPrefix(name string) string {
	return s.Prefix + escapeSegment(name) + "/"
}

func (s *S3Store) objectKey(container, key string) string {
	return s.containerPrefix(container) + escapeSegment(key)
}

func (s *S3Store) markerObject(name string) string {
	return s.containerPrefix(name) + markerKey
}

// CreateContainer writes the marker with If-None-Match: *, so a marker
// created by another client between the existence check and the put is
// left alone.
func (s *S3Store) CreateContainer(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.ContainerExists(ctx, name)
	if err != nil || ok {
		return false, err
	}
	err = s.putMarker(ctx, name, models.Metadata{}, ifNoneMatch)
	if isPreconditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ifNoneMatch makes a put conditional on the key not existing yet.
func ifNoneMatch(r *request.Request) {
	r.HTTPRequest.Header.Set("If-None-Match", "*")
}

func (s *S3Store) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := s.head(ctx, s.markerObject(name))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, backendError("checking container", err)
	}
	return true, nil
}

func (s *S3Store) ContainerProperties(ctx context.Context, name string) (*models.ContainerProperties, error) {
	out, err := s.head(ctx, s.markerObject(name))
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	if err != nil {
		return nil, backendError("getting container", err)
	}
	props := &models.ContainerProperties{Name: name, Metadata: fromS3Metadata(out.Metadata)}
	if out.LastModified != nil {
		props.LastModified = out.LastModified.UTC()
	}
	return props, nil
}

func (s *S3Store) SetContainerMetadata(ctx context.Context, name string, md models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireContainer(ctx, name); err != nil {
		return err
	}
	return s.putMarker(ctx, name, md)
}

func (s *S3Store) UpdateContainerMetadata(ctx context.Context, name string, updates models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, err := s.ContainerProperties(ctx, name)
	if err != nil {
		return err
	}
	md := props.Metadata.Clone()
	for k, v := range updates {
		md[k] = v
	}
	return s.putMarker(ctx, name, md)
}

func (s *S3Store) putMarker(ctx context.Context, name string, md models.Metadata, opts ...request.Option) error {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.markerObject(name)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
		Metadata:      toS3Metadata(md),
	}, opts...)
	if err != nil && !isPreconditionFailed(err) {
		return backendError("writing container marker", err)
	}
	return err
}

// DeleteContainer removes every key under the container prefix, marker
// included. A missing container is not an error.
func (s *S3Store) DeleteContainer(ctx context.Context, name string) error {
	keys, err := s.listKeys(ctx, s.containerPrefix(name))
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += deleteBatch {
		end := start + deleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, &s3.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.Bucket),
			Delete: &s3.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return backendError("deleting container objects", err)
		}
	}
	return nil
}

// ListContainers returns one name per top-level prefix under Prefix.
func (s *S3Store) ListContainers(ctx context.Context) ([]string, error) {
	var names []string
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.Bucket),
		Prefix:    aws.String(s.Prefix),
		Delimiter: aws.String("/"),
	}
	err := s.svc.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, cp := range page.CommonPrefixes {
				seg := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(cp.Prefix), s.Prefix), "/")
				if name, err := url.PathUnescape(seg); err == nil && name != "" {
					names = append(names, name)
				}
			}
			return !lastpage
		})
	if err != nil {
		return nil, backendError("listing containers", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3Store) requireContainer(ctx context.Context, name string) error {
	ok, err := s.ContainerExists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	return nil
}

// PutBlob uploads with a single PUT. PutObject needs a seekable body, so
// readers that cannot seek are buffered first.
func (s *S3Store) PutBlob(ctx context.Context, container, key string, r io.Reader, size int64) error {
	if err := s.requireContainer(ctx, container); err != nil {
		return err
	}
	body, ok := r.(io.ReadSeeker)
	if !ok || size < 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("reading blob content: %w", err)
		}
		body, size = bytes.NewReader(data), int64(len(data))
	}
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.objectKey(container, key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return backendError("uploading blob", err)
	}
	return nil
}

func (s *S3Store) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(container, key)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	if err != nil {
		return nil, backendError("downloading blob", err)
	}
	return out.Body, nil
}

func (s *S3Store) BlobExists(ctx context.Context, container, key string) (bool, error) {
	_, err := s.head(ctx, s.objectKey(container, key))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, backendError("checking blob", err)
	}
	return true, nil
}

func (s *S3Store) BlobProperties(ctx context.Context, container, key string) (*models.BlobProperties, error) {
	out, err := s.head(ctx, s.objectKey(container, key))
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	if err != nil {
		return nil, backendError("getting blob properties", err)
	}
	props := &models.BlobProperties{
		Container: container,
		Key:       key,
		Size:      aws.Int64Value(out.ContentLength),
		Metadata:  fromS3Metadata(out.Metadata),
	}
	if out.LastModified != nil {
		props.LastModified = out.LastModified.UTC()
	}
	return props, nil
}

// SetBlobMetadata copies the object onto itself with replaced metadata;
// S3 has no in-place metadata update.
func (s *S3Store) SetBlobMetadata(ctx context.Context, container, key string, md models.Metadata) error {
	if _, err := s.BlobProperties(ctx, container, key); err != nil {
		return err
	}
	objKey := s.objectKey(container, key)
	_, err := s.svc.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.Bucket),
		Key:               aws.String(objKey),
		CopySource:        aws.String(copySource(s.Bucket, objKey)),
		Metadata:          toS3Metadata(md),
		MetadataDirective: aws.String(s3.MetadataDirectiveReplace),
	})
	if err != nil {
		return backendError("setting blob metadata", err)
	}
	return nil
}

// DeleteBlob checks for the object first because S3 deletes succeed on
// missing keys.
func (s *S3Store) DeleteBlob(ctx context.Context, container, key string) error {
	ok, err := s.BlobExists(ctx, container, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	_, err = s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(container, key)),
	})
	if err != nil {
		return backendError("deleting blob", err)
	}
	return nil
}

func (s *S3Store) ListBlobs(ctx context.Context, container string) ([]string, error) {
	if err := s.requireContainer(ctx, container); err != nil {
		return nil, err
	}
	prefix := s.containerPrefix(container)
	raw, err := s.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		seg := strings.TrimPrefix(k, prefix)
		if seg == markerKey || strings.Contains(seg, "/") {
			continue
		}
		if key, err := url.PathUnescape(seg); err == nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
}

func (s *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	}
	err := s.svc.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				keys = append(keys, aws.StringValue(item.Key))
			}
			return !lastpage
		})
	if err != nil {
		return nil, backendError("listing objects", err)
	}
	return keys, nil
}

// copySource URL-encodes "bucket/key" one path segment at a time.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

// S3 returns user metadata keys in canonical header form ("Last-Version"),
// so keys are lower-cased on the way back in.
func fromS3Metadata(in map[string]*string) models.Metadata {
	md := make(models.Metadata, len(in))
	for k, v := range in {
		md[strings.ToLower(k)] = aws.StringValue(v)
	}
	return md
}

func toS3Metadata(md models.Metadata) map[string]*string {
	out := make(map[string]*string, len(md))
	for k, v := range md {
		out[k] = aws.String(v)
	}
	return out
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return reqErr.Code() != s3.ErrCodeNoSuchBucket
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var reqErr awserr.RequestFailure
	return errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusPreconditionFailed
}

func backendError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", services.ErrBackendUnavailable, op, err)
}
