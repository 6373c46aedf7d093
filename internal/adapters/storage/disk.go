package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"
)

const (
	containerFile = "container.json"
	objectsDir    = "objects"
	metaDir       = "meta"
)

// DiskStore lays containers out as directories under a data directory:
//
//	<dataDir>/containers/<name>/container.json   metadata + modification time
//	<dataDir>/containers/<name>/objects/<key>    object content
//	<dataDir>/containers/<name>/meta/<key>.json  object metadata
//
// Names and keys are path-escaped so they are always a single file name.
// Container records are read-modify-written under mu; a second process
// sharing dataDir is not coordinated with.
type DiskStore struct {
	mu      sync.Mutex
	dataDir string
}

var _ services.ObjectStore = (*DiskStore)(nil)

type diskRecord struct {
	Metadata     models.Metadata `json:"metadata"`
	LastModified time.Time       `json:"last_modified"`
}

// NewDiskStore creates a new DiskStore.
func NewDiskStore(dataDir string) (*DiskStore, error) {
	for _, dir := range []string{"containers", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", dir, err)
		}
	}
	return &DiskStore{dataDir: dataDir}, nil
}

func escapeName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid storage name %q", services.ErrMalformedPath, name)
	}
	return url.PathEscape(name), nil
}

func (s *DiskStore) containerDir(name string) (string, error) {
	esc, err := escapeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dataDir, "containers", esc), nil
}

func (s *DiskStore) blobPaths(container, key string) (string, string, error) {
	dir, err := s.containerDir(container)
	if err != nil {
		return "", "", err
	}
	esc, err := escapeName(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, objectsDir, esc), filepath.Join(dir, metaDir, esc+".json"), nil
}

func (s *DiskStore) CreateContainer(_ context.Context, name string) (bool, error) {
	dir, err := s.containerDir(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(filepath.Join(dir, containerFile)); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking container: %w", err)
	}

	for _, sub := range []string{objectsDir, metaDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return false, fmt.Errorf("creating container directory: %w", err)
		}
	}
	rec := diskRecord{Metadata: models.Metadata{}, LastModified: time.Now().UTC()}
	if err := s.writeRecord(filepath.Join(dir, containerFile), rec); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DiskStore) ContainerExists(_ context.Context, name string) (bool, error) {
	dir, err := s.containerDir(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, containerFile))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking container: %w", err)
}

func (s *DiskStore) ContainerProperties(_ context.Context, name string) (*models.ContainerProperties, error) {
	dir, err := s.containerDir(name)
	if err != nil {
		return nil, err
	}
	rec, err := readRecord(filepath.Join(dir, containerFile))
	if err != nil {
		return nil, notFoundf(err, "container %s", name)
	}
	return &models.ContainerProperties{Name: name, Metadata: rec.Metadata, LastModified: rec.LastModified}, nil
}

func (s *DiskStore) SetContainerMetadata(ctx context.Context, name string, md models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ContainerProperties(ctx, name); err != nil {
		return err
	}
	dir, _ := s.containerDir(name)
	return s.writeRecord(filepath.Join(dir, containerFile), diskRecord{Metadata: md.Clone(), LastModified: time.Now().UTC()})
}

func (s *DiskStore) UpdateContainerMetadata(ctx context.Context, name string, updates models.Metadata) error {
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
	dir, _ := s.containerDir(name)
	return s.writeRecord(filepath.Join(dir, containerFile), diskRecord{Metadata: md, LastModified: time.Now().UTC()})
}

func (s *DiskStore) DeleteContainer(_ context.Context, name string) error {
	dir, err := s.containerDir(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting container: %w", err)
	}
	return nil
}

func (s *DiskStore) ListContainers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "containers"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading containers directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dataDir, "containers", entry.Name(), containerFile)); err != nil {
			continue
		}
		name, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *DiskStore) requireContainer(ctx context.Context, name string) error {
	ok, err := s.ContainerExists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	return nil
}

// PutBlob streams r to a temp file then renames it over the object, so
// readers never observe a partial upload.
func (s *DiskStore) PutBlob(ctx context.Context, container, key string, r io.Reader, _ int64) error {
	if err := s.requireContainer(ctx, container); err != nil {
		return err
	}
	objPath, metaPath, err := s.blobPaths(container, key)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(objPath, r); err != nil {
		return err
	}
	return s.writeRecord(metaPath, diskRecord{Metadata: models.Metadata{}, LastModified: time.Now().UTC()})
}

func (s *DiskStore) GetBlob(_ context.Context, container, key string) (io.ReadCloser, error) {
	objPath, _, err := s.blobPaths(container, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(objPath)
	if err != nil {
		return nil, notFoundf(err, "blob %s/%s", container, key)
	}
	return f, nil
}

func (s *DiskStore) BlobExists(_ context.Context, container, key string) (bool, error) {
	objPath, _, err := s.blobPaths(container, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(objPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking blob: %w", err)
}

func (s *DiskStore) BlobProperties(_ context.Context, container, key string) (*models.BlobProperties, error) {
	objPath, metaPath, err := s.blobPaths(container, key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(objPath)
	if err != nil {
		return nil, notFoundf(err, "blob %s/%s", container, key)
	}
	rec, err := readRecord(metaPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if rec.Metadata == nil {
		rec.Metadata = models.Metadata{}
	}
	if rec.LastModified.IsZero() {
		rec.LastModified = info.ModTime().UTC()
	}
	return &models.BlobProperties{
		Container:    container,
		Key:          key,
		Size:         info.Size(),
		Metadata:     rec.Metadata,
		LastModified: rec.LastModified,
	}, nil
}

func (s *DiskStore) SetBlobMetadata(ctx context.Context, container, key string, md models.Metadata) error {
	props, err := s.BlobProperties(ctx, container, key)
	if err != nil {
		return err
	}
	_, metaPath, _ := s.blobPaths(container, key)
	return s.writeRecord(metaPath, diskRecord{Metadata: md.Clone(), LastModified: props.LastModified})
}

func (s *DiskStore) DeleteBlob(_ context.Context, container, key string) error {
	objPath, metaPath, err := s.blobPaths(container, key)
	if err != nil {
		return err
	}
	if err := os.Remove(objPath); err != nil {
		return notFoundf(err, "blob %s/%s", container, key)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob metadata: %w", err)
	}
	return nil
}

func (s *DiskStore) ListBlobs(ctx context.Context, container string) ([]string, error) {
	if err := s.requireContainer(ctx, container); err != nil {
		return nil, err
	}
	dir, _ := s.containerDir(container)
	entries, err := os.ReadDir(filepath.Join(dir, objectsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading objects directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DiskStore) writeRecord(path string, rec diskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return s.writeAtomic(path, bytes.NewReader(data))
}

// writeAtomic writes to a temp file first then does an atomic rename.
func (s *DiskStore) writeAtomic(finalPath string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Join(s.dataDir, "tmp"), "upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Ensure cleanup on failure.
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("streaming to file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("moving file to final path: %w", err)
	}

	success = true
	return nil
}

func readRecord(path string) (diskRecord, error) {
	var rec diskRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decoding metadata %s: %w", path, err)
	}
	if rec.Metadata == nil {
		rec.Metadata = models.Metadata{}
	}
	return rec, nil
}

// notFoundf maps a missing file onto ErrNotFound and wraps anything else.
func notFoundf(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", services.ErrNotFound, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
