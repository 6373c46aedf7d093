package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"
)

// MemoryStore keeps containers and objects in process memory. It is
// intended mainly for testing and for throwaway servers.
type MemoryStore struct {
	mu         sync.RWMutex
	containers map[string]*memContainer
}

type memContainer struct {
	metadata models.Metadata
	modified time.Time
	blobs    map[string]*memBlob
}

type memBlob struct {
	data     []byte
	metadata models.Metadata
	modified time.Time
}

var _ services.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{containers: make(map[string]*memContainer)}
}

func (s *MemoryStore) CreateContainer(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[name]; ok {
		return false, nil
	}
	s.containers[name] = &memContainer{
		metadata: models.Metadata{},
		modified: time.Now().UTC(),
		blobs:    make(map[string]*memBlob),
	}
	return true, nil
}

func (s *MemoryStore) ContainerExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.containers[name]
	return ok, nil
}

func (s *MemoryStore) ContainerProperties(_ context.Context, name string) (*models.ContainerProperties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	return &models.ContainerProperties{
		Name:         name,
		Metadata:     c.metadata.Clone(),
		LastModified: c.modified,
	}, nil
}

func (s *MemoryStore) SetContainerMetadata(_ context.Context, name string, md models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[name]
	if !ok {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	c.metadata = md.Clone()
	c.modified = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateContainerMetadata(_ context.Context, name string, updates models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[name]
	if !ok {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	md := c.metadata.Clone()
	for k, v := range updates {
		md[k] = v
	}
	c.metadata = md
	c.modified = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteContainer(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.containers, name)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListContainers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.containers))
	for name := range s.containers {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) PutBlob(_ context.Context, container, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading blob content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[container]
	if !ok {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, container)
	}
	c.blobs[key] = &memBlob{
		data:     data,
		metadata: models.Metadata{},
		modified: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) blob(container, key string) (*memBlob, error) {
	c, ok := s.containers[container]
	if !ok {
		return nil, fmt.Errorf("%w: container %s", services.ErrNotFound, container)
	}
	b, ok := c.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	return b, nil
}

func (s *MemoryStore) GetBlob(_ context.Context, container, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.blob(container, key)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) BlobExists(_ context.Context, container, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.blob(container, key)
	return err == nil, nil
}

func (s *MemoryStore) BlobProperties(_ context.Context, container, key string) (*models.BlobProperties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.blob(container, key)
	if err != nil {
		return nil, err
	}
	return &models.BlobProperties{
		Container:    container,
		Key:          key,
		Size:         int64(len(b.data)),
		Metadata:     b.metadata.Clone(),
		LastModified: b.modified,
	}, nil
}

func (s *MemoryStore) SetBlobMetadata(_ context.Context, container, key string, md models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.blob(container, key)
	if err != nil {
		return err
	}
	b.metadata = md.Clone()
	return nil
}

func (s *MemoryStore) DeleteBlob(_ context.Context, container, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.blob(container, key); err != nil {
		return err
	}
	delete(s.containers[container].blobs, key)
	return nil
}

func (s *MemoryStore) ListBlobs(_ context.Context, container string) ([]string, error) {
	s.mu.RLock()
	c, ok := s.containers[container]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: container %s", services.ErrNotFound, container)
	}
	keys := make([]string, 0, len(c.blobs))
	for k := range c.blobs {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
