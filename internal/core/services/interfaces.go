package services

import (
	"context"
	"io"
	"time"

	"github.com/foundry/pkgfs/internal/core/models"
)

// ObjectStore is the container/object backend the file system is built on.
// Containers and objects live in two flat namespaces. Set replaces metadata
// wholesale; UpdateContainerMetadata merges individual keys.
type ObjectStore interface {
	// CreateContainer creates the container if it is absent and reports
	// whether this call created it.
	CreateContainer(ctx context.Context, name string) (bool, error)

	// ContainerExists reports whether the container exists.
	ContainerExists(ctx context.Context, name string) (bool, error)

	// ContainerProperties returns metadata and the backend-tracked
	// modification time. Returns ErrNotFound if the container is absent.
	ContainerProperties(ctx context.Context, name string) (*models.ContainerProperties, error)

	// SetContainerMetadata replaces the container's metadata.
	SetContainerMetadata(ctx context.Context, name string, md models.Metadata) error

	// UpdateContainerMetadata merges updates into the container's metadata,
	// leaving keys it does not name untouched. Concurrent updates within one
	// process never lose each other's keys.
	UpdateContainerMetadata(ctx context.Context, name string, updates models.Metadata) error

	// DeleteContainer removes the container and every object in it.
	// Deleting an absent container is not an error.
	DeleteContainer(ctx context.Context, name string) error

	// ListContainers returns the names of all containers.
	ListContainers(ctx context.Context) ([]string, error)

	// PutBlob uploads r as the object key, replacing any existing object.
	PutBlob(ctx context.Context, container, key string, r io.Reader, size int64) error

	// GetBlob opens the object for reading. Returns ErrNotFound if the
	// container or object is absent.
	GetBlob(ctx context.Context, container, key string) (io.ReadCloser, error)

	// BlobExists reports whether the object exists.
	BlobExists(ctx context.Context, container, key string) (bool, error)

	// BlobProperties returns the object's size, metadata and modification time.
	BlobProperties(ctx context.Context, container, key string) (*models.BlobProperties, error)

	// SetBlobMetadata replaces the object's metadata.
	SetBlobMetadata(ctx context.Context, container, key string, md models.Metadata) error

	// DeleteBlob removes the object. Returns ErrNotFound if it is absent.
	DeleteBlob(ctx context.Context, container, key string) error

	// ListBlobs returns the object keys in the container.
	ListBlobs(ctx context.Context, container string) ([]string, error)
}

// FileSystem is the virtual file-system contract a package repository
// consumes. Paths are either a bare package name or "name|version".
type FileSystem interface {
	Root() string

	Write(ctx context.Context, path string, r io.Reader) error
	Open(ctx context.Context, path string) (io.ReadSeeker, error)
	Exists(ctx context.Context, path string) (bool, error)
	DirectoryExists(ctx context.Context, path string) (bool, error)

	Delete(ctx context.Context, path string) error
	DeleteFiles(ctx context.Context, paths []string) error
	DeleteDirectory(ctx context.Context, path string, recursive bool) error

	List(ctx context.Context, path string) ([]string, error)
	Directories(ctx context.Context, path string) ([]string, error)
	Versions(ctx context.Context, path string) ([]string, error)

	Created(ctx context.Context, path string) (time.Time, error)
	LastModified(ctx context.Context, path string) (time.Time, error)
	LastAccessed(ctx context.Context, path string) (time.Time, error)
	FullPath(ctx context.Context, path string) (string, error)
	Stat(ctx context.Context, path string) (*models.PackageStat, error)

	MakeWritable(ctx context.Context, path string) error

	// CreateFile, AddFiles and Move always return ErrUnsupported.
	CreateFile(ctx context.Context, path string) (io.WriteCloser, error)
	AddFiles(ctx context.Context, paths []string, rootDir string) error
	Move(ctx context.Context, source, destination string) error
}

// Authenticator validates request tokens.
type Authenticator interface {
	// ValidateToken checks if a token is valid.
	ValidateToken(token string) bool
}
