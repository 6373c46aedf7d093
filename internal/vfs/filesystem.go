// Package vfs presents package containers in an object store as a flat
// file system. A package name is a container; each version is an object
// keyed by the version string. The container's "last-version" metadata is
// the only record of which version is current, so "latest" means most
// recently uploaded, not highest.
//
// Nothing here is transactional. Container creation, upload and metadata
// updates are separate backend calls and concurrent writers race on the
// pointer; the last write wins.
package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"
	"github.com/foundry/pkgfs/internal/pathcodec"
	"github.com/foundry/pkgfs/internal/util/hashing"
)

// MinTime is returned by the timestamp getters when a package or its
// timestamp field does not exist.
var MinTime = time.Time{}

// TimeFormat is the layout of timestamps written to metadata.
const TimeFormat = time.RFC3339Nano

// Options configures a FileSystem.
type Options struct {
	// Suffix is the package file extension; empty means pathcodec.DefaultSuffix.
	Suffix string
	// TrackAccess makes Open record "last-accessed" on the container. Off
	// by default; each read then costs a metadata write.
	TrackAccess bool
	Logger      zerolog.Logger
	// Now overrides the clock used for metadata timestamps.
	Now func() time.Time
}

// FileSystem implements services.FileSystem over an ObjectStore. It holds
// no state of its own and is safe for concurrent use if the store is.
type FileSystem struct {
	store       services.ObjectStore
	codec       pathcodec.Codec
	trackAccess bool
	logger      zerolog.Logger
	now         func() time.Time
}

var _ services.FileSystem = (*FileSystem)(nil)

// New creates a FileSystem backed by store.
func New(store services.ObjectStore, opts Options) *FileSystem {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &FileSystem{
		store:       store,
		codec:       pathcodec.New(opts.Suffix),
		trackAccess: opts.TrackAccess,
		logger:      opts.Logger,
		now:         now,
	}
}

// Root is always empty; every package lives at the top level.
func (fs *FileSystem) Root() string {
	return ""
}

func (fs *FileSystem) stamp() string {
	return fs.now().UTC().Format(TimeFormat)
}

// Write uploads content as name|version and makes it the latest version.
// The object is uploaded before the pointer moves, so the pointer never
// names an object that has not been written.
func (fs *FileSystem) Write(ctx context.Context, path string, r io.Reader) error {
	name, version, err := pathcodec.Decompose(fs.codec.RemoveSuffix(path))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	hw := hashing.NewWriter(&buf)
	if _, err := io.Copy(hw, r); err != nil {
		return fmt.Errorf("reading package content: %w", err)
	}

	created, err := fs.store.CreateContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("creating container %s: %w", name, err)
	}

	if err := fs.store.PutBlob(ctx, name, version, bytes.NewReader(buf.Bytes()), hw.Size()); err != nil {
		return fmt.Errorf("uploading %s: %w", pathcodec.Compose(name, version), err)
	}

	now := fs.stamp()
	blobMeta := models.Metadata{
		models.MetaLastModified: now,
		models.MetaContentHash:  hw.Hash(),
	}
	if err := fs.store.SetBlobMetadata(ctx, name, version, blobMeta); err != nil {
		return fmt.Errorf("tagging %s: %w", pathcodec.Compose(name, version), err)
	}

	updates := models.Metadata{
		models.MetaLastModified: now,
		models.MetaLastVersion:  version,
	}
	stampCreated := created
	if !created {
		props, err := fs.store.ContainerProperties(ctx, name)
		if err != nil {
			return fmt.Errorf("fetching container %s: %w", name, err)
		}
		stampCreated = props.Metadata[models.MetaCreated] == ""
	}
	if stampCreated {
		updates[models.MetaCreated] = now
	}
	if err := fs.store.UpdateContainerMetadata(ctx, name, updates); err != nil {
		return fmt.Errorf("updating latest version of %s: %w", name, err)
	}

	fs.logger.Info().
		Str("package", name).
		Str("version", version).
		Int64("size", hw.Size()).
		Str("hash", hw.Hash()).
		Bool("new_package", created).
		Msg("package version written")
	return nil
}

// resolveLatest returns the version named by the container's pointer after
// checking that the object still exists.
func (fs *FileSystem) resolveLatest(ctx context.Context, name string) (string, error) {
	props, err := fs.store.ContainerProperties(ctx, name)
	if err != nil {
		return "", fmt.Errorf("package %s: %w", name, err)
	}
	version := props.Metadata[models.MetaLastVersion]
	if version == "" {
		return "", fmt.Errorf("%w: package %s has no latest version", services.ErrNotFound, name)
	}
	ok, err := fs.store.BlobExists(ctx, name, version)
	if err != nil {
		return "", fmt.Errorf("checking %s: %w", pathcodec.Compose(name, version), err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", services.ErrStalePointer, pathcodec.Compose(name, version))
	}
	return version, nil
}

// target resolves a path to the object it addresses: the named version
// for a composite path, the latest version for a bare name.
func (fs *FileSystem) target(ctx context.Context, path string) (string, string, error) {
	path = fs.codec.RemoveSuffix(path)
	if pathcodec.IsComposite(path) {
		return pathcodec.Decompose(path)
	}
	name, err := pathcodec.PackageName(path)
	if err != nil {
		return "", "", err
	}
	version, err := fs.resolveLatest(ctx, name)
	if err != nil {
		return "", "", err
	}
	return name, version, nil
}

func (fs *FileSystem) packageName(path string) (string, error) {
	return pathcodec.PackageName(fs.codec.RemoveSuffix(path))
}

// Exists reports whether the latest version of a bare name, or the exact
// version of a composite path, is present.
func (fs *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	path = fs.codec.RemoveSuffix(path)
	if pathcodec.IsComposite(path) {
		name, version, err := pathcodec.Decompose(path)
		if err != nil {
			return false, err
		}
		return fs.store.BlobExists(ctx, name, version)
	}

	name, err := pathcodec.PackageName(path)
	if err != nil {
		return false, err
	}
	_, err = fs.resolveLatest(ctx, name)
	if errors.Is(err, services.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DirectoryExists reports whether the package container exists.
func (fs *FileSystem) DirectoryExists(ctx context.Context, path string) (bool, error) {
	name, err := fs.packageName(path)
	if err != nil {
		return false, err
	}
	return fs.store.ContainerExists(ctx, name)
}

// Open downloads the addressed version into memory and returns a reader
// positioned at its start.
func (fs *FileSystem) Open(ctx context.Context, path string) (io.ReadSeeker, error) {
	name, version, err := fs.target(ctx, path)
	if err != nil {
		return nil, err
	}

	rc, err := fs.store.GetBlob(ctx, name, version)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) && !pathcodec.IsComposite(path) {
			// Deleted between pointer check and download.
			return nil, fmt.Errorf("%w: %s", services.ErrStalePointer, pathcodec.Compose(name, version))
		}
		return nil, fmt.Errorf("opening %s: %w", pathcodec.Compose(name, version), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", pathcodec.Compose(name, version), err)
	}

	if fs.trackAccess {
		if err := fs.touchAccess(ctx, name); err != nil {
			return nil, err
		}
	}

	fs.logger.Debug().Str("package", name).Str("version", version).Int("size", len(data)).Msg("package version opened")
	return bytes.NewReader(data), nil
}

// touchAccess records the read on the container. Only last-accessed is
// written, so a concurrent Write's pointer update is never undone. A
// container removed since the download is left alone.
func (fs *FileSystem) touchAccess(ctx context.Context, name string) error {
	err := fs.store.UpdateContainerMetadata(ctx, name, models.Metadata{models.MetaLastAccessed: fs.stamp()})
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("recording access to %s: %w", name, err)
	}
	return nil
}

// Delete removes one version and drops the container once it is empty.
// The latest-version pointer is not moved; if it named the deleted
// version, reads of the bare name report ErrStalePointer until the next
// upload.
func (fs *FileSystem) Delete(ctx context.Context, path string) error {
	name, version, err := pathcodec.Decompose(fs.codec.RemoveSuffix(path))
	if err != nil {
		return err
	}

	ok, err := fs.store.ContainerExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking container %s: %w", name, err)
	}
	if !ok {
		return nil
	}

	err = fs.store.DeleteBlob(ctx, name, version)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", pathcodec.Compose(name, version), err)
	}

	keys, err := fs.store.ListBlobs(ctx, name)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing %s: %w", name, err)
	}
	if len(keys) == 0 {
		if err := fs.store.DeleteContainer(ctx, name); err != nil {
			return fmt.Errorf("deleting empty container %s: %w", name, err)
		}
		fs.logger.Info().Str("package", name).Msg("empty package container removed")
	}

	fs.logger.Info().Str("package", name).Str("version", version).Msg("package version deleted")
	return nil
}

// DeleteFiles deletes each path in order and stops at the first failure.
func (fs *FileSystem) DeleteFiles(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := fs.Delete(ctx, p); err != nil {
			return fmt.Errorf("deleting %q: %w", p, err)
		}
	}
	return nil
}

// DeleteDirectory removes the package container and every version in it.
// Deletion is always total; recursive is accepted for interface parity.
func (fs *FileSystem) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	name, err := fs.packageName(path)
	if err != nil {
		return err
	}
	if err := fs.store.DeleteContainer(ctx, name); err != nil {
		return fmt.Errorf("deleting container %s: %w", name, err)
	}
	fs.logger.Info().Str("package", name).Bool("recursive", recursive).Msg("package container deleted")
	return nil
}

// List with an empty path returns every package as "<name><suffix>". With
// a package path it returns one entry per stored version, each labeled with
// the package name rather than the version; use Versions for the keys.
func (fs *FileSystem) List(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		names, err := fs.store.ListContainers(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing containers: %w", err)
		}
		entries := make([]string, 0, len(names))
		for _, n := range names {
			entries = append(entries, fs.codec.AddSuffix(n))
		}
		return entries, nil
	}

	name, err := fs.packageName(path)
	if err != nil {
		return nil, err
	}
	keys, err := fs.store.ListBlobs(ctx, name)
	if errors.Is(err, services.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}
	entries := make([]string, len(keys))
	for i := range keys {
		entries[i] = name
	}
	return entries, nil
}

// Directories is always empty: the tree is one level deep.
func (fs *FileSystem) Directories(_ context.Context, _ string) ([]string, error) {
	return []string{}, nil
}

// Versions returns the version keys stored for a package, ordered by
// semantic version where they parse.
func (fs *FileSystem) Versions(ctx context.Context, path string) ([]string, error) {
	name, err := fs.packageName(path)
	if err != nil {
		return nil, err
	}
	keys, err := fs.store.ListBlobs(ctx, name)
	if errors.Is(err, services.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}
	SortVersions(keys)
	return keys, nil
}

// containerProps returns nil, nil for a missing container.
func (fs *FileSystem) containerProps(ctx context.Context, path string) (*models.ContainerProperties, error) {
	name, err := fs.packageName(path)
	if err != nil {
		return nil, err
	}
	props, err := fs.store.ContainerProperties(ctx, name)
	if errors.Is(err, services.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching container %s: %w", name, err)
	}
	return props, nil
}

// metaTime reads a timestamp field. A missing field is MinTime; a value
// that does not parse is ErrMetadataParse.
func metaTime(md models.Metadata, key string) (time.Time, error) {
	raw, ok := md[key]
	if !ok || raw == "" {
		return MinTime, nil
	}
	t, err := time.Parse(TimeFormat, raw)
	if err != nil {
		return MinTime, fmt.Errorf("%w: %s=%q", services.ErrMetadataParse, key, raw)
	}
	return t, nil
}

// Created returns when the package was first uploaded, or MinTime.
func (fs *FileSystem) Created(ctx context.Context, path string) (time.Time, error) {
	props, err := fs.containerProps(ctx, path)
	if err != nil || props == nil {
		return MinTime, err
	}
	return created(props), nil
}

func created(props *models.ContainerProperties) time.Time {
	t, err := metaTime(props.Metadata, models.MetaCreated)
	if err != nil {
		return MinTime
	}
	return t
}

// LastModified returns when the package last received an upload, falling
// back to the store's own modification time, or MinTime.
func (fs *FileSystem) LastModified(ctx context.Context, path string) (time.Time, error) {
	props, err := fs.containerProps(ctx, path)
	if err != nil || props == nil {
		return MinTime, err
	}
	return lastModified(props), nil
}

func lastModified(props *models.ContainerProperties) time.Time {
	t, err := metaTime(props.Metadata, models.MetaLastModified)
	if err != nil || t.IsZero() {
		return props.LastModified
	}
	return t
}

// LastAccessed returns when the package was last opened, or MinTime if it
// never was or does not exist.
func (fs *FileSystem) LastAccessed(ctx context.Context, path string) (time.Time, error) {
	props, err := fs.containerProps(ctx, path)
	if err != nil || props == nil {
		return MinTime, err
	}
	return metaTime(props.Metadata, models.MetaLastAccessed)
}

// FullPath returns the composite path of the addressed version.
func (fs *FileSystem) FullPath(ctx context.Context, path string) (string, error) {
	name, version, err := fs.target(ctx, path)
	if err != nil {
		return "", err
	}
	if pathcodec.IsComposite(fs.codec.RemoveSuffix(path)) {
		ok, err := fs.store.BlobExists(ctx, name, version)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", services.ErrNotFound, pathcodec.Compose(name, version))
		}
	}
	return pathcodec.Compose(name, version), nil
}

// Stat gathers the package's pointer, version count and timestamps.
func (fs *FileSystem) Stat(ctx context.Context, path string) (*models.PackageStat, error) {
	name, err := fs.packageName(path)
	if err != nil {
		return nil, err
	}
	stat := &models.PackageStat{Name: name, Created: MinTime, LastModified: MinTime, LastAccessed: MinTime}

	props, err := fs.containerProps(ctx, name)
	if err != nil {
		return nil, err
	}
	if props == nil {
		return stat, nil
	}

	stat.Created = created(props)
	stat.LastModified = lastModified(props)
	if stat.LastAccessed, err = metaTime(props.Metadata, models.MetaLastAccessed); err != nil {
		return nil, err
	}

	versions, err := fs.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	stat.Versions = len(versions)

	version, err := fs.resolveLatest(ctx, name)
	switch {
	case err == nil:
		stat.Exists = true
		stat.LatestVersion = version
		stat.FullPath = pathcodec.Compose(name, version)
	case !errors.Is(err, services.ErrNotFound):
		return nil, err
	}
	return stat, nil
}

// MakeWritable is a no-op; objects carry no write-protection bit.
func (fs *FileSystem) MakeWritable(_ context.Context, _ string) error {
	return nil
}

// CreateFile is unsupported: uploads go through Write, which tags the
// version as latest.
func (fs *FileSystem) CreateFile(_ context.Context, path string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("%w: create file %q", services.ErrUnsupported, path)
}

// AddFiles is unsupported.
func (fs *FileSystem) AddFiles(_ context.Context, paths []string, _ string) error {
	return fmt.Errorf("%w: add %d files", services.ErrUnsupported, len(paths))
}

// Move is unsupported; the store has no atomic rename.
func (fs *FileSystem) Move(_ context.Context, source, destination string) error {
	return fmt.Errorf("%w: move %q to %q", services.ErrUnsupported, source, destination)
}
