package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a requested container or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformedPath indicates a path is missing its name or version segment.
	ErrMalformedPath = errors.New("malformed path")
	// ErrUnsupported indicates an operation the file system deliberately does not implement.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrBackendUnavailable indicates the object store could not be reached or refused the credentials.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrMetadataParse indicates a metadata field holds a value that is not a timestamp.
	ErrMetadataParse = errors.New("metadata parse error")
	// ErrStalePointer indicates the latest-version pointer names an object that no longer exists.
	// It matches ErrNotFound under errors.Is.
	ErrStalePointer = fmt.Errorf("%w: stale latest-version pointer", ErrNotFound)
)
