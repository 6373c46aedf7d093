package models

import "time"

// Container metadata keys maintained by the file system.
const (
	MetaCreated      = "created"
	MetaLastModified = "last-modified"
	MetaLastVersion  = "last-version"
	MetaLastAccessed = "last-accessed"
	MetaContentHash  = "content-sha256"
)

// Metadata is the string key/value set attached to a container or object.
type Metadata map[string]string

// Clone returns a copy that can be modified without affecting m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ContainerProperties describes a container as reported by the object store.
type ContainerProperties struct {
	Name         string
	Metadata     Metadata
	LastModified time.Time
}

// BlobProperties describes one object inside a container.
type BlobProperties struct {
	Container    string
	Key          string
	Size         int64
	Metadata     Metadata
	LastModified time.Time
}

// PackageStat summarizes a package container for the info endpoint.
type PackageStat struct {
	Name          string    `json:"name"`
	Exists        bool      `json:"exists"`
	LatestVersion string    `json:"latest_version,omitempty"`
	FullPath      string    `json:"full_path,omitempty"`
	Versions      int       `json:"versions"`
	Created       time.Time `json:"created"`
	LastModified  time.Time `json:"last_modified"`
	LastAccessed  time.Time `json:"last_accessed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type WriteResponse struct {
	Path    string `json:"path"`
	Package string `json:"package"`
	Version string `json:"version"`
	Size    int64  `json:"size"`
}

type ListResponse struct {
	Path    string   `json:"path"`
	Entries []string `json:"entries"`
}

type VersionsResponse struct {
	Package  string   `json:"package"`
	Versions []string `json:"versions"`
}

type MoveRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}
