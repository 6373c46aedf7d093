// Package pathcodec maps the externally visible "name|version" path syntax
// to the container and object identifiers used in storage.
package pathcodec

import (
	"fmt"
	"strings"

	"github.com/foundry/pkgfs/internal/core/services"
)

// Separator divides the package name from the version in a composite path.
// It must never appear inside a name or a version.
const Separator = "|"

// DefaultSuffix is the package file extension presented on listed names.
const DefaultSuffix = ".nupkg"

// Codec strips a fixed suffix and splits composite paths. The zero value
// uses DefaultSuffix.
type Codec struct {
	Suffix string
}

// New returns a Codec for the given suffix, or DefaultSuffix when empty.
func New(suffix string) Codec {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return Codec{Suffix: suffix}
}

func (c Codec) suffix() string {
	if c.Suffix == "" {
		return DefaultSuffix
	}
	return c.Suffix
}

// RemoveSuffix strips every trailing occurrence of the suffix.
func (c Codec) RemoveSuffix(path string) string {
	s := c.suffix()
	for strings.HasSuffix(path, s) {
		path = strings.TrimSuffix(path, s)
	}
	return path
}

// AddSuffix appends the suffix to a package name.
func (c Codec) AddSuffix(name string) string {
	return name + c.suffix()
}

// IsComposite reports whether path names a specific version.
func IsComposite(path string) bool {
	return strings.Contains(path, Separator)
}

// Compose builds the composite path for a package version.
func Compose(name, version string) string {
	return name + Separator + version
}

// Decompose splits a composite path into package name and version. Empty
// segments are discarded; fewer than two remaining segments is an error.
func Decompose(path string) (string, string, error) {
	parts := segments(path)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %q needs <name>%s<version>", services.ErrMalformedPath, path, Separator)
	}
	return parts[0], parts[1], nil
}

// PackageName returns the first non-empty segment of path.
func PackageName(path string) (string, error) {
	parts := segments(path)
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: %q has no package name", services.ErrMalformedPath, path)
	}
	return parts[0], nil
}

func segments(path string) []string {
	var out []string
	for _, p := range strings.Split(path, Separator) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
