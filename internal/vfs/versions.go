package vfs

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SortVersions orders version keys in place. Keys that parse as semantic
// versions sort first by precedence; the rest follow in lexical order.
// Equal precedence ("1.0" and "1.0.0") falls back to lexical order so the
// result is deterministic.
func SortVersions(keys []string) {
	parsed := make(map[string]*semver.Version, len(keys))
	for _, k := range keys {
		if v, err := semver.NewVersion(k); err == nil {
			parsed[k] = v
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := parsed[keys[i]], parsed[keys[j]]
		switch {
		case a != nil && b != nil:
			if c := a.Compare(b); c != 0 {
				return c < 0
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return keys[i] < keys[j]
	})
}
