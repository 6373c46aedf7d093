package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Storage backends selectable through the connection string.
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// ConnectionString is a parsed "key=value;key=value" storage locator.
// Keys are lower-cased; values are kept verbatim.
type ConnectionString struct {
	Backend string
	values  map[string]string
}

// ParseConnectionString parses s and checks the keys its backend requires.
func ParseConnectionString(s string) (ConnectionString, error) {
	cs := ConnectionString{values: make(map[string]string)}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("connection string: %q is not key=value", part)
		}
		cs.values[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	cs.Backend = strings.ToLower(cs.values["backend"])
	var required []string
	switch cs.Backend {
	case BackendMemory:
	case BackendDisk, BackendSQLite:
		required = []string{"path"}
	case BackendS3:
		required = []string{"bucket", "region"}
	case "":
		return ConnectionString{}, fmt.Errorf("connection string: backend is required")
	default:
		return ConnectionString{}, fmt.Errorf("connection string: unknown backend %q", cs.Backend)
	}
	for _, k := range required {
		if cs.values[k] == "" {
			return ConnectionString{}, fmt.Errorf("connection string: %s backend requires %s", cs.Backend, k)
		}
	}
	return cs, nil
}

// Get returns the value for key, or "" if absent.
func (cs ConnectionString) Get(key string) string {
	return cs.values[strings.ToLower(key)]
}

// Bool returns the value for key as a bool, false when absent or invalid.
func (cs ConnectionString) Bool(key string) bool {
	b, _ := strconv.ParseBool(cs.Get(key))
	return b
}
