package vfs

import (
	"strings"
	"testing"
)

func TestSortVersions(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"semver", []string{"1.10.0", "1.9.0", "1.2.3"}, "1.2.3,1.9.0,1.10.0"},
		{"prerelease first", []string{"1.0.0", "1.0.0-alpha", "1.0.0-beta"}, "1.0.0-alpha,1.0.0-beta,1.0.0"},
		{"unparseable last", []string{"nightly", "2.0.0", "latest", "1.0.0"}, "1.0.0,2.0.0,latest,nightly"},
		{"equal precedence", []string{"1.0.0", "1.0"}, "1.0,1.0.0"},
		{"empty", []string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := append([]string(nil), tt.in...)
			SortVersions(keys)
			if got := strings.Join(keys, ","); got != tt.want {
				t.Errorf("SortVersions(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
