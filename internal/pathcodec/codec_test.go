package pathcodec

import (
	"errors"
	"testing"

	"github.com/foundry/pkgfs/internal/core/services"
)

func TestRemoveSuffix(t *testing.T) {
	c := New("")
	tests := []struct {
		in   string
		want string
	}{
		{"acme.widgets.nupkg", "acme.widgets"},
		{"acme.widgets", "acme.widgets"},
		{"acme.widgets.nupkg.nupkg", "acme.widgets"},
		{"acme|1.0.0.nupkg", "acme|1.0.0"},
		{"", ""},
	}

	for _, tt := range tests {
		got := c.RemoveSuffix(tt.in)
		if got != tt.want {
			t.Errorf("RemoveSuffix(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := c.RemoveSuffix(got); again != got {
			t.Errorf("RemoveSuffix not idempotent for %q: %q then %q", tt.in, got, again)
		}
	}
}

func TestCustomSuffix(t *testing.T) {
	c := New(".tgz")
	if got := c.RemoveSuffix("left-pad.tgz"); got != "left-pad" {
		t.Errorf("RemoveSuffix = %q, want %q", got, "left-pad")
	}
	if got := c.AddSuffix("left-pad"); got != "left-pad.tgz" {
		t.Errorf("AddSuffix = %q, want %q", got, "left-pad.tgz")
	}
	if got := (Codec{}).AddSuffix("x"); got != "x"+DefaultSuffix {
		t.Errorf("zero Codec AddSuffix = %q", got)
	}
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		wantName    string
		wantVersion string
		wantErr     bool
	}{
		{name: "simple", path: "acme.widgets|1.0.0", wantName: "acme.widgets", wantVersion: "1.0.0"},
		{name: "leading separator", path: "|acme|2.0", wantName: "acme", wantVersion: "2.0"},
		{name: "doubled separator", path: "acme||2.0", wantName: "acme", wantVersion: "2.0"},
		{name: "extra segment ignored", path: "acme|2.0|x", wantName: "acme", wantVersion: "2.0"},
		{name: "no separator", path: "noSeparatorHere", wantErr: true},
		{name: "missing version", path: "acme|", wantErr: true},
		{name: "empty", path: "", wantErr: true},
		{name: "only separators", path: "||", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, version, err := Decompose(tt.path)
			if tt.wantErr {
				if !errors.Is(err, services.ErrMalformedPath) {
					t.Fatalf("expected ErrMalformedPath, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.wantName || version != tt.wantVersion {
				t.Errorf("Decompose(%q) = (%q, %q), want (%q, %q)", tt.path, name, version, tt.wantName, tt.wantVersion)
			}
		})
	}
}

func TestComposeDecomposeInverse(t *testing.T) {
	pairs := [][2]string{
		{"acme.widgets", "1.0.0"},
		{"Newtonsoft.Json", "13.0.3-beta1"},
		{"a", "b"},
	}
	for _, p := range pairs {
		name, version, err := Decompose(Compose(p[0], p[1]))
		if err != nil {
			t.Fatalf("Decompose(Compose(%q, %q)): %v", p[0], p[1], err)
		}
		if name != p[0] || version != p[1] {
			t.Errorf("round trip = (%q, %q), want (%q, %q)", name, version, p[0], p[1])
		}
	}
}

func TestPackageName(t *testing.T) {
	if got, err := PackageName("acme"); err != nil || got != "acme" {
		t.Errorf("PackageName(acme) = %q, %v", got, err)
	}
	if got, err := PackageName("acme|1.0"); err != nil || got != "acme" {
		t.Errorf("PackageName(acme|1.0) = %q, %v", got, err)
	}
	if _, err := PackageName("|"); !errors.Is(err, services.ErrMalformedPath) {
		t.Errorf("PackageName(|): expected ErrMalformedPath, got %v", err)
	}
}

func TestIsComposite(t *testing.T) {
	if !IsComposite("a|b") {
		t.Error("a|b should be composite")
	}
	if IsComposite("acme.widgets") {
		t.Error("bare name should not be composite")
	}
}
