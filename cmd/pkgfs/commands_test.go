package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/foundry/pkgfs/internal/adapters/auth"
	"github.com/foundry/pkgfs/internal/adapters/storage"
	"github.com/foundry/pkgfs/internal/api/handlers"
	"github.com/foundry/pkgfs/internal/vfs"
)

func startServer(t *testing.T) string {
	t.Helper()
	fs := vfs.New(storage.NewMemoryStore(), vfs.Options{Logger: zerolog.Nop()})
	h := handlers.New(fs, auth.NewTokenAuth([]string{"cli-token"}), zerolog.Nop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--server", server, "--token", "cli-token"}, args...))
	err := root.Execute()
	return stdout.String(), err
}

func TestPushPullRoundTrip(t *testing.T) {
	server := startServer(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.nupkg")
	if err := os.WriteFile(src, []byte("package-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, server, "push", "acme.widgets", "1.0.0", src)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(out, "Pushed acme.widgets|1.0.0") {
		t.Errorf("push output = %q", out)
	}

	dst := filepath.Join(dir, "out", "pulled.nupkg")
	out, err = runCLI(t, server, "pull", "acme.widgets", "-o", dst)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !strings.Contains(out, "acme.widgets|1.0.0") {
		t.Errorf("pull output = %q", out)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading pulled file: %v", err)
	}
	if string(data) != "package-bytes" {
		t.Errorf("pulled content = %q", data)
	}
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestPullMissingFails(t *testing.T) {
	server := startServer(t)
	if _, err := runCLI(t, server, "pull", "nothing", "-o", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatal("expected error for missing package")
	}
}

func TestVersionsAndInfo(t *testing.T) {
	server := startServer(t)
	src := filepath.Join(t.TempDir(), "p")
	os.WriteFile(src, []byte("x"), 0o644)

	for _, v := range []string{"2.0.0", "1.0.0"} {
		if _, err := runCLI(t, server, "push", "pkg", v, src); err != nil {
			t.Fatalf("push %s: %v", v, err)
		}
	}

	out, err := runCLI(t, server, "versions", "pkg")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if out != "1.0.0\n2.0.0\n" {
		t.Errorf("versions output = %q", out)
	}

	out, err = runCLI(t, server, "info", "pkg")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, "Latest:        1.0.0") || !strings.Contains(out, "Last accessed: never") {
		t.Errorf("info output = %q", out)
	}
}

func TestDeleteAndRmdir(t *testing.T) {
	server := startServer(t)
	src := filepath.Join(t.TempDir(), "p")
	os.WriteFile(src, []byte("x"), 0o644)
	runCLI(t, server, "push", "pkg", "1.0.0", src)
	runCLI(t, server, "push", "pkg", "1.1.0", src)

	if _, err := runCLI(t, server, "delete", "pkg", "1.1.0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := runCLI(t, server, "exists", "pkg"); err == nil {
		t.Error("exists should fail once the latest version is deleted")
	}
	if _, err := runCLI(t, server, "exists", "pkg|1.0.0"); err != nil {
		t.Errorf("exists pkg|1.0.0: %v", err)
	}

	if _, err := runCLI(t, server, "rmdir", "pkg"); err != nil {
		t.Fatalf("rmdir: %v", err)
	}
	out, err := runCLI(t, server, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No packages found.") {
		t.Errorf("list output = %q", out)
	}
}

func TestTokenRequired(t *testing.T) {
	t.Setenv(tokenEnv, "")
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"list"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), tokenEnv) {
		t.Errorf("err = %v, want missing token error", err)
	}
}
