package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/foundry/pkgfs/internal/adapters/auth"
	"github.com/foundry/pkgfs/internal/adapters/storage"
	"github.com/foundry/pkgfs/internal/api/handlers"
	"github.com/foundry/pkgfs/internal/vfs"
)

func setupServer(t *testing.T) *Client {
	t.Helper()
	fs := vfs.New(storage.NewMemoryStore(), vfs.Options{Logger: zerolog.Nop()})
	h := handlers.New(fs, auth.NewTokenAuth([]string{"test-token"}), zerolog.Nop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "test-token")
}

func push(t *testing.T, c *Client, name, version, content string) {
	t.Helper()
	if _, err := c.Push(context.Background(), name, version, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Push %s %s: %v", name, version, err)
	}
}

func TestPushPull(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()

	resp, err := c.Push(ctx, "Acme.Widgets", "1.0.0", strings.NewReader("AAA"), 3)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if resp.Path != "Acme.Widgets|1.0.0" || resp.Size != 3 {
		t.Errorf("Push response = %+v", resp)
	}

	dl, err := c.Pull(ctx, "Acme.Widgets")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	defer dl.Body.Close()
	data, _ := io.ReadAll(dl.Body)
	if string(data) != "AAA" {
		t.Errorf("body = %q", data)
	}
	if dl.FullPath != "Acme.Widgets|1.0.0" || dl.Size != 3 {
		t.Errorf("download = %+v", dl)
	}
}

func TestPullMissing(t *testing.T) {
	c := setupServer(t)

	_, err := c.Pull(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestExists(t *testing.T) {
	c := setupServer(t)
	push(t, c, "pkg", "1.0.0", "x")

	for path, want := range map[string]bool{"pkg": true, "pkg|1.0.0": true, "pkg|2.0.0": false, "nope": false} {
		got, err := c.Exists(context.Background(), path)
		if err != nil {
			t.Fatalf("Exists(%q): %v", path, err)
		}
		if got != want {
			t.Errorf("Exists(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestListVersionsInfo(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()
	push(t, c, "pkg", "1.10.0", "b")
	push(t, c, "pkg", "1.9.0", "a")
	push(t, c, "other", "0.1.0", "c")

	all, err := c.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(all.Entries, ",") != "other.nupkg,pkg.nupkg" {
		t.Errorf("List = %v", all.Entries)
	}

	entries, err := c.List(ctx, "pkg")
	if err != nil || len(entries.Entries) != 2 {
		t.Errorf("List(pkg) = %v, %v", entries, err)
	}

	versions, err := c.Versions(ctx, "pkg")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if strings.Join(versions.Versions, ",") != "1.9.0,1.10.0" {
		t.Errorf("Versions = %v", versions.Versions)
	}

	info, err := c.Info(ctx, "pkg")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.LatestVersion != "1.9.0" || info.Versions != 2 {
		t.Errorf("Info = %+v", info)
	}
}

func TestDelete(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()
	push(t, c, "pkg", "1.0.0", "a")
	push(t, c, "pkg", "2.0.0", "b")

	if err := c.Delete(ctx, "pkg", "2.0.0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Pull(ctx, "pkg"); !IsNotFound(err) {
		t.Errorf("Pull after deleting latest err = %v, want not found", err)
	}

	if err := c.DeleteDirectory(ctx, "pkg"); err != nil {
		t.Fatalf("DeleteDirectory: %v", err)
	}
	if _, err := c.Info(ctx, "pkg"); !IsNotFound(err) {
		t.Errorf("Info after rmdir err = %v, want not found", err)
	}
}

func TestBadToken(t *testing.T) {
	c := setupServer(t)
	c.Token = "wrong"

	_, err := c.List(context.Background(), "")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid token" {
		t.Errorf("err = %v, want 401 invalid token", err)
	}
}
