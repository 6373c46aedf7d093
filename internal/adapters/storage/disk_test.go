package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foundry/pkgfs/internal/adapters/storage/storagetest"
	"github.com/foundry/pkgfs/internal/core/services"
)

func TestDiskStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) services.ObjectStore {
		store, err := NewDiskStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewDiskStore: %v", err)
		}
		return store
	})
}

func TestDiskStore_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	ctx := context.Background()
	if _, err := store.CreateContainer(ctx, "acme"); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if err := store.PutBlob(ctx, "acme", "1.0.0", strings.NewReader("atomic test"), 11); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	// Verify no temp files remain.
	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("reading tmp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no temp files, found %d", len(entries))
	}
}

func TestDiskStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	first.CreateContainer(ctx, "acme")
	first.PutBlob(ctx, "acme", "1.0.0", strings.NewReader("kept"), 4)

	second, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	ok, err := second.BlobExists(ctx, "acme", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("BlobExists on reopened store = %v, %v", ok, err)
	}
}

func TestDiskStore_RejectsTraversal(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	if _, err := store.CreateContainer(context.Background(), ".."); !errors.Is(err, services.ErrMalformedPath) {
		t.Errorf("expected ErrMalformedPath for '..', got %v", err)
	}
}
