// Package storagetest provides a conformance suite for anything
// implementing services.ObjectStore.
package storagetest

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"
)

// Run exercises every ObjectStore operation against stores produced by
// newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) services.ObjectStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s services.ObjectStore)
	}{
		{"CreateContainer", testCreateContainer},
		{"ContainerMetadata", testContainerMetadata},
		{"UpdateContainerMetadata", testUpdateContainerMetadata},
		{"ConcurrentMetadataUpdates", testConcurrentMetadataUpdates},
		{"MissingContainer", testMissingContainer},
		{"BlobRoundTrip", testBlobRoundTrip},
		{"BlobOverwrite", testBlobOverwrite},
		{"BlobMetadata", testBlobMetadata},
		{"DeleteBlob", testDeleteBlob},
		{"ListBlobs", testListBlobs},
		{"ListContainers", testListContainers},
		{"DeleteContainer", testDeleteContainer},
		{"UnusualNames", testUnusualNames},
		{"DotKeys", testDotKeys},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustCreate(t *testing.T, s services.ObjectStore, name string) {
	t.Helper()
	if _, err := s.CreateContainer(context.Background(), name); err != nil {
		t.Fatalf("CreateContainer(%s): %v", name, err)
	}
}

func mustPut(t *testing.T, s services.ObjectStore, container, key, content string) {
	t.Helper()
	err := s.PutBlob(context.Background(), container, key, strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("PutBlob(%s/%s): %v", container, key, err)
	}
}

func mustRead(t *testing.T, s services.ObjectStore, container, key string) string {
	t.Helper()
	rc, err := s.GetBlob(context.Background(), container, key)
	if err != nil {
		t.Fatalf("GetBlob(%s/%s): %v", container, key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	return string(data)
}

func testCreateContainer(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()

	ok, err := s.ContainerExists(ctx, "acme")
	if err != nil || ok {
		t.Fatalf("ContainerExists before create = %v, %v", ok, err)
	}

	created, err := s.CreateContainer(ctx, "acme")
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if !created {
		t.Error("first CreateContainer should report created")
	}

	created, err = s.CreateContainer(ctx, "acme")
	if err != nil {
		t.Fatalf("second CreateContainer: %v", err)
	}
	if created {
		t.Error("second CreateContainer should not report created")
	}

	ok, err = s.ContainerExists(ctx, "acme")
	if err != nil || !ok {
		t.Fatalf("ContainerExists after create = %v, %v", ok, err)
	}
}

func testContainerMetadata(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")

	props, err := s.ContainerProperties(ctx, "acme")
	if err != nil {
		t.Fatalf("ContainerProperties: %v", err)
	}
	if len(props.Metadata) != 0 {
		t.Errorf("new container metadata = %v, want empty", props.Metadata)
	}
	if props.LastModified.IsZero() {
		t.Error("expected non-zero LastModified")
	}

	md := models.Metadata{models.MetaLastVersion: "1.0.0", models.MetaCreated: "2024-01-01T00:00:00Z"}
	if err := s.SetContainerMetadata(ctx, "acme", md); err != nil {
		t.Fatalf("SetContainerMetadata: %v", err)
	}
	props, err = s.ContainerProperties(ctx, "acme")
	if err != nil {
		t.Fatalf("ContainerProperties: %v", err)
	}
	if !reflect.DeepEqual(props.Metadata, md) {
		t.Errorf("metadata = %v, want %v", props.Metadata, md)
	}

	// Set replaces rather than merges.
	if err := s.SetContainerMetadata(ctx, "acme", models.Metadata{models.MetaLastVersion: "2.0.0"}); err != nil {
		t.Fatalf("SetContainerMetadata: %v", err)
	}
	props, _ = s.ContainerProperties(ctx, "acme")
	if _, ok := props.Metadata[models.MetaCreated]; ok {
		t.Error("metadata set should replace previous keys")
	}
	if props.Metadata[models.MetaLastVersion] != "2.0.0" {
		t.Errorf("last-version = %q, want 2.0.0", props.Metadata[models.MetaLastVersion])
	}
}

func testUpdateContainerMetadata(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")

	md := models.Metadata{models.MetaLastVersion: "1.0.0", models.MetaCreated: "2024-01-01T00:00:00Z"}
	if err := s.SetContainerMetadata(ctx, "acme", md); err != nil {
		t.Fatalf("SetContainerMetadata: %v", err)
	}
	err := s.UpdateContainerMetadata(ctx, "acme", models.Metadata{
		models.MetaLastVersion:  "1.1.0",
		models.MetaLastAccessed: "2024-02-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("UpdateContainerMetadata: %v", err)
	}

	props, err := s.ContainerProperties(ctx, "acme")
	if err != nil {
		t.Fatalf("ContainerProperties: %v", err)
	}
	want := models.Metadata{
		models.MetaLastVersion:  "1.1.0",
		models.MetaCreated:      "2024-01-01T00:00:00Z",
		models.MetaLastAccessed: "2024-02-01T00:00:00Z",
	}
	if !reflect.DeepEqual(props.Metadata, want) {
		t.Errorf("metadata = %v, want %v", props.Metadata, want)
	}
}

func testConcurrentMetadataUpdates(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "k" + string(rune('a'+i))
			errs <- s.UpdateContainerMetadata(ctx, "acme", models.Metadata{key: "v"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("UpdateContainerMetadata: %v", err)
		}
	}

	props, err := s.ContainerProperties(ctx, "acme")
	if err != nil {
		t.Fatalf("ContainerProperties: %v", err)
	}
	if len(props.Metadata) != writers {
		t.Errorf("metadata = %v, want %d keys", props.Metadata, writers)
	}
}

func testMissingContainer(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()

	if _, err := s.ContainerProperties(ctx, "ghost"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("ContainerProperties: expected ErrNotFound, got %v", err)
	}
	if err := s.SetContainerMetadata(ctx, "ghost", models.Metadata{}); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("SetContainerMetadata: expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateContainerMetadata(ctx, "ghost", models.Metadata{models.MetaLastAccessed: "x"}); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("UpdateContainerMetadata: expected ErrNotFound, got %v", err)
	}
	if ok, _ := s.ContainerExists(ctx, "ghost"); ok {
		t.Error("UpdateContainerMetadata must not create the container")
	}
	if err := s.PutBlob(ctx, "ghost", "1.0", strings.NewReader("x"), 1); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("PutBlob: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetBlob(ctx, "ghost", "1.0"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("GetBlob: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ListBlobs(ctx, "ghost"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("ListBlobs: expected ErrNotFound, got %v", err)
	}
	ok, err := s.BlobExists(ctx, "ghost", "1.0")
	if err != nil || ok {
		t.Errorf("BlobExists = %v, %v; want false, nil", ok, err)
	}
}

func testBlobRoundTrip(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")
	mustPut(t, s, "acme", "1.0.0", "hello world")

	if got := mustRead(t, s, "acme", "1.0.0"); got != "hello world" {
		t.Errorf("content = %q, want %q", got, "hello world")
	}

	ok, err := s.BlobExists(ctx, "acme", "1.0.0")
	if err != nil || !ok {
		t.Errorf("BlobExists = %v, %v", ok, err)
	}
	ok, err = s.BlobExists(ctx, "acme", "9.9.9")
	if err != nil || ok {
		t.Errorf("BlobExists(missing) = %v, %v", ok, err)
	}

	props, err := s.BlobProperties(ctx, "acme", "1.0.0")
	if err != nil {
		t.Fatalf("BlobProperties: %v", err)
	}
	if props.Size != int64(len("hello world")) {
		t.Errorf("size = %d, want %d", props.Size, len("hello world"))
	}

	mustPut(t, s, "acme", "empty", "")
	if got := mustRead(t, s, "acme", "empty"); got != "" {
		t.Errorf("empty blob content = %q", got)
	}
}

func testBlobOverwrite(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")
	mustPut(t, s, "acme", "1.0.0", "first version of the content")
	if err := s.SetBlobMetadata(ctx, "acme", "1.0.0", models.Metadata{"k": "v"}); err != nil {
		t.Fatalf("SetBlobMetadata: %v", err)
	}
	mustPut(t, s, "acme", "1.0.0", "second")

	if got := mustRead(t, s, "acme", "1.0.0"); got != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}
	props, err := s.BlobProperties(ctx, "acme", "1.0.0")
	if err != nil {
		t.Fatalf("BlobProperties: %v", err)
	}
	if len(props.Metadata) != 0 {
		t.Errorf("overwrite should reset metadata, got %v", props.Metadata)
	}
}

func testBlobMetadata(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")
	mustPut(t, s, "acme", "1.0.0", "data")

	md := models.Metadata{models.MetaLastModified: "2024-01-01T00:00:00Z", models.MetaContentHash: "abc"}
	if err := s.SetBlobMetadata(ctx, "acme", "1.0.0", md); err != nil {
		t.Fatalf("SetBlobMetadata: %v", err)
	}
	props, err := s.BlobProperties(ctx, "acme", "1.0.0")
	if err != nil {
		t.Fatalf("BlobProperties: %v", err)
	}
	if !reflect.DeepEqual(props.Metadata, md) {
		t.Errorf("metadata = %v, want %v", props.Metadata, md)
	}
	if got := mustRead(t, s, "acme", "1.0.0"); got != "data" {
		t.Errorf("content changed by metadata update: %q", got)
	}

	if err := s.SetBlobMetadata(ctx, "acme", "missing", md); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("SetBlobMetadata(missing): expected ErrNotFound, got %v", err)
	}
	if _, err := s.BlobProperties(ctx, "acme", "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("BlobProperties(missing): expected ErrNotFound, got %v", err)
	}
}

func testDeleteBlob(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")
	mustPut(t, s, "acme", "1.0.0", "data")

	if err := s.DeleteBlob(ctx, "acme", "1.0.0"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	ok, err := s.BlobExists(ctx, "acme", "1.0.0")
	if err != nil || ok {
		t.Errorf("BlobExists after delete = %v, %v", ok, err)
	}
	if err := s.DeleteBlob(ctx, "acme", "1.0.0"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("second DeleteBlob: expected ErrNotFound, got %v", err)
	}

	ok, err = s.ContainerExists(ctx, "acme")
	if err != nil || !ok {
		t.Errorf("container should survive blob delete: %v, %v", ok, err)
	}
}

func testListBlobs(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")

	keys, err := s.ListBlobs(ctx, "acme")
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("new container keys = %v", keys)
	}

	mustPut(t, s, "acme", "2.0.0", "b")
	mustPut(t, s, "acme", "1.0.0", "a")
	mustCreate(t, s, "other")
	mustPut(t, s, "other", "9.0.0", "c")

	keys, err = s.ListBlobs(ctx, "acme")
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if want := []string{"1.0.0", "2.0.0"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func testListContainers(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()

	names, err := s.ListContainers(ctx)
	if err != nil {
		t.Fatalf("ListContainers: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("empty store containers = %v", names)
	}

	mustCreate(t, s, "beta")
	mustCreate(t, s, "alpha")
	mustPut(t, s, "alpha", "1.0", "x")

	names, err = s.ListContainers(ctx)
	if err != nil {
		t.Fatalf("ListContainers: %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(names, want) {
		t.Errorf("containers = %v, want %v", names, want)
	}
}

func testDeleteContainer(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")
	mustPut(t, s, "acme", "1.0.0", "a")
	mustPut(t, s, "acme", "2.0.0", "b")
	mustCreate(t, s, "keep")

	if err := s.DeleteContainer(ctx, "acme"); err != nil {
		t.Fatalf("DeleteContainer: %v", err)
	}
	ok, err := s.ContainerExists(ctx, "acme")
	if err != nil || ok {
		t.Errorf("ContainerExists after delete = %v, %v", ok, err)
	}
	ok, err = s.BlobExists(ctx, "acme", "1.0.0")
	if err != nil || ok {
		t.Errorf("BlobExists after container delete = %v, %v", ok, err)
	}
	if err := s.DeleteContainer(ctx, "acme"); err != nil {
		t.Errorf("second DeleteContainer: %v", err)
	}

	names, _ := s.ListContainers(ctx)
	if !reflect.DeepEqual(names, []string{"keep"}) {
		t.Errorf("containers = %v, want [keep]", names)
	}

	// Recreating starts empty.
	mustCreate(t, s, "acme")
	keys, err := s.ListBlobs(ctx, "acme")
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("recreated container keys = %v", keys)
	}
}

func testUnusualNames(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	name := "Acme.Widgets Core"
	key := "1.0.0-beta+build.5"
	mustCreate(t, s, name)
	mustPut(t, s, name, key, "payload")

	if got := mustRead(t, s, name, key); got != "payload" {
		t.Errorf("content = %q", got)
	}
	keys, err := s.ListBlobs(ctx, name)
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{key}) {
		t.Errorf("keys = %v, want [%s]", keys, key)
	}
	names, _ := s.ListContainers(ctx)
	if !reflect.DeepEqual(names, []string{name}) {
		t.Errorf("containers = %v, want [%s]", names, name)
	}
}

func testDotKeys(t *testing.T, s services.ObjectStore) {
	ctx := context.Background()
	mustCreate(t, s, "acme")
	if err := s.SetContainerMetadata(ctx, "acme", models.Metadata{models.MetaLastVersion: "1.0.0"}); err != nil {
		t.Fatalf("SetContainerMetadata: %v", err)
	}

	for _, key := range []string{".container", ".hidden"} {
		mustPut(t, s, "acme", key, "dot "+key)
		if got := mustRead(t, s, "acme", key); got != "dot "+key {
			t.Errorf("content of %q = %q", key, got)
		}
	}

	props, err := s.ContainerProperties(ctx, "acme")
	if err != nil {
		t.Fatalf("ContainerProperties: %v", err)
	}
	if props.Metadata[models.MetaLastVersion] != "1.0.0" {
		t.Errorf("container metadata changed: %v", props.Metadata)
	}
	keys, err := s.ListBlobs(ctx, "acme")
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{".container", ".hidden"}) {
		t.Errorf("ListBlobs = %v", keys)
	}

	if err := s.DeleteBlob(ctx, "acme", ".container"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if ok, err := s.ContainerExists(ctx, "acme"); err != nil || !ok {
		t.Errorf("ContainerExists after DeleteBlob = %v, %v", ok, err)
	}
}
