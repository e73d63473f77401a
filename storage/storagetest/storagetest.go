// Package storagetest holds the behavioral suite every storage.Storage
// implementation is expected to pass.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/nodesession-go/storage"
)

// Factory creates a new, empty Storage instance for testing.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete Storage test suite against the provided factory.
func RunStorageTests(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory) })
	t.Run("ScopeIsolation", func(t *testing.T) { testScopeIsolation(t, factory) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, factory) })
	t.Run("DeleteAbsentKey", func(t *testing.T) { testDeleteAbsentKey(t, factory) })
	t.Run("DeleteScope", func(t *testing.T) { testDeleteScope(t, factory) })
	t.Run("ClosedBackend", func(t *testing.T) { testClosed(t, factory) })
}

func newStorage(t *testing.T, factory Factory) storage.Storage {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustGet(t *testing.T, s storage.Storage, key string, opts ...storage.Option) *storage.StorageItem {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return item
}

func testSetAndGet(t *testing.T, factory Factory) {
	s := newStorage(t, factory)
	ctx := context.Background()

	data := []byte(`"http://localhost:2428"`)
	if err := s.Set(ctx, "NODE_URL", data); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	item := mustGet(t, s, "NODE_URL")
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if !bytes.Equal(item.Data, data) {
		t.Fatalf("Get() returned wrong data: got %s, want %s", item.Data, data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("Get() returned zero CreatedAt")
	}
}

func testGetNonExistent(t *testing.T, factory Factory) {
	s := newStorage(t, factory)

	if item := mustGet(t, s, "missing"); item != nil {
		t.Fatalf("expected nil item for missing key, got %+v", item)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	s := newStorage(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "CONTEXT_ID", []byte(`"first"`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "CONTEXT_ID", []byte(`"second"`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	item := mustGet(t, s, "CONTEXT_ID")
	if item == nil || string(item.Data) != `"second"` {
		t.Fatalf("last write should win, got %+v", item)
	}
}

func testTTL(t *testing.T, factory Factory) {
	s := newStorage(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "short", []byte("x"), storage.WithTTL(time.Second)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item := mustGet(t, s, "short")
	if item == nil {
		t.Fatal("item should exist before TTL elapses")
	}
	if item.ExpiresAt == nil {
		t.Fatal("item should carry ExpiresAt")
	}

	time.Sleep(1500 * time.Millisecond)

	if item := mustGet(t, s, "short"); item != nil {
		t.Fatalf("item should have expired, got %+v", item)
	}
}

func testScopeIsolation(t *testing.T, factory Factory) {
	s := newStorage(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "APPLICATION_ID", []byte(`"global"`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "APPLICATION_ID", []byte(`"a"`), storage.WithScope("app-a")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "APPLICATION_ID", []byte(`"b"`), storage.WithScope("app-b")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	cases := []struct {
		opts []storage.Option
		want string
	}{
		{nil, `"global"`},
		{[]storage.Option{storage.WithScope("app-a")}, `"a"`},
		{[]storage.Option{storage.WithScope("app-b")}, `"b"`},
	}
	for _, tc := range cases {
		item := mustGet(t, s, "APPLICATION_ID", tc.opts...)
		if item == nil || string(item.Data) != tc.want {
			t.Fatalf("scope read: want %s, got %+v", tc.want, item)
		}
	}

	if item := mustGet(t, s, "APPLICATION_ID", storage.WithScope("app-c")); item != nil {
		t.Fatalf("unused scope should be empty, got %+v", item)
	}

	// Scope names that embed separators must not alias each other.
	if err := s.Set(ctx, "b:key:x", []byte(`"outer"`), storage.WithScope("a")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "x", []byte(`"inner"`), storage.WithScope("a:key:b")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if item := mustGet(t, s, "b:key:x", storage.WithScope("a")); item == nil || string(item.Data) != `"outer"` {
		t.Fatalf("scope a: want \"outer\", got %+v", item)
	}
	if item := mustGet(t, s, "x", storage.WithScope("a:key:b")); item == nil || string(item.Data) != `"inner"` {
		t.Fatalf("scope a:key:b: want \"inner\", got %+v", item)
	}
	if item := mustGet(t, s, "x", storage.WithScope("a:b")); item != nil {
		t.Fatalf("scope a:b should be empty, got %+v", item)
	}
}

func testDeleteKey(t *testing.T, factory Factory) {
	s := newStorage(t, factory)
	ctx := context.Background()

	_ = s.Set(ctx, "NODE_URL", []byte(`"n"`))
	_ = s.Set(ctx, "APPLICATION_ID", []byte(`"a"`))

	if err := s.Delete(ctx, storage.WithKey("NODE_URL")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if item := mustGet(t, s, "NODE_URL"); item != nil {
		t.Fatalf("deleted key still present: %+v", item)
	}
	if item := mustGet(t, s, "APPLICATION_ID"); item == nil {
		t.Fatal("sibling key should survive single-key delete")
	}
}

func testDeleteAbsentKey(t *testing.T, factory Factory) {
	s := newStorage(t, factory)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, storage.WithKey("never-set")); err != nil {
			t.Fatalf("Delete() of absent key #%d failed: %v", i+1, err)
		}
	}
}

func testDeleteScope(t *testing.T, factory Factory) {
	s := newStorage(t, factory)
	ctx := context.Background()

	scoped := storage.WithScope("tab-1")
	_ = s.Set(ctx, "NODE_URL", []byte(`"n"`), scoped)
	_ = s.Set(ctx, "CONTEXT_ID", []byte(`"c"`), scoped)
	_ = s.Set(ctx, "NODE_URL", []byte(`"other"`), storage.WithScope("tab-2"))

	if err := s.Delete(ctx, scoped); err != nil {
		t.Fatalf("Delete(scope) failed: %v", err)
	}

	if item := mustGet(t, s, "NODE_URL", scoped); item != nil {
		t.Fatalf("scope should be empty after delete, got %+v", item)
	}
	if item := mustGet(t, s, "CONTEXT_ID", scoped); item != nil {
		t.Fatalf("scope should be empty after delete, got %+v", item)
	}
	if item := mustGet(t, s, "NODE_URL", storage.WithScope("tab-2")); item == nil {
		t.Fatal("other scope should survive scope delete")
	}

	// Deleting a scope leaves scopes it is a textual prefix of, and scopes a
	// glob pattern would match.
	_ = s.Set(ctx, "k", []byte(`"ab"`), storage.WithScope("a:b"))
	_ = s.Set(ctx, "k", []byte(`"a"`), storage.WithScope("a"))
	if err := s.Delete(ctx, storage.WithScope("a")); err != nil {
		t.Fatalf("Delete(scope a) failed: %v", err)
	}
	if item := mustGet(t, s, "k", storage.WithScope("a")); item != nil {
		t.Fatalf("scope a should be empty after delete, got %+v", item)
	}
	if item := mustGet(t, s, "k", storage.WithScope("a:b")); item == nil {
		t.Fatal("scope a:b should survive delete of scope a")
	}

	if err := s.Delete(ctx, storage.WithScope("*")); err != nil {
		t.Fatalf("Delete(scope *) failed: %v", err)
	}
	if item := mustGet(t, s, "k", storage.WithScope("a:b")); item == nil {
		t.Fatal("scope a:b should survive delete of scope *")
	}
	if item := mustGet(t, s, "NODE_URL", storage.WithScope("tab-2")); item == nil {
		t.Fatal("scope tab-2 should survive delete of scope *")
	}
}

func testClosed(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := s.Get(ctx, "NODE_URL"); err == nil {
		t.Fatal("Get() after Close should fail")
	} else if !errors.Is(err, storage.ErrClosed) {
		t.Logf("Get() after Close returned backend-specific error: %v", err)
	}
}
