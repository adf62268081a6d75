package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFSPutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new fs: %v", err)
	}
	handle, err := store.Put(ctx, "qr", "../../etc/passwd key.png", []byte("png"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(handle, "qr/") || strings.Contains(handle, "..") {
		t.Fatalf("unexpected handle %q", handle)
	}
	data, err := store.Get(ctx, handle)
	if err != nil || string(data) != "png" {
		t.Fatalf("get = %q, %v", data, err)
	}
	if err := store.Delete(ctx, handle); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, handle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Delete(ctx, handle); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestFSRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new fs: %v", err)
	}
	if _, err := store.Get(context.Background(), "../outside"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	h, _ := m.Put(ctx, "docs", "cv.pdf", []byte("%PDF"))
	if !m.Has(h) || m.Len() != 1 {
		t.Fatal("expected stored blob")
	}
	_ = m.Delete(ctx, h)
	if m.Has(h) {
		t.Fatal("expected blob deleted")
	}
}
