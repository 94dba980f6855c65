package memfs

import (
	"context"
	"testing"
)

func TestOpenCreateAndReadWrite(t *testing.T) {
	fs := New()
	ctx := context.Background()

	h, err := fs.Open(ctx, "/a", true, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := h.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, 5)
	n, err := h.ReadAt(buf, 0)
	if n != 5 || err != nil {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	if string(buf) != "hello" {
		t.Errorf("got %q, want hello", buf)
	}
}

func TestOpenWithoutCreateFails(t *testing.T) {
	fs := New()
	if _, err := fs.Open(context.Background(), "/missing", false, false); err != ErrNotFound {
		t.Fatalf("Open: got %v, want ErrNotFound", err)
	}
}

func TestTruncateGrowsAndShrinks(t *testing.T) {
	fs := New()
	ctx := context.Background()
	h, _ := fs.Open(ctx, "/a", true, true)
	_, _ = h.WriteAt([]byte("0123456789"), 0)

	if err := h.Truncate(ctx, 4); err != nil {
		t.Fatalf("Truncate shrink: %v", err)
	}
	st, _ := h.Stat(ctx)
	if st.Size != 4 {
		t.Errorf("Size after shrink = %d, want 4", st.Size)
	}

	if err := h.Truncate(ctx, 8); err != nil {
		t.Fatalf("Truncate grow: %v", err)
	}
	st, _ = h.Stat(ctx)
	if st.Size != 8 {
		t.Errorf("Size after grow = %d, want 8", st.Size)
	}
}

func TestCheckpointRollback(t *testing.T) {
	fs := New()
	ctx := context.Background()
	h, _ := fs.Open(ctx, "/a", true, true)
	_, _ = h.WriteAt([]byte("original"), 0)

	slot, err := h.BeginCheckpoint(ctx, 1<<20)
	if err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}
	if _, err := h.WriteAt([]byte("CHANGED!"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if err := slot.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	buf := make([]byte, 8)
	_, _ = h.ReadAt(buf, 0)
	if string(buf) != "original" {
		t.Errorf("after rollback got %q, want original", buf)
	}
}

func TestCheckpointAlreadyActive(t *testing.T) {
	fs := New()
	ctx := context.Background()
	h, _ := fs.Open(ctx, "/a", true, true)
	if _, err := h.BeginCheckpoint(ctx, 0); err != nil {
		t.Fatalf("BeginCheckpoint: %v", err)
	}
	if _, err := h.BeginCheckpoint(ctx, 0); err == nil {
		t.Fatal("expected error on second BeginCheckpoint")
	}
}

func TestStatPathReportsNonZeroInode(t *testing.T) {
	fs := New()
	ctx := context.Background()
	h1, _ := fs.Open(ctx, "/same", true, true)
	_, _ = h1.WriteAt([]byte("x"), 0)

	st, err := fs.StatPath(ctx, "/same")
	if err != nil {
		t.Fatalf("StatPath: %v", err)
	}
	if st.Inode == 0 {
		t.Error("expected non-zero inode")
	}
}
