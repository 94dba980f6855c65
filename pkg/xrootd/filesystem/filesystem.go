// Package filesystem defines the storage-backend capability (spec.md §1):
// opening, reading, writing, and checkpointing real files is explicitly out
// of scope for the core; this package only fixes the interface the core
// depends on.
package filesystem

import (
	"context"
	"io"
)

// Stat describes a backend object's metadata (spec.md §6 stat flags).
type Stat struct {
	Size    int64
	IsDir   bool
	Mtime   int64
	Device  uint64 // used to derive the File key (spec.md §3)
	Inode   uint64
	Flags   uint32
}

// Handle is an opaque backend object handle returned by Open.
type Handle interface {
	io.ReaderAt
	io.WriterAt
	// Truncate resizes the backend object.
	Truncate(ctx context.Context, size int64) error
	// Stat returns the object's current metadata.
	Stat(ctx context.Context) (Stat, error)
	// Sync flushes any backend buffering to stable storage.
	Sync(ctx context.Context) error
	// Close releases the backend handle. Spec.md §4.3: a close error is a
	// protocol-level error to the client but the handle is gone regardless.
	Close(ctx context.Context) error

	// BeginCheckpoint starts recording a pre-image for subsequent mutations
	// on this handle. Fails if one is already active.
	BeginCheckpoint(ctx context.Context, maxSize int64) (CheckpointSlot, error)
}

// CheckpointSlot is the backend-side collaborator for the checkpoint engine
// (pkg/xrootd/checkpoint consumes this through its own Slot type; the
// backend only needs to record pre-images and apply/discard them).
type CheckpointSlot interface {
	// RecordBefore captures the pre-image for a byte range about to be
	// mutated; called once per mutating op issued under the slot.
	RecordBefore(ctx context.Context, offset, length int64) error
	// Commit discards the pre-image, making effects permanent.
	Commit(ctx context.Context) error
	// Rollback restores the pre-image and closes the slot.
	Rollback(ctx context.Context) error
	// Query returns (maxSize, usedSize) for the slot.
	Query() (maxSize, usedSize int64)
}

// Filesystem is the abstract backend storage capability. Implementations
// are provided by the hosting application; this repo ships only the
// in-memory reference implementation (pkg/xrootd/memfs) used by tests.
type Filesystem interface {
	// Open opens path, creating it if writeMode and the create flag is set.
	Open(ctx context.Context, path string, writeMode bool, create bool) (Handle, error)
	// Remove deletes path.
	Remove(ctx context.Context, path string) error
	// StatPath stats path without opening it (used by the `stat` request).
	StatPath(ctx context.Context, path string) (Stat, error)
}
