// Package file implements the File handle (spec.md §3): a backend object
// plus per-file statistics and the async state (freight, bad-checksum book)
// a File may carry. Checkpoint slots are held by pkg/xrootd/checkpoint,
// keyed by File.Key, not by the File.
package file

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/filesystem"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/pgwfob"
)

// Mode is the access mode a File was opened with.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Stats is the per-file statistics record (spec.md §3: monotonic for an
// open file).
type Stats struct {
	mu sync.Mutex

	BytesRead    uint64
	BytesWritten uint64
	ReadOps      uint64
	WriteOps     uint64
	MinReadSize  int64
	MaxReadSize  int64
	MinWriteSize int64
	MaxWriteSize int64
	SumSqRead    float64 // sum of squares, for variance when requested
	SumSqWrite   float64
}

func (s *Stats) RecordRead(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesRead += uint64(n)
	s.ReadOps++
	if s.MinReadSize == 0 || n < s.MinReadSize {
		s.MinReadSize = n
	}
	if n > s.MaxReadSize {
		s.MaxReadSize = n
	}
	s.SumSqRead += float64(n) * float64(n)
}

func (s *Stats) RecordWrite(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesWritten += uint64(n)
	s.WriteOps++
	if s.MinWriteSize == 0 || n < s.MinWriteSize {
		s.MinWriteSize = n
	}
	if n > s.MaxWriteSize {
		s.MaxWriteSize = n
	}
	s.SumSqWrite += float64(n) * float64(n)
}

func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}

// File is a handle on an opened backend object (spec.md §3).
type File struct {
	Path      string
	Backend   filesystem.Handle
	Mode      Mode
	AsyncMode bool
	Key       string // 64-byte hex, derived from device+inode

	Stats Stats

	// Freight holds the most recently started async read/write task for
	// this file, if any (spec.md GLOSSARY "Freight"). The read, write,
	// pgread and pgwrite handlers set it whatever AsyncMode says.
	freight atomic.Pointer[any]

	// BadChecksums is the per-file pgwFob; allocated lazily when the first
	// pgwrite on the file starts (spec.md §4.9).
	BadChecksums *pgwfob.Book

	refs atomic.Int32
}

// NewKey derives a File's 64-byte hex key from the backend device+inode
// pair reported by Stat, falling back to a hash of the path when the
// backend can't report device/inode (spec.md §3: identical files opened by
// different paths must collide on the same key).
func NewKey(st filesystem.Stat, path string) string {
	if st.Device != 0 || st.Inode != 0 {
		h := sha256.Sum256(fmt.Appendf(nil, "dev:%d/ino:%d", st.Device, st.Inode))
		return hex.EncodeToString(h[:])
	}
	h := sha256.Sum256([]byte("path:" + path))
	return hex.EncodeToString(h[:])
}

// New creates a File with an initial reference count of 1.
func New(path string, backend filesystem.Handle, mode Mode, asyncMode bool, key string) *File {
	f := &File{
		Path:      path,
		Backend:   backend,
		Mode:      mode,
		AsyncMode: asyncMode,
		Key:       key,
	}
	f.refs.Store(1)
	return f
}

// Ref and Unref manage the reference count guarding destruction while async
// work is pending (spec.md §3 invariant a). Unref returns true when the
// count reaches zero, i.e. the caller is responsible for final cleanup.
func (f *File) Ref() {
	f.refs.Add(1)
}

func (f *File) Unref() bool {
	return f.refs.Add(-1) == 0
}

func (f *File) RefCount() int32 {
	return f.refs.Load()
}

// SetFreight/Freight/ClearFreight manage the optional in-flight async task
// pointer. Stored as atomic.Pointer[any] to avoid an import cycle with the
// aio package (which references File).
func (f *File) SetFreight(task any) {
	f.freight.Store(&task)
}

func (f *File) Freight() any {
	p := f.freight.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (f *File) ClearFreight() {
	f.freight.Store(nil)
}
