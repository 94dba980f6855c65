// Package checkpoint implements the checkpoint/rollback substrate (spec.md
// §4.11): at most one active slot per file, wrapping the backend's own
// pre-image recording so a mutating op (write, writev, truncate, pgwrite)
// run under a slot can be rolled back atomically.
//
// Grounded on the teacher's write-ahead-log cache idiom (one pending
// generation of writes per file, committed or discarded as a unit) used by
// its payload cache layer, adapted here to the explicit begin/commit/query/
// rollback/xeq sub-opcodes spec.md names.
package checkpoint

import (
	"context"
	"errors"
	"sync"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/filesystem"
)

// ErrAlreadyActive is returned by Begin when a slot is already open on the
// file.
var ErrAlreadyActive = errors.New("checkpoint: a slot is already active on this file")

// ErrNoActiveSlot is returned by Commit/Rollback/Query when no slot is open;
// the dispatcher answers a chkpoint xeq with it in the same case.
var ErrNoActiveSlot = errors.New("checkpoint: no active slot on this file")

// ErrCrossFile is returned when a checkpointed writev's elements don't all
// target the same file (spec.md §4.10: explicitly and permanently rejected,
// not a deferred feature — see DESIGN.md Open Question resolution).
var ErrCrossFile = errors.New("checkpoint: cross-file checkpointed writev is not supported")

// Slot is a single file's open checkpoint, wrapping the backend's own
// CheckpointSlot collaborator.
type Slot struct {
	backend filesystem.CheckpointSlot
}

// RecordBefore captures a pre-image for an about-to-be-mutated byte range.
func (s *Slot) RecordBefore(ctx context.Context, offset, length int64) error {
	return s.backend.RecordBefore(ctx, offset, length)
}

// Query returns (maxSize, usedSize) for this slot.
func (s *Slot) Query() (maxSize, usedSize int64) {
	return s.backend.Query()
}

// Manager tracks the at-most-one-active-slot-per-file invariant across a
// session (or server-wide, if shared).
type Manager struct {
	mu    sync.Mutex
	slots map[string]*Slot // file key -> active slot
}

// NewManager returns an empty checkpoint Manager.
func NewManager() *Manager {
	return &Manager{slots: make(map[string]*Slot)}
}

// Begin opens a new slot on fileKey via backend.BeginCheckpoint. Fails with
// ErrAlreadyActive if one is already open.
func (m *Manager) Begin(ctx context.Context, fileKey string, backend filesystem.Handle, maxSize int64) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.slots[fileKey]; ok {
		return nil, ErrAlreadyActive
	}

	bs, err := backend.BeginCheckpoint(ctx, maxSize)
	if err != nil {
		return nil, err
	}
	s := &Slot{backend: bs}
	m.slots[fileKey] = s
	return s, nil
}

// Active returns the file's currently open slot, or nil.
func (m *Manager) Active(fileKey string) *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[fileKey]
}

// Commit discards the slot's pre-image, making its effects permanent, and
// closes the slot.
func (m *Manager) Commit(ctx context.Context, fileKey string) error {
	m.mu.Lock()
	s, ok := m.slots[fileKey]
	if ok {
		delete(m.slots, fileKey)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNoActiveSlot
	}
	return s.backend.Commit(ctx)
}

// Rollback restores the slot's pre-image and closes the slot.
func (m *Manager) Rollback(ctx context.Context, fileKey string) error {
	m.mu.Lock()
	s, ok := m.slots[fileKey]
	if ok {
		delete(m.slots, fileKey)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNoActiveSlot
	}
	return s.backend.Rollback(ctx)
}

// Query returns (maxSize, usedSize) of fileKey's active slot.
func (m *Manager) Query(fileKey string) (maxSize, usedSize int64, err error) {
	s := m.Active(fileKey)
	if s == nil {
		return 0, 0, ErrNoActiveSlot
	}
	maxSize, usedSize = s.Query()
	return maxSize, usedSize, nil
}

// CheckWritevFiles enforces spec.md §4.10's cross-file restriction: every
// element of a checkpointed writev must target the same file key.
func CheckWritevFiles(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	first := keys[0]
	for _, k := range keys[1:] {
		if k != first {
			return ErrCrossFile
		}
	}
	return nil
}
