// Package pgwfob implements the per-file bad-checksum book (spec.md §3
// GLOSSARY, §4.9): the set of page offsets whose client-supplied checksum
// failed verification, retained until a later pgwrite of that page passes
// verification, whether or not that request sets retry.
//
// The original XRootD source (XrdXrootdPgwFob.hh) backs this with an
// unordered std::set<kXR_int64> keyed by (offset<<pageShift | shortLen).
// spec.md §9 flags this as an open question ("consider an ordered
// container to make the per-request retry vector deterministically
// sorted"); this repo resolves it by keeping a sorted slice, so returning
// or iterating offsets is always in ascending order without an extra sort
// step on every pgwrite response.
package pgwfob

import (
	"fmt"
	"sort"
	"sync"
)

// Entry is one recorded bad-checksum page.
type Entry struct {
	Offset int64
	Length int32 // the in-page length actually written (may be < page size)
}

// Book is a per-file, ordered, mutex-protected set of bad-checksum entries.
type Book struct {
	mu      sync.Mutex
	entries []Entry // sorted by Offset
}

// New creates an empty Book.
func New() *Book {
	return &Book{}
}

// Add records offs as a failing page, replacing any existing entry at the
// same offset. Returns the new count, or an error if maxEntries would be
// exceeded (spec.md §4.9 kXR_pgMaxEos).
func (b *Book) Add(offs int64, length int32, maxEntries int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].Offset >= offs })
	if i < len(b.entries) && b.entries[i].Offset == offs {
		b.entries[i].Length = length
		return len(b.entries), nil
	}

	if len(b.entries) >= maxEntries {
		return len(b.entries), fmt.Errorf("pgwfob: file bad-checksum book full (%d entries)", maxEntries)
	}

	b.entries = append(b.entries, Entry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = Entry{Offset: offs, Length: length}
	return len(b.entries), nil
}

// Remove clears an entry at offs (spec.md §4.9: a later successful write
// over a previously-bad page clears its record).
func (b *Book) Remove(offs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].Offset >= offs })
	if i < len(b.entries) && b.entries[i].Offset == offs {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
	}
}

// Len returns the current number of recorded bad-checksum pages.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Snapshot returns a copy of all entries in ascending offset order.
func (b *Book) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
