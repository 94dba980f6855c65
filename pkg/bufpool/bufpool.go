// Package bufpool implements the server's bucketed byte-buffer pool: buffers
// are issued in power-of-two sizes so that network and file I/O never pay a
// per-operation allocation, and buckets are reshaped under memory pressure
// instead of growing without bound.
//
// Grounded on the teacher's three-tier sync.Pool (pkg/bufpool in the
// reference tree), generalized to an arbitrary number of power-of-two
// buckets with explicit free-list bookkeeping, since Reshape needs to
// observe and trim per-bucket occupancy rather than rely on sync.Pool's
// opaque GC-driven eviction.
package bufpool

import (
	"errors"
	"sync"
	"time"

	"github.com/xrootd-go/xrootd-core/internal/bytesize"
)

// ErrOutOfMemory is returned by Obtain when no buffer can be produced for the
// requested size because the size exceeds MaxSize. Obtain does not check
// MaxTotal.
var ErrOutOfMemory = errors.New("bufpool: out of memory")

const (
	// MinBucketSize is the smallest bucket the pool ever issues (1 KiB).
	MinBucketSize = 1 << 10
	// DefaultMaxBucketSize is the largest bucket issued unless configured
	// otherwise (4 MiB — large enough for as_segsize bulk transfers).
	DefaultMaxBucketSize = 4 << 20
)

type bucket struct {
	mu       sync.Mutex
	size     int
	free     [][]byte
	lastGrow time.Time
}

// Config configures a Pool's bucket range and memory ceiling.
type Config struct {
	// MinSize is the smallest bucket size (rounded up to a power of two,
	// floored at MinBucketSize).
	MinSize int
	// MaxSize is the largest bucket size (rounded up to a power of two).
	// Obtain requests above MaxSize fail with ErrOutOfMemory.
	MaxSize int
	// MaxTotal bounds the pool's total retained bytes across all buckets,
	// counting buffers on the free lists and buffers handed out by Obtain.
	// Reshape enforces this; Obtain/Release never block on it.
	MaxTotal bytesize.Size
	// RetentionWindow is the minimum time a bucket is left alone after its
	// last growth before Reshape will shrink it, so that a burst of
	// activity doesn't get its buffers evicted immediately afterward.
	RetentionWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinSize <= 0 {
		c.MinSize = MinBucketSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxBucketSize
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 30 * time.Second
	}
}

// Pool is a bucketed, power-of-two byte-buffer pool. Safe for concurrent use.
type Pool struct {
	buckets         []*bucket // ascending by size
	maxTotal        bytesize.Size
	retentionWindow time.Duration

	mu          sync.Mutex // guards retained (aggregate accounting only)
	retainedTot int64
}

// New creates a Pool whose buckets run from cfg.MinSize to cfg.MaxSize,
// doubling each step.
func New(cfg Config) *Pool {
	cfg.applyDefaults()

	p := &Pool{maxTotal: cfg.MaxTotal, retentionWindow: cfg.RetentionWindow}
	for sz := nextPow2(cfg.MinSize); sz <= cfg.MaxSize; sz *= 2 {
		p.buckets = append(p.buckets, &bucket{size: sz})
	}
	return p
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// bucketFor returns the index of the smallest bucket able to satisfy size,
// or -1 if size exceeds every bucket.
func (p *Pool) bucketFor(size int) int {
	for i, b := range p.buckets {
		if b.size >= size {
			return i
		}
	}
	return -1
}

// Obtain returns a buffer whose capacity is at least minSize, rounded up to
// the pool's nearest bucket. It pops a free buffer if one exists, otherwise
// allocates fresh. Returns ErrOutOfMemory if minSize exceeds MaxSize().
func (p *Pool) Obtain(minSize int) ([]byte, error) {
	if minSize < 0 {
		return nil, ErrOutOfMemory
	}
	idx := p.bucketFor(minSize)
	if idx < 0 {
		return nil, ErrOutOfMemory
	}
	b := p.buckets[idx]

	b.mu.Lock()
	n := len(b.free)
	var buf []byte
	if n > 0 {
		buf = b.free[n-1]
		b.free[n-1] = nil
		b.free = b.free[:n-1]
	}
	b.lastGrow = time.Now()
	b.mu.Unlock()

	if buf == nil {
		buf = make([]byte, b.size)
		p.mu.Lock()
		p.retainedTot += int64(b.size)
		p.mu.Unlock()
	}
	return buf[:minSize:b.size], nil
}

// Release returns buf to its bucket's free list. Buffers whose capacity
// doesn't match a bucket exactly (e.g. obtained before a Reshape, or not
// sourced from this pool) are dropped rather than pooled.
func (p *Pool) Release(buf []byte) {
	if buf == nil {
		return
	}
	cp := cap(buf)
	for _, b := range p.buckets {
		if b.size == cp {
			full := buf[:cp]
			b.mu.Lock()
			b.free = append(b.free, full)
			b.mu.Unlock()
			return
		}
	}
}

// Recalc returns the effective bucket size a caller would receive for sz, or
// 0 if sz exceeds the largest bucket. Used by the async read path to choose
// a segment size that won't waste a partially-filled buffer.
func (p *Pool) Recalc(sz int) int {
	idx := p.bucketFor(sz)
	if idx < 0 {
		return 0
	}
	return p.buckets[idx].size
}

// MaxSize returns the largest bucket size the pool issues.
func (p *Pool) MaxSize() int {
	if len(p.buckets) == 0 {
		return 0
	}
	return p.buckets[len(p.buckets)-1].size
}

// Reshape trims over-filled buckets when the pool's total retained bytes
// exceed MaxTotal, respecting RetentionWindow so a recent burst of activity
// isn't immediately undone. Intended to run on a periodic timer.
func (p *Pool) Reshape() {
	if p.maxTotal == 0 {
		return
	}

	p.mu.Lock()
	over := int64(p.retainedTot) - int64(p.maxTotal)
	p.mu.Unlock()
	if over <= 0 {
		return
	}

	now := time.Now()
	for _, b := range p.buckets {
		if over <= 0 {
			return
		}
		b.mu.Lock()
		if now.Sub(b.lastGrow) < p.retentionWindow {
			b.mu.Unlock()
			continue
		}
		for len(b.free) > 0 && over > 0 {
			n := len(b.free)
			b.free[n-1] = nil
			b.free = b.free[:n-1]
			over -= int64(b.size)
			p.mu.Lock()
			p.retainedTot -= int64(b.size)
			p.mu.Unlock()
		}
		b.mu.Unlock()
	}
}

// Retained returns the pool's current total retained (free-listed +
// outstanding) byte count, for metrics and tests.
func (p *Pool) Retained() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retainedTot
}
