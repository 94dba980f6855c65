package bufpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool() *Pool {
	return New(Config{MinSize: 1 << 10, MaxSize: 1 << 16})
}

func TestObtainRoundsUpToBucket(t *testing.T) {
	p := testPool()

	buf, err := p.Obtain(100)
	require.NoError(t, err)
	assert.Equal(t, 100, len(buf))
	assert.Equal(t, 1<<10, cap(buf))

	buf2, err := p.Obtain(5000)
	require.NoError(t, err)
	assert.Equal(t, 8192, cap(buf2))
}

func TestObtainOversizeFails(t *testing.T) {
	p := testPool()
	_, err := p.Obtain(1 << 20)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

// Idempotent buffer pool (spec.md Testable Property 8): Obtain/Release/Obtain
// returns capacity >= n both times.
func TestObtainReleaseIdempotent(t *testing.T) {
	p := testPool()

	buf1, err := p.Obtain(2000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cap(buf1), 2000)
	p.Release(buf1)

	buf2, err := p.Obtain(2000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cap(buf2), 2000)
}

func TestRecalc(t *testing.T) {
	p := testPool()
	assert.Equal(t, 1<<10, p.Recalc(1))
	assert.Equal(t, 1<<16, p.Recalc(1<<16))
	assert.Equal(t, 0, p.Recalc(1<<20))
}

func TestMaxSize(t *testing.T) {
	p := testPool()
	assert.Equal(t, 1<<16, p.MaxSize())
}

func TestReleaseIgnoresForeignBuffer(t *testing.T) {
	p := testPool()
	p.Release(make([]byte, 123)) // not a bucket size, must be silently dropped
	buf, err := p.Obtain(100)
	require.NoError(t, err)
	assert.Equal(t, 1<<10, cap(buf))
}

func TestReshapeRespectsRetentionWindow(t *testing.T) {
	p := New(Config{MinSize: 1 << 10, MaxSize: 1 << 12, MaxTotal: 1})

	buf, err := p.Obtain(1 << 10)
	require.NoError(t, err)
	p.Release(buf)

	// Freshly grown bucket: Reshape should not evict it yet.
	p.Reshape()
	assert.Positive(t, p.Retained())

	// Simulate the retention window elapsing.
	p.buckets[0].lastGrow = time.Now().Add(-time.Minute)
	p.Reshape()
	assert.Zero(t, p.Retained())
}
