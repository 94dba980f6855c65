package aio

import (
	"context"
	"errors"
	"io"

	"github.com/xrootd-go/xrootd-core/pkg/bufpool"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/file"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/framer"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/link"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/monitor"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

var _ Task = (*NormAio)(nil)
var _ Task = (*PgrwAio)(nil)

// errShortRead marks a backend read that returned fewer bytes than
// requested: spec.md §4.6 treats this as the sole EOF indicator.
var errShortRead = errors.New("aio: short read (eof)")

// NormAio is the async engine's plain read/write task (spec.md §4.6/§4.7):
// it submits up to maxPerReq concurrent backend operations of segSize bytes
// each, and a single sender drains completions in strictly ascending offset
// order via the sendQ reordering buffer.
type NormAio struct {
	*base

	pool    *bufpool.Pool
	fr      *framer.Framer
	mon     monitor.Monitor
	segSize int

	pending map[int64][]byte // offset -> data held until it's next in sequence
	next    int64            // next offset the sender expects
	limit   int64            // offset one past the last requested byte
	eof     bool             // a short read/EOF was observed
	failed  error
}

func newNormAio(kind Kind, id uint64, streamID uint16, f *file.File, lnk link.Link, fr *framer.Framer, pool *bufpool.Pool, mon monitor.Monitor, offset, length int64, segSize int) *NormAio {
	return &NormAio{
		base:    newBase(id, kind, streamID, f, lnk),
		pool:    pool,
		fr:      fr,
		mon:     mon,
		segSize: segSize,
		pending: make(map[int64][]byte),
		next:    offset,
		limit:   offset + length,
	}
}

// RunRead executes a full asynchronous read request: it submits reads in
// segSize windows bounded by maxPerReq concurrency, and sends completed
// segments in offset order as oksofar/ok frames (spec.md §4.6).
func RunRead(ctx context.Context, id uint64, streamID uint16, f *file.File, lnk link.Link, fr *framer.Framer, pool *bufpool.Pool, mon monitor.Monitor, offset, length int64, segSize, maxPerReq int) *NormAio {
	t := newNormAio(KindNormRead, id, streamID, f, lnk, fr, pool, mon, offset, length, segSize)
	f.Ref()
	lnk.Ref()
	go t.driveRead(ctx, maxPerReq)
	return t
}

func (t *NormAio) driveRead(ctx context.Context, maxPerReq int) {
	defer t.release()

	if t.limit == t.next {
		t.sendTerminal()
		return
	}

	if t.trySendFile() {
		return
	}

	sem := make(chan struct{}, maxPerReq)
	results := make(chan Completion, maxPerReq)
	issued := t.next
	outstanding := 0

	issueOne := func(off int64) {
		n := int64(t.segSize)
		if rem := t.limit - off; rem < n {
			n = rem
		}
		sem <- struct{}{}
		t.beginIO()
		go func(off, n int64) {
			defer func() { <-sem }()
			buf, err := t.pool.Obtain(int(n))
			if err != nil {
				results <- Completion{Offset: off, Err: err}
				return
			}
			rn, rerr := t.f.Backend.ReadAt(buf[:n], off)
			t.f.Stats.RecordRead(int64(rn))
			if t.mon != nil {
				t.mon.IOEvent(monitor.IORead, t.f.Key, int64(rn), rerr)
			}
			if rerr != nil && rerr != io.EOF {
				results <- Completion{Offset: off, Err: rerr}
				return
			}
			if int64(rn) < n {
				results <- Completion{Offset: off, Data: buf[:rn], Err: errShortRead}
				return
			}
			results <- Completion{Offset: off, Data: buf[:rn]}
		}(off, n)
	}

	for issued < t.limit && outstanding < maxPerReq {
		issueOne(issued)
		issued += int64(t.segSize)
		outstanding++
	}

	for outstanding > 0 {
		c := <-results
		outstanding--
		last := t.endIO()

		if t.isDead() {
			if c.Data != nil {
				t.pool.Release(c.Data[:cap(c.Data)])
			}
			if last {
				return
			}
			continue
		}

		switch {
		case c.Err == errShortRead:
			t.eof = true
			t.pending[c.Offset] = c.Data
		case c.Err != nil:
			if t.failed == nil {
				t.failed = c.Err
			}
		default:
			t.pending[c.Offset] = c.Data
		}

		t.drainInOrder()

		if issued < t.limit && !t.eof && t.failed == nil {
			issueOne(issued)
			issued += int64(t.segSize)
			outstanding++
		}
	}

	t.sendTerminal()
}

// trySendFile attempts the whole-range zero-copy send_sendfile path
// (spec.md §4.4) in place of the segmented buffered read loop. It reports
// whether it handled the response at all: false means sendfile isn't
// available (the caller falls back to the segmented path below unchanged);
// true means a terminal response (ok or error) was already sent, or the
// task was found dead and nothing should be sent.
func (t *NormAio) trySendFile() bool {
	if t.isDead() {
		return true
	}
	n, err := t.fr.OkSendFile(t.streamID, t.f.Backend, t.next, t.limit-t.next)
	if err == link.ErrSendFileUnsupported {
		return false
	}
	t.f.Stats.RecordRead(n)
	if t.mon != nil {
		var ioErr error
		if err != nil {
			ioErr = err
		}
		t.mon.IOEvent(monitor.IORead, t.f.Key, n, ioErr)
	}
	if err != nil {
		_, _ = t.fr.Error(t.streamID, wire.ErrorFromErr(err), err.Error())
	}
	return true
}

// drainInOrder sends every contiguous completed segment starting at t.next.
func (t *NormAio) drainInOrder() {
	for {
		data, ok := t.pending[t.next]
		if !ok {
			return
		}
		delete(t.pending, t.next)
		if len(data) > 0 {
			_, _ = t.fr.OkSoFar(t.streamID, data)
		}
		t.next += int64(len(data))
		if data != nil {
			t.pool.Release(data[:cap(data)])
		}
	}
}

func (t *NormAio) sendTerminal() {
	if t.failed != nil {
		_, _ = t.fr.Error(t.streamID, wire.ErrorFromErr(t.failed), t.failed.Error())
		return
	}
	_, _ = t.fr.Ok(t.streamID)
}

func (t *NormAio) release() {
	t.f.Unref()
	t.lnk.Unref()
}

// RunWrite executes a full asynchronous write request: the client's payload
// streams into segSize buffers, each dispatched to the backend as it fills,
// bounded to maxPerReq in-flight writes (spec.md §4.7). payload is the
// source of request bytes (the Link the request arrived on).
func RunWrite(ctx context.Context, id uint64, streamID uint16, f *file.File, lnk link.Link, fr *framer.Framer, pool *bufpool.Pool, mon monitor.Monitor, offset, length int64, segSize, maxPerReq int, payload io.Reader) *NormAio {
	t := newNormAio(KindNormWrite, id, streamID, f, lnk, fr, pool, mon, offset, length, segSize)
	f.Ref()
	lnk.Ref()
	go t.driveWrite(ctx, maxPerReq, payload)
	return t
}

func (t *NormAio) driveWrite(ctx context.Context, maxPerReq int, payload io.Reader) {
	defer t.release()

	sem := make(chan struct{}, maxPerReq)
	results := make(chan Completion, maxPerReq)
	outstanding := 0
	off := t.next

	for off < t.limit {
		n := int64(t.segSize)
		if rem := t.limit - off; rem < n {
			n = rem
		}
		buf, err := t.pool.Obtain(int(n))
		if err != nil {
			t.failed = err
			break
		}
		rn, rerr := io.ReadFull(payload, buf[:n])
		if rerr != nil && t.failed == nil {
			t.failed = rerr
		}

		sem <- struct{}{}
		t.beginIO()
		outstanding++
		go func(buf []byte, off int64, n int, poisoned bool) {
			defer func() { <-sem }()
			var werr error
			if !poisoned {
				_, werr = t.f.Backend.WriteAt(buf[:n], off)
				t.f.Stats.RecordWrite(int64(n))
				if t.mon != nil {
					t.mon.IOEvent(monitor.IOWrite, t.f.Key, int64(n), werr)
				}
			}
			t.pool.Release(buf[:cap(buf)])
			results <- Completion{Offset: off, Err: werr}
		}(buf, off, int(rn), t.failed != nil)

		off += n
		if t.failed != nil {
			break
		}
	}

	// A failed write or allocation poisons the task: drain (not write) the
	// remainder of the client's payload so the wire stays aligned for the
	// next request on this stream (spec.md §4.7).
	if t.failed != nil && off < t.limit {
		_, _ = io.CopyN(io.Discard, payload, t.limit-off)
	}

	for outstanding > 0 {
		c := <-results
		outstanding--
		last := t.endIO()
		if c.Err != nil && t.failed == nil {
			t.failed = c.Err
		}
		if t.isDead() && last {
			return
		}
	}

	t.sendTerminal()
}
