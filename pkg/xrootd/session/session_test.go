package session_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/xrootd-go/xrootd-core/pkg/bufpool"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/aio"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/file"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/filesystem"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/framer"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/link"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/memfs"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/monitor"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/session"
)

// blockingHandle wraps a filesystem.Handle and holds every ReadAt until
// release is closed, standing in for a backend op still in flight when a
// link closes (spec.md §5 Cancellation).
type blockingHandle struct {
	filesystem.Handle
	release chan struct{}
}

func (h *blockingHandle) ReadAt(p []byte, off int64) (int, error) {
	<-h.release
	return h.Handle.ReadAt(p, off)
}

// discardLink is a link.Link that records every frame it's asked to send;
// a task that honors abort must never call Send after it's been marked
// dead.
type discardLink struct{ sent chan struct{} }

func newDiscardLink() *discardLink { return &discardLink{sent: make(chan struct{}, 8)} }

func (l *discardLink) Recv(p []byte) (int, error) { return 0, io.EOF }
func (l *discardLink) Send(iov [][]byte) (int64, error) {
	l.sent <- struct{}{}
	return 0, nil
}
func (l *discardLink) SendFile(io.ReaderAt, int64, int64) (int64, error) {
	return 0, link.ErrSendFileUnsupported
}
func (l *discardLink) RemoteAddr() string { return "test-client" }
func (l *discardLink) Close() error       { return nil }
func (l *discardLink) Ref()               {}
func (l *discardLink) Unref()             {}

var _ link.Link = (*discardLink)(nil)

// countingMonitor counts FileClose calls; everything else is discarded.
type countingMonitor struct {
	monitor.NoOp
	closes chan struct{}
}

func (m *countingMonitor) FileClose(key string, bytesRead, bytesWritten uint64, d time.Duration) {
	m.closes <- struct{}{}
}

// TestTeardown_AbortsInFlightFreightAndReleasesFileRefExactlyOnce covers
// spec.md §5 Cancellation and Testable Property 7: tearing down a session
// with an async read still in flight marks the task dead (no frame is sent
// on the now-closing link), emits exactly one close monitor record for the
// file, and the file's reference count settles back to its pre-task value
// (one decrement per task, never two).
func TestTeardown_AbortsInFlightFreightAndReleasesFileRefExactlyOnce(t *testing.T) {
	fs := memfs.New()
	backend, err := fs.Open(context.Background(), "/teardown.bin", true, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := backend.WriteAt(make([]byte, 4096), 0); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	blocking := &blockingHandle{Handle: backend, release: make(chan struct{})}

	f := file.New("/teardown.bin", blocking, file.ModeRead, true, "teardown-key")
	mon := &countingMonitor{closes: make(chan struct{}, 1)}
	lnk := newDiscardLink()
	fr := framer.New(lnk, false)
	pool := bufpool.New(bufpool.Config{})

	sess := session.New("teardown-session", mon)
	sess.Files.Add(f)

	task := aio.RunRead(context.Background(), 1, 1, f, lnk, fr, pool, mon, 0, 4096, 4096, 1)
	f.SetFreight(task)

	// Teardown must abort the still-blocked read's freight task right away,
	// without waiting for the backend op to finish.
	sess.Teardown()

	select {
	case <-mon.closes:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the close monitor record")
	}

	// Now let the blocked backend op complete; the task must recycle the
	// completion without sending since it was marked dead before it landed.
	close(blocking.release)

	deadline := time.After(2 * time.Second)
	for f.RefCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("file ref count never settled back to 1, got %d", f.RefCount())
		case <-time.After(time.Millisecond):
		}
	}

	select {
	case <-lnk.sent:
		t.Fatal("expected no frame sent for a task aborted before it completed")
	case <-time.After(50 * time.Millisecond):
	}
}
