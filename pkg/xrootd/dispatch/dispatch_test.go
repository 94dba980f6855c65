package dispatch

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/xrootd-go/xrootd-core/pkg/bufpool"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/checkpoint"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/framer"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/link"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/lock"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/memfs"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/monitor"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/security"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/session"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// fakeLink is a minimal in-memory link.Link that records every framed send,
// standing in for the network connection the real server loop wraps.
type fakeLink struct {
	sent chan []byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{sent: make(chan []byte, 64)}
}

func (l *fakeLink) Recv(p []byte) (int, error) { return 0, io.EOF }

func (l *fakeLink) Send(iov [][]byte) (int64, error) {
	var buf []byte
	for _, b := range iov {
		buf = append(buf, b...)
	}
	l.sent <- buf
	return int64(len(buf)), nil
}

func (l *fakeLink) SendFile(io.ReaderAt, int64, int64) (int64, error) {
	return 0, link.ErrSendFileUnsupported
}

func (l *fakeLink) RemoteAddr() string { return "test-client" }
func (l *fakeLink) Close() error       { return nil }
func (l *fakeLink) Ref()               {}
func (l *fakeLink) Unref()             {}

var _ link.Link = (*fakeLink)(nil)

// frame is a decoded response: its header plus raw body bytes.
type frame struct {
	wire.ResponseHeader
	Body []byte
}

func (l *fakeLink) recv(t *testing.T) frame {
	t.Helper()
	select {
	case buf := <-l.sent:
		h, err := wire.DecodeResponseHeader(buf[:wire.ResponseHeaderSize])
		if err != nil {
			t.Fatalf("decode response header: %v", err)
		}
		return frame{ResponseHeader: h, Body: buf[wire.ResponseHeaderSize:]}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response frame")
		return frame{}
	}
}

func testDispatcher() *Dispatcher {
	return New(
		memfs.New(),
		bufpool.New(bufpool.Config{}),
		lock.NewManager(),
		checkpoint.NewManager(),
		security.AllowAll{},
		monitor.NoOp{},
		Config{
			SegSize:            64 << 10,
			MiniOSz:            4 << 10,
			MaxPerReq:          4,
			PgMaxErrorsPerReq:  wire.PgMaxEpr,
			PgMaxErrorsPerFile: wire.PgMaxEos,
			CheckpointMaxSize:  1 << 20,
			SendfileOK:         false,
		},
	)
}

func newTestSession() (*session.Session, *fakeLink, *framer.Framer) {
	lnk := newFakeLink()
	sess := session.New("test-session", monitor.NoOp{})
	fr := framer.New(lnk, false)
	return sess, lnk, fr
}

func loginSession(t *testing.T, d *Dispatcher, sess *session.Session, fr *framer.Framer, lnk *fakeLink) {
	t.Helper()
	h := wire.RequestHeader{StreamID: 1, Request: wire.ReqLogin}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, h, nil); err != nil {
		t.Fatalf("login dispatch error: %v", err)
	}
	f := lnk.recv(t)
	if f.Status != wire.StatusOK {
		t.Fatalf("login: expected StatusOK, got %v", f.Status)
	}
	if sess.Phase() != session.PhaseLoggedIn {
		t.Fatalf("login: expected PhaseLoggedIn, got %v", sess.Phase())
	}
}

func openFile(t *testing.T, d *Dispatcher, sess *session.Session, fr *framer.Framer, lnk *fakeLink, path string, write bool) uint32 {
	t.Helper()
	opts := uint16(wire.OpenNew)
	if write {
		opts |= uint16(wire.OpenUpdate)
	}
	body := [16]byte{}
	binary.BigEndian.PutUint16(body[2:4], opts)
	h := wire.RequestHeader{StreamID: 2, Request: wire.ReqOpen, Body: body, Dlen: int32(len(path))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, h, []byte(path)); err != nil {
		t.Fatalf("open dispatch error: %v", err)
	}
	f := lnk.recv(t)
	if f.Status != wire.StatusOK {
		t.Fatalf("open: expected StatusOK, got %v (body %v)", f.Status, f.Body)
	}
	return binary.BigEndian.Uint32(f.Body[0:4])
}

func closeFile(t *testing.T, d *Dispatcher, sess *session.Session, fr *framer.Framer, lnk *fakeLink, fhandle uint32) {
	t.Helper()
	body := [16]byte{}
	binary.BigEndian.PutUint32(body[0:4], fhandle)
	h := wire.RequestHeader{StreamID: 9, Request: wire.ReqClose, Body: body}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, h, nil); err != nil {
		t.Fatalf("close dispatch error: %v", err)
	}
	f := lnk.recv(t)
	if f.Status != wire.StatusOK {
		t.Fatalf("close: expected StatusOK, got %v", f.Status)
	}
}

func TestDispatch_PhaseGatingRejectsOpenBeforeLogin(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()

	h := wire.RequestHeader{StreamID: 1, Request: wire.ReqOpen}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, h, nil); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	f := lnk.recv(t)
	if f.Status != wire.StatusError {
		t.Fatalf("expected StatusError, got %v", f.Status)
	}
}

func TestDispatch_UnknownRequestCodeIsUnsupported(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	h := wire.RequestHeader{StreamID: 1, Request: wire.ReqMkdir}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, h, nil); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	f := lnk.recv(t)
	if f.Status != wire.StatusError {
		t.Fatalf("expected StatusError for an out-of-scope namespace op, got %v", f.Status)
	}
}

func TestDispatch_OpenWriteReadCloseRoundTrip(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	fhandle := openFile(t, d, sess, fr, lnk, "/round-trip.bin", true)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	wbody := [16]byte{}
	binary.BigEndian.PutUint32(wbody[0:4], fhandle)
	binary.BigEndian.PutUint64(wbody[4:12], 0)
	wh := wire.RequestHeader{StreamID: 3, Request: wire.ReqWrite, Body: wbody, Dlen: int32(len(payload))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, wh, payload); err != nil {
		t.Fatalf("write dispatch error: %v", err)
	}
	wf := lnk.recv(t)
	if wf.Status != wire.StatusOK {
		t.Fatalf("write: expected StatusOK, got %v", wf.Status)
	}

	rbody := [16]byte{}
	binary.BigEndian.PutUint32(rbody[0:4], fhandle)
	binary.BigEndian.PutUint64(rbody[4:12], 0)
	binary.BigEndian.PutUint32(rbody[12:16], uint32(len(payload)))
	rh := wire.RequestHeader{StreamID: 4, Request: wire.ReqRead, Body: rbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, rh, nil); err != nil {
		t.Fatalf("read dispatch error: %v", err)
	}
	rf := lnk.recv(t)
	if rf.Status != wire.StatusOkSoFar {
		t.Fatalf("read: expected StatusOkSoFar for the data segment, got %v", rf.Status)
	}
	if string(rf.Body) != string(payload) {
		t.Fatalf("read: got %q, want %q", rf.Body, payload)
	}
	rterm := lnk.recv(t)
	if rterm.Status != wire.StatusOK {
		t.Fatalf("read: expected terminal StatusOK, got %v", rterm.Status)
	}

	sh := wire.RequestHeader{StreamID: 5, Request: wire.ReqStatx, Body: rbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, sh, nil); err != nil {
		t.Fatalf("statx dispatch error: %v", err)
	}
	sf := lnk.recv(t)
	if sf.Status != wire.StatusOK {
		t.Fatalf("statx: expected StatusOK, got %v", sf.Status)
	}
	if size := int64(binary.BigEndian.Uint64(sf.Body[0:8])); size != int64(len(payload)) {
		t.Fatalf("statx: got size %d, want %d", size, len(payload))
	}

	closeFile(t, d, sess, fr, lnk, fhandle)
}

func TestDispatch_ReadvServesElementsInOrder(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	fhandle := openFile(t, d, sess, fr, lnk, "/readv.bin", true)

	data := []byte("0123456789abcdef")
	wbody := [16]byte{}
	binary.BigEndian.PutUint32(wbody[0:4], fhandle)
	wh := wire.RequestHeader{StreamID: 3, Request: wire.ReqWrite, Body: wbody, Dlen: int32(len(data))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, wh, data); err != nil {
		t.Fatalf("write dispatch error: %v", err)
	}
	lnk.recv(t)

	elems := make([]byte, 32)
	binary.BigEndian.PutUint32(elems[0:4], fhandle)
	binary.BigEndian.PutUint32(elems[12:16], 4) // first 4 bytes
	binary.BigEndian.PutUint32(elems[16:20], fhandle)
	binary.BigEndian.PutUint64(elems[20:28], 4)
	binary.BigEndian.PutUint32(elems[28:32], 4) // next 4 bytes

	rh := wire.RequestHeader{StreamID: 6, Request: wire.ReqReadv, Dlen: int32(len(elems))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, rh, elems); err != nil {
		t.Fatalf("readv dispatch error: %v", err)
	}
	first := lnk.recv(t)
	if first.Status != wire.StatusOkSoFar {
		t.Fatalf("readv: expected first segment StatusOkSoFar, got %v", first.Status)
	}
	if string(first.Body[8:]) != "0123" {
		t.Fatalf("readv: first segment got %q", first.Body[8:])
	}
	second := lnk.recv(t)
	if second.Status != wire.StatusOK {
		t.Fatalf("readv: expected terminal StatusOK, got %v", second.Status)
	}
	if string(second.Body[8:]) != "4567" {
		t.Fatalf("readv: second segment got %q", second.Body[8:])
	}
}

func TestDispatch_ChkpointBeginQueryCommit(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	fhandle := openFile(t, d, sess, fr, lnk, "/chkpoint.bin", true)

	cbody := [16]byte{}
	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointBegin))
	binary.BigEndian.PutUint32(cbody[4:8], fhandle)
	ch := wire.RequestHeader{StreamID: 7, Request: wire.ReqChkpoint, Body: cbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, ch, nil); err != nil {
		t.Fatalf("chkpoint begin dispatch error: %v", err)
	}
	if f := lnk.recv(t); f.Status != wire.StatusOK {
		t.Fatalf("chkpoint begin: expected StatusOK, got %v", f.Status)
	}

	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointQuery))
	ch.Body = cbody
	if err := Dispatch(context.Background(), d, sess, fr, lnk, ch, nil); err != nil {
		t.Fatalf("chkpoint query dispatch error: %v", err)
	}
	qf := lnk.recv(t)
	if qf.Status != wire.StatusOK {
		t.Fatalf("chkpoint query: expected StatusOK, got %v", qf.Status)
	}
	maxSize := int64(binary.BigEndian.Uint64(qf.Body[0:8]))
	if maxSize != 1<<20 {
		t.Fatalf("chkpoint query: got maxSize %d, want %d", maxSize, 1<<20)
	}

	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointCommit))
	ch.Body = cbody
	if err := Dispatch(context.Background(), d, sess, fr, lnk, ch, nil); err != nil {
		t.Fatalf("chkpoint commit dispatch error: %v", err)
	}
	if f := lnk.recv(t); f.Status != wire.StatusOK {
		t.Fatalf("chkpoint commit: expected StatusOK, got %v", f.Status)
	}
}

// TestDispatch_ChkpointXeqTruncateRollback exercises scenario S5 (spec.md
// §8): begin a checkpoint on a 10-byte file, xeq a truncate to zero through
// the dispatch path (not by calling checkpoint.Slot directly), then
// rollback and confirm the original size and bytes come back.
func TestDispatch_ChkpointXeqTruncateRollback(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	fhandle := openFile(t, d, sess, fr, lnk, "/xeq.bin", true)

	original := []byte("0123456789")
	wbody := [16]byte{}
	binary.BigEndian.PutUint32(wbody[0:4], fhandle)
	wh := wire.RequestHeader{StreamID: 3, Request: wire.ReqWrite, Body: wbody, Dlen: int32(len(original))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, wh, original); err != nil {
		t.Fatalf("write dispatch error: %v", err)
	}
	if f := lnk.recv(t); f.Status != wire.StatusOK {
		t.Fatalf("write: expected StatusOK, got %v", f.Status)
	}

	cbody := [16]byte{}
	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointBegin))
	binary.BigEndian.PutUint32(cbody[4:8], fhandle)
	beginStream := uint16(7)
	ch := wire.RequestHeader{StreamID: beginStream, Request: wire.ReqChkpoint, Body: cbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, ch, nil); err != nil {
		t.Fatalf("chkpoint begin dispatch error: %v", err)
	}
	if f := lnk.recv(t); f.Status != wire.StatusOK {
		t.Fatalf("chkpoint begin: expected StatusOK, got %v", f.Status)
	}

	// Inner truncate(fh, 0) request header, wrapped in the outer xeq's
	// payload; stream id must match the outer chkpoint request exactly.
	innerBody := [16]byte{}
	binary.BigEndian.PutUint32(innerBody[0:4], fhandle)
	inner := wire.RequestHeader{StreamID: beginStream, Request: wire.ReqTruncate, Body: innerBody}
	xeqPayload := wire.EncodeRequestHeader(inner)

	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointXeq))
	xh := wire.RequestHeader{StreamID: beginStream, Request: wire.ReqChkpoint, Body: cbody, Dlen: int32(len(xeqPayload))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, xh, xeqPayload); err != nil {
		t.Fatalf("chkpoint xeq dispatch error: %v", err)
	}
	if f := lnk.recv(t); f.Status != wire.StatusOK {
		t.Fatalf("chkpoint xeq: expected StatusOK, got %v", f.Status)
	}

	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointRollback))
	ch.Body = cbody
	if err := Dispatch(context.Background(), d, sess, fr, lnk, ch, nil); err != nil {
		t.Fatalf("chkpoint rollback dispatch error: %v", err)
	}
	if f := lnk.recv(t); f.Status != wire.StatusOK {
		t.Fatalf("chkpoint rollback: expected StatusOK, got %v", f.Status)
	}

	sbody := [16]byte{}
	binary.BigEndian.PutUint32(sbody[0:4], fhandle)
	binary.BigEndian.PutUint32(sbody[12:16], uint32(len(original)))
	sh := wire.RequestHeader{StreamID: 5, Request: wire.ReqStatx, Body: sbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, sh, nil); err != nil {
		t.Fatalf("statx dispatch error: %v", err)
	}
	sf := lnk.recv(t)
	if size := int64(binary.BigEndian.Uint64(sf.Body[0:8])); size != int64(len(original)) {
		t.Fatalf("statx after rollback: got size %d, want %d", size, len(original))
	}

	rh := wire.RequestHeader{StreamID: 6, Request: wire.ReqRead, Body: sbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, rh, nil); err != nil {
		t.Fatalf("read dispatch error: %v", err)
	}
	rf := lnk.recv(t)
	if string(rf.Body) != string(original) {
		t.Fatalf("read after rollback: got %q, want %q", rf.Body, original)
	}
	lnk.recv(t) // terminal empty Ok
}

// TestDispatch_ChkpointXeqStreamIDMismatchClosesConnection checks the
// protocol-violation path spec.md §7 names explicitly: an xeq whose inner
// header carries a different stream id than the outer chkpoint request is
// a state-machine violation, not an ordinary argument error, so Dispatch
// must return a non-nil error (the caller's cue to close the connection)
// rather than merely sending a wire Error.
func TestDispatch_ChkpointXeqStreamIDMismatchClosesConnection(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	fhandle := openFile(t, d, sess, fr, lnk, "/xeq-mismatch.bin", true)

	cbody := [16]byte{}
	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointBegin))
	binary.BigEndian.PutUint32(cbody[4:8], fhandle)
	ch := wire.RequestHeader{StreamID: 7, Request: wire.ReqChkpoint, Body: cbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, ch, nil); err != nil {
		t.Fatalf("chkpoint begin dispatch error: %v", err)
	}
	lnk.recv(t)

	innerBody := [16]byte{}
	binary.BigEndian.PutUint32(innerBody[0:4], fhandle)
	inner := wire.RequestHeader{StreamID: 99, Request: wire.ReqTruncate, Body: innerBody}
	xeqPayload := wire.EncodeRequestHeader(inner)

	binary.BigEndian.PutUint16(cbody[0:2], uint16(wire.ChkpointXeq))
	xh := wire.RequestHeader{StreamID: 7, Request: wire.ReqChkpoint, Body: cbody, Dlen: int32(len(xeqPayload))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, xh, xeqPayload); err == nil {
		t.Fatal("expected a non-nil error on inner/outer stream id mismatch")
	}
}

func TestDispatch_FattrSetGetListDel(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	fhandle := openFile(t, d, sess, fr, lnk, "/fattr.bin", true)

	name := "xrootd.owner"
	value := []byte("alice")
	var setPayload []byte
	setPayload = append(setPayload, byte(len(name)))
	setPayload = append(setPayload, name...)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(value)))
	setPayload = append(setPayload, lenBuf...)
	setPayload = append(setPayload, value...)

	fbody := [16]byte{}
	fbody[0] = byte(wire.FattrSet)
	binary.BigEndian.PutUint32(fbody[4:8], fhandle)
	binary.BigEndian.PutUint16(fbody[8:10], 1)
	fh := wire.RequestHeader{StreamID: 8, Request: wire.ReqFattr, Body: fbody, Dlen: int32(len(setPayload))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, fh, setPayload); err != nil {
		t.Fatalf("fattr set dispatch error: %v", err)
	}
	if f := lnk.recv(t); f.Status != wire.StatusOK {
		t.Fatalf("fattr set: expected StatusOK, got %v", f.Status)
	}

	fbody[0] = byte(wire.FattrGet)
	getPayload := append([]byte{byte(len(name))}, name...)
	fh.Body = fbody
	fh.Dlen = int32(len(getPayload))
	if err := Dispatch(context.Background(), d, sess, fr, lnk, fh, getPayload); err != nil {
		t.Fatalf("fattr get dispatch error: %v", err)
	}
	gf := lnk.recv(t)
	if gf.Status != wire.StatusOK {
		t.Fatalf("fattr get: expected StatusOK, got %v", gf.Status)
	}
	numErrors := binary.BigEndian.Uint16(gf.Body[0:2])
	if numErrors != 0 {
		t.Fatalf("fattr get: expected 0 errors, got %d", numErrors)
	}
	gotLen := binary.BigEndian.Uint32(gf.Body[5:9])
	got := gf.Body[9 : 9+gotLen]
	if string(got) != string(value) {
		t.Fatalf("fattr get: got %q, want %q", got, value)
	}

	fbody[0] = byte(wire.FattrList)
	fh.Body = fbody
	fh.Dlen = 0
	if err := Dispatch(context.Background(), d, sess, fr, lnk, fh, nil); err != nil {
		t.Fatalf("fattr list dispatch error: %v", err)
	}
	lf := lnk.recv(t)
	if lf.Status != wire.StatusOK {
		t.Fatalf("fattr list: expected StatusOK, got %v", lf.Status)
	}
	count := binary.BigEndian.Uint16(lf.Body[0:2])
	if count != 1 {
		t.Fatalf("fattr list: expected 1 attribute, got %d", count)
	}

	fbody[0] = byte(wire.FattrDel)
	delPayload := append([]byte{byte(len(name))}, name...)
	fh.Body = fbody
	fh.Dlen = int32(len(delPayload))
	if err := Dispatch(context.Background(), d, sess, fr, lnk, fh, delPayload); err != nil {
		t.Fatalf("fattr del dispatch error: %v", err)
	}
	df := lnk.recv(t)
	if df.Status != wire.StatusOK {
		t.Fatalf("fattr del: expected StatusOK, got %v", df.Status)
	}
	if errs := binary.BigEndian.Uint16(df.Body[0:2]); errs != 0 {
		t.Fatalf("fattr del: expected 0 errors, got %d", errs)
	}
}

func TestDispatch_PgWritePgReadRoundTrip(t *testing.T) {
	d := testDispatcher()
	sess, lnk, fr := newTestSession()
	loginSession(t, d, sess, fr, lnk)

	fhandle := openFile(t, d, sess, fr, lnk, "/pgio.bin", true)

	page := make([]byte, wire.PageSize)
	for i := range page {
		page[i] = byte(i)
	}
	crc := crc32.Checksum(page, crc32.MakeTable(crc32.Castagnoli))

	var stream []byte
	segHdr := make([]byte, 4)
	binary.BigEndian.PutUint32(segHdr, uint32(len(page)))
	stream = append(stream, segHdr...)
	crcBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBuf, crc)
	stream = append(stream, crcBuf...)
	stream = append(stream, page...)

	wbody := [16]byte{}
	binary.BigEndian.PutUint32(wbody[0:4], fhandle)
	binary.BigEndian.PutUint32(wbody[12:16], uint32(len(stream)))
	wh := wire.RequestHeader{StreamID: 10, Request: wire.ReqPgwrite, Body: wbody, Dlen: int32(len(stream))}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, wh, stream); err != nil {
		t.Fatalf("pgwrite dispatch error: %v", err)
	}
	wf := lnk.recv(t)
	if wf.Status != wire.StatusOK {
		t.Fatalf("pgwrite: expected StatusOK, got %v", wf.Status)
	}

	rbody := [16]byte{}
	binary.BigEndian.PutUint32(rbody[0:4], fhandle)
	binary.BigEndian.PutUint32(rbody[12:16], uint32(len(page)))
	rh := wire.RequestHeader{StreamID: 11, Request: wire.ReqPgread, Body: rbody}
	if err := Dispatch(context.Background(), d, sess, fr, lnk, rh, nil); err != nil {
		t.Fatalf("pgread dispatch error: %v", err)
	}
	rf := lnk.recv(t)
	if rf.Status != wire.StatusOK {
		t.Fatalf("pgread: expected StatusOK, got %v", rf.Status)
	}
	// response body layout: ofs(8) | dlen(4) | crc(4) | page data
	gotDlen := binary.BigEndian.Uint32(rf.Body[8:12])
	if gotDlen != uint32(len(page)) {
		t.Fatalf("pgread: dlen mismatch, got %d want %d", gotDlen, len(page))
	}
	gotCRC := binary.BigEndian.Uint32(rf.Body[12:16])
	if gotCRC != crc {
		t.Fatalf("pgread: crc mismatch, got %x want %x", gotCRC, crc)
	}
	if string(rf.Body[16:]) != string(page) {
		t.Fatalf("pgread: page data mismatch")
	}
}
