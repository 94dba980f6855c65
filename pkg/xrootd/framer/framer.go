// Package framer implements the Response Framer (spec.md §4.4): it prepends
// the 8-byte response header to every outgoing response and serializes all
// sends on a link behind one mutex so partial results from an async task can
// never interleave with bytes from another stream.
//
// Grounded on the teacher's per-connection response writer idiom (a single
// send path shared by synchronous handlers and background responders,
// guarded by one mutex per connection) used throughout its NFS/SMB adapters.
package framer

import (
	"encoding/binary"
	"io"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/link"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// Framer emits framed responses on one Link.
type Framer struct {
	Link       link.Link
	SendfileOK bool // policy flag: sendfile disabled globally when false
}

// New returns a Framer writing to l. sendfileOK mirrors the server's global
// sendfile policy flag (spec.md §4.4).
func New(l link.Link, sendfileOK bool) *Framer {
	return &Framer{Link: l, SendfileOK: sendfileOK}
}

func header(streamID uint16, status wire.Status, dlen int) []byte {
	return wire.EncodeResponseHeader(wire.ResponseHeader{
		StreamID: streamID,
		Status:   status,
		Dlen:     int32(dlen),
	})
}

func totalLen(iov [][]byte) int {
	n := 0
	for _, b := range iov {
		n += len(b)
	}
	return n
}

// Send emits a framed response whose body is the concatenation of iov.
func (f *Framer) Send(streamID uint16, status wire.Status, iov ...[]byte) (int64, error) {
	h := header(streamID, status, totalLen(iov))
	full := make([][]byte, 0, len(iov)+1)
	full = append(full, h)
	full = append(full, iov...)
	return f.Link.Send(full)
}

// SendAsync sends on behalf of a deferred operation whose stream id was
// captured earlier by the dispatcher (spec.md §4.4 send_async).
func (f *Framer) SendAsync(streamID uint16, status wire.Status, iov ...[]byte) (int64, error) {
	return f.Send(streamID, status, iov...)
}

// Ok sends a terminal ok response, optionally carrying a body.
func (f *Framer) Ok(streamID uint16, body ...[]byte) (int64, error) {
	return f.Send(streamID, wire.StatusOK, body...)
}

// OkSoFar sends a partial response; the stream must later terminate with Ok
// or Error.
func (f *Framer) OkSoFar(streamID uint16, body ...[]byte) (int64, error) {
	return f.Send(streamID, wire.StatusOkSoFar, body...)
}

// Error sends a terminal error response: 4-byte error code + NUL-terminated
// message.
func (f *Framer) Error(streamID uint16, code wire.ErrorCode, msg string) (int64, error) {
	body := make([]byte, 4+len(msg)+1)
	binary.BigEndian.PutUint32(body[0:4], uint32(code))
	copy(body[4:], msg)
	body[len(body)-1] = 0
	return f.Send(streamID, wire.StatusError, body)
}

// Redirect sends a redirect to host:port.
func (f *Framer) Redirect(streamID uint16, port int32, host string) (int64, error) {
	body := make([]byte, 4+len(host))
	binary.BigEndian.PutUint32(body[0:4], uint32(port))
	copy(body[4:], host)
	return f.Send(streamID, wire.StatusRedirect, body)
}

// Wait sends a wait response: the dispatcher should park the task for
// seconds before retrying, with an optional advisory message.
func (f *Framer) Wait(streamID uint16, seconds int32, msg string) (int64, error) {
	body := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(body[0:4], uint32(seconds))
	copy(body[4:], msg)
	return f.Send(streamID, wire.StatusWait, body)
}

// WaitResp tells the client a response will follow asynchronously in no
// less than seconds.
func (f *Framer) WaitResp(streamID uint16, seconds int32) (int64, error) {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(seconds))
	return f.Send(streamID, wire.StatusWaitResp, body)
}

// AuthMore carries an opaque auth continuation challenge.
func (f *Framer) AuthMore(streamID uint16, challenge []byte) (int64, error) {
	return f.Send(streamID, wire.StatusAuthmore, challenge)
}

// Attn sends an unsolicited attention message: a 4-byte action code plus
// parameters.
func (f *Framer) Attn(streamID uint16, actionCode int32, params []byte) (int64, error) {
	body := make([]byte, 4+len(params))
	binary.BigEndian.PutUint32(body[0:4], uint32(actionCode))
	copy(body[4:], params)
	return f.Send(streamID, wire.StatusAttn, body)
}

// SendFile zero-copy sends length bytes of backend data starting at off
// when the link and the server's sendfile policy both allow it; the caller
// must still have written the response header via Send/Ok first, or use
// this only for the data portion of an already-headered oksofar/ok stream.
func (f *Framer) SendFile(r io.ReaderAt, off, length int64) (int64, error) {
	if !f.SendfileOK {
		return 0, link.ErrSendFileUnsupported
	}
	return f.Link.SendFile(r, off, length)
}

// OkSendFile sends a terminal ok response whose body is length bytes of r
// starting at off, via the zero-copy send_sendfile path (spec.md §4.4). It
// writes the response header itself, then hands the body to SendFile, so
// callers must not also call Ok/Send for the same response. Returns
// link.ErrSendFileUnsupported without writing anything if sendfile is
// unavailable, so the caller can fall back to its buffered Ok/OkSoFar path.
//
// The header is written before the policy is rechecked at the Link layer;
// this is safe because the server only ever constructs a Framer and its
// underlying Link from the same configured SendfileOK flag, so once
// f.SendfileOK is true the Link's own check is guaranteed to agree.
func (f *Framer) OkSendFile(streamID uint16, r io.ReaderAt, off, length int64) (int64, error) {
	if !f.SendfileOK {
		return 0, link.ErrSendFileUnsupported
	}
	h := header(streamID, wire.StatusOK, int(length))
	hn, err := f.Link.Send([][]byte{h})
	if err != nil {
		return hn, err
	}
	bn, err := f.Link.SendFile(r, off, length)
	return hn + bn, err
}
