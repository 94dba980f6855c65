package dispatch

import (
	"bytes"
	"context"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/aio"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// handlePgRead services a page read, always through the async engine since
// the response is inherently a multi-segment CRC-bearing stream (spec.md
// §4.8).
func handlePgRead(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	pb := wire.DecodePgReadBody(rc.Header.Body)
	f, ok := lookupFile(rc, pb.Fhandle)
	if !ok {
		return nil
	}
	_, retry := wire.DecodePgrwArgs(rc.Payload)

	if conflict := d.Locks.CheckIO(f.Key, rc.Session.ID, uint64(pb.Offset), uint64(pb.Rlen), false); conflict != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrFileLocked, "byte range locked")
		return serr
	}

	t := aio.RunPgRead(reqIDCounter.next(), rc.Header.StreamID, f, rc.Link, rc.Framer, d.Pool, rc.Session.Monitor, pb.Offset, int64(pb.Rlen), retry)
	f.SetFreight(t)
	return nil
}

// handlePgWrite services a page write: the CRC'd page stream is the request
// payload itself, already buffered by the framing layer (spec.md §4.9).
func handlePgWrite(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	pb := wire.DecodePgWriteBody(rc.Header.Body)
	f, ok := lookupFile(rc, pb.Fhandle)
	if !ok {
		return nil
	}
	// The optional args trailer (pathid, reqflags) precedes the page
	// stream itself; the stream's length is rlen regardless of the
	// trailer's presence (spec.md §4.9).
	trailerLen := len(rc.Payload) - int(pb.Rlen)
	var retry bool
	var pageStream []byte
	if trailerLen > 0 {
		_, retry = wire.DecodePgrwArgs(rc.Payload[:trailerLen])
		pageStream = rc.Payload[trailerLen:]
	} else {
		pageStream = rc.Payload
	}

	if conflict := d.Locks.CheckIO(f.Key, rc.Session.ID, uint64(pb.Offset), uint64(pb.Rlen), true); conflict != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrFileLocked, "byte range locked")
		return serr
	}

	if slot := d.Checkpoints.Active(f.Key); slot != nil {
		if err := slot.RecordBefore(ctx, pb.Offset, int64(pb.Rlen)); err != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgTooLong, err.Error())
			return serr
		}
	}

	t := aio.RunPgWrite(reqIDCounter.next(), rc.Header.StreamID, f, rc.Link, rc.Framer, d.Pool, rc.Session.Monitor, pb.Offset, int64(pb.Rlen), retry, bytes.NewReader(pageStream), d.Cfg.PgMaxErrorsPerReq, d.Cfg.PgMaxErrorsPerFile)
	f.SetFreight(t)
	return nil
}
