package dispatch

import (
	"context"
	"fmt"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/checkpoint"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// chkpointXeqAllowed is the inner-opcode whitelist xeq may re-enter
// (spec.md §4.11): the only requests that record a pre-image.
var chkpointXeqAllowed = map[wire.RequestCode]handlerFunc{
	wire.ReqWrite:    handleWrite,
	wire.ReqWritev:   handleWritev,
	wire.ReqTruncate: handleTruncate,
	wire.ReqPgwrite:  handlePgWrite,
}

// handleChkpoint sub-dispatches on the chkpoint opcode (spec.md §4.11):
// begin opens a slot, commit/rollback close it, query reports its usage,
// and xeq re-enters one nested mutating request (write/writev/truncate/
// pgwrite) while the slot is open, so the target handler's existing
// d.Checkpoints.Active check records a pre-image.
func handleChkpoint(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	cb := wire.DecodeChkpointBody(rc.Header.Body)
	f, ok := lookupFile(rc, cb.Fhandle)
	if !ok {
		return nil
	}

	switch cb.Op {
	case wire.ChkpointBegin:
		_, err := d.Checkpoints.Begin(ctx, f.Key, f.Backend, d.Cfg.CheckpointMaxSize)
		if err != nil {
			return chkpointError(rc, err)
		}
		_, serr := rc.Framer.Ok(rc.Header.StreamID)
		return serr

	case wire.ChkpointCommit:
		if err := d.Checkpoints.Commit(ctx, f.Key); err != nil {
			return chkpointError(rc, err)
		}
		_, serr := rc.Framer.Ok(rc.Header.StreamID)
		return serr

	case wire.ChkpointRollback:
		if err := d.Checkpoints.Rollback(ctx, f.Key); err != nil {
			return chkpointError(rc, err)
		}
		_, serr := rc.Framer.Ok(rc.Header.StreamID)
		return serr

	case wire.ChkpointQuery:
		maxSize, usedSize, err := d.Checkpoints.Query(f.Key)
		if err != nil {
			return chkpointError(rc, err)
		}
		body := wire.EncodeChkpointQueryReply(maxSize, usedSize)
		_, serr := rc.Framer.Ok(rc.Header.StreamID, body)
		return serr

	case wire.ChkpointXeq:
		if d.Checkpoints.Active(f.Key) == nil {
			return chkpointError(rc, checkpoint.ErrNoActiveSlot)
		}
		return handleChkpointXeq(ctx, d, rc)

	default:
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrUnsupported, "chkpoint: unknown sub-opcode")
		return serr
	}
}

// handleChkpointXeq decodes the inner request header carried in the outer
// xeq payload and re-enters the matching inner handler (spec.md §4.11).
// Three things are verified before re-entry: the inner stream id matches
// the outer one, the outer payload holds exactly the inner header plus the
// inner request's own declared payload, and the inner opcode is one of the
// four that record a checkpoint pre-image. A stream-id mismatch means the
// client's nested request doesn't belong to this exchange at all, which is
// a state-machine violation rather than an ordinary argument error, so it
// is reported by closing the connection (spec.md §7 protocol-violation
// errors) instead of sending a wire Error and continuing.
func handleChkpointXeq(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	if len(rc.Payload) < wire.RequestHeaderSize {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, "chkpoint xeq: payload shorter than an inner request header")
		return serr
	}
	inner, err := wire.DecodeRequestHeader(rc.Payload[:wire.RequestHeaderSize])
	if err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, err.Error())
		return serr
	}

	if inner.StreamID != rc.Header.StreamID {
		return fmt.Errorf("dispatch: chkpoint xeq inner stream id %d does not match outer %d", inner.StreamID, rc.Header.StreamID)
	}

	handler, ok := chkpointXeqAllowed[inner.Request]
	if !ok {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrUnsupported, "chkpoint xeq: inner opcode not allowed under checkpoint")
		return serr
	}

	innerPayload := rc.Payload[wire.RequestHeaderSize:]
	if int32(len(innerPayload)) != inner.Dlen {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, "chkpoint xeq: outer payload does not hold exactly the inner request")
		return serr
	}

	innerRC := &reqContext{
		Session: rc.Session,
		Framer:  rc.Framer,
		Link:    rc.Link,
		Header:  inner,
		Payload: innerPayload,
	}
	return handler(ctx, d, innerRC)
}

func chkpointError(rc *reqContext, err error) error {
	switch err {
	case checkpoint.ErrAlreadyActive:
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrInvalidRequest, err.Error())
		return serr
	case checkpoint.ErrNoActiveSlot:
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrInvalidRequest, err.Error())
		return serr
	default:
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(err), err.Error())
		return serr
	}
}
