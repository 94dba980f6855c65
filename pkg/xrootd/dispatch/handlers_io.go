package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/aio"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/checkpoint"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// errTruncatedWritevElement marks a writev payload that ends mid-element.
var errTruncatedWritevElement = errors.New("dispatch: truncated writev element")

var reqIDCounter idGenerator

type idGenerator struct{ n uint64 }

func (g *idGenerator) next() uint64 {
	g.n++
	return g.n
}

// handleRead services a plain read via the async engine (spec.md §4.6),
// whatever its length: d.Cfg.MiniOSz and f.AsyncMode are not consulted and
// there is no synchronous read path. Responses are sent directly by the
// async task; this handler does not send twice.
func handleRead(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	rb := wire.DecodeReadBody(rc.Header.Body)
	f, ok := lookupFile(rc, rb.Fhandle)
	if !ok {
		return nil
	}
	if conflict := d.Locks.CheckIO(f.Key, rc.Session.ID, uint64(rb.Offset), uint64(rb.Rlen), false); conflict != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrFileLocked, "byte range locked")
		return serr
	}

	t := aio.RunRead(ctx, reqIDCounter.next(), rc.Header.StreamID, f, rc.Link, rc.Framer, d.Pool, rc.Session.Monitor, rb.Offset, int64(rb.Rlen), d.Cfg.SegSize, d.Cfg.MaxPerReq)
	f.SetFreight(t)
	return nil
}

// handleWrite services a plain write; the client's payload has already been
// fully read into rc.Payload by the framing layer (spec.md §4.7).
func handleWrite(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	wb := wire.DecodeWriteBody(rc.Header.Body)
	f, ok := lookupFile(rc, wb.Fhandle)
	if !ok {
		return nil
	}
	length := int64(len(rc.Payload))
	if conflict := d.Locks.CheckIO(f.Key, rc.Session.ID, uint64(wb.Offset), uint64(length), true); conflict != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrFileLocked, "byte range locked")
		return serr
	}

	if slot := d.Checkpoints.Active(f.Key); slot != nil {
		if err := slot.RecordBefore(ctx, wb.Offset, length); err != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgTooLong, err.Error())
			return serr
		}
	}

	t := aio.RunWrite(ctx, reqIDCounter.next(), rc.Header.StreamID, f, rc.Link, rc.Framer, d.Pool, rc.Session.Monitor, wb.Offset, length, d.Cfg.SegSize, d.Cfg.MaxPerReq, bytes.NewReader(rc.Payload))
	f.SetFreight(t)
	return nil
}

// handleReadv services a vectored read: spec.md §4.10 requires each
// element be answered with its own oksofar/ok segment in request order, one
// element at a time (no offset-reordering across elements, unlike the
// single-file async read path).
func handleReadv(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	elems, err := wire.DecodeReadvList(rc.Payload)
	if err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, err.Error())
		return serr
	}

	for i, el := range elems {
		f, ok := lookupFile(rc, el.Fhandle)
		if !ok {
			return nil
		}
		buf := make([]byte, el.Length)
		n, rerr := f.Backend.ReadAt(buf, el.Offset)
		f.Stats.RecordRead(int64(n))
		rc.Session.Counters.ReadvSegments.Add(1)
		if rerr != nil && rerr != io.EOF {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(rerr), rerr.Error())
			return serr
		}

		hdr := make([]byte, 8)
		putUint32(hdr[0:4], el.Fhandle)
		putUint32(hdr[4:8], uint32(n))

		last := i == len(elems)-1
		if last {
			_, serr := rc.Framer.Ok(rc.Header.StreamID, hdr, buf[:n])
			return serr
		}
		if _, serr := rc.Framer.OkSoFar(rc.Header.StreamID, hdr, buf[:n]); serr != nil {
			return serr
		}
	}
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

// handleWritev services a vectored write: all elements carried in one
// payload, laid out as (fhandle,offset,length,data)* back to back. When a
// checkpoint is active, every element must target the same file
// (spec.md §4.10/§4.11; cross-file checkpointed writev is permanently
// rejected).
func handleWritev(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	elems, offsets, err := decodeWritevPayload(rc.Payload)
	if err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, err.Error())
		return serr
	}

	var keys []string
	for _, el := range elems {
		f := rc.Session.Files.Get(int(el.Fhandle))
		if f == nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrFileNotOpen, "file handle not open")
			return serr
		}
		keys = append(keys, f.Key)
	}
	if anyCheckpointed(d, keys) {
		if err := checkpoint.CheckWritevFiles(keys); err != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrUnsupported, err.Error())
			return serr
		}
	}

	for i, el := range elems {
		f := rc.Session.Files.Get(int(el.Fhandle))
		data := offsets[i]
		if slot := d.Checkpoints.Active(f.Key); slot != nil {
			if err := slot.RecordBefore(ctx, el.Offset, int64(len(data))); err != nil {
				_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgTooLong, err.Error())
				return serr
			}
		}
		n, werr := f.Backend.WriteAt(data, el.Offset)
		f.Stats.RecordWrite(int64(n))
		if werr != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(werr), werr.Error())
			return serr
		}
	}
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

func anyCheckpointed(d *Dispatcher, keys []string) bool {
	for _, k := range keys {
		if d.Checkpoints.Active(k) != nil {
			return true
		}
	}
	return false
}

// decodeWritevPayload splits a writev payload into its fixed 16-byte
// elements and each element's trailing data slice.
func decodeWritevPayload(payload []byte) ([]wire.ReadvElement, [][]byte, error) {
	var elems []wire.ReadvElement
	var datas [][]byte
	for len(payload) > 0 {
		if len(payload) < 16 {
			return nil, nil, errTruncatedWritevElement
		}
		el, err := wire.DecodeReadvList(payload[:16])
		if err != nil {
			return nil, nil, err
		}
		payload = payload[16:]
		n := int(el[0].Length)
		if len(payload) < n {
			return nil, nil, errTruncatedWritevElement
		}
		elems = append(elems, el[0])
		datas = append(datas, payload[:n])
		payload = payload[n:]
	}
	return elems, datas, nil
}
