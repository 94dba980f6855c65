package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// fattrName reads a length-prefixed (uint8) attribute name off the front of
// b, returning the remainder.
func fattrName(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("dispatch: truncated fattr name length")
	}
	n := int(b[0])
	b = b[1:]
	if len(b) < n {
		return "", nil, fmt.Errorf("dispatch: truncated fattr name")
	}
	return string(b[:n]), b[n:], nil
}

// handleFattr sub-dispatches on the fattr sub-code (spec.md §4.12): get/set
// operate on a leading count of (name[,value]) entries, list ignores
// NumAttr and returns every name set on the file, del removes one or more
// named attributes.
func handleFattr(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	fb := wire.DecodeFattrBody(rc.Header.Body)
	f, ok := lookupFile(rc, fb.Fhandle)
	if !ok {
		return nil
	}

	switch fb.SubCode {
	case wire.FattrGet:
		return handleFattrGet(d, rc, f.Key, int(fb.NumAttr), rc.Payload)
	case wire.FattrSet:
		return handleFattrSet(d, rc, f.Key, int(fb.NumAttr), rc.Payload)
	case wire.FattrDel:
		return handleFattrDel(d, rc, f.Key, int(fb.NumAttr), rc.Payload)
	case wire.FattrList:
		return handleFattrList(d, rc, f.Key)
	default:
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrUnsupported, "unknown fattr sub-code")
		return serr
	}
}

// handleFattrGet replies with a leading error count and attr count (spec.md
// §6.1), followed by each result: a status byte and, on success, a
// length-prefixed value.
func handleFattrGet(d *Dispatcher, rc *reqContext, key string, numAttr int, payload []byte) error {
	var out []byte
	var numErrors uint16
	rest := payload
	for i := 0; i < numAttr; i++ {
		name, tail, err := fattrName(rest)
		if err != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, err.Error())
			return serr
		}
		rest = tail

		value, attrErr := d.attrs.get(key, name)
		if attrErr != nil {
			numErrors++
			out = append(out, 1)
			continue
		}
		out = append(out, 0)
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(value)))
		out = append(out, lenBuf...)
		out = append(out, value...)
	}

	head := make([]byte, 4)
	binary.BigEndian.PutUint16(head[0:2], numErrors)
	binary.BigEndian.PutUint16(head[2:4], uint16(numAttr))
	_, serr := rc.Framer.Ok(rc.Header.StreamID, head, out)
	return serr
}

func handleFattrSet(d *Dispatcher, rc *reqContext, key string, numAttr int, payload []byte) error {
	rest := payload
	for i := 0; i < numAttr; i++ {
		name, tail, err := fattrName(rest)
		if err != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, err.Error())
			return serr
		}
		if len(tail) < 4 {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, "truncated fattr value length")
			return serr
		}
		vlen := int(binary.BigEndian.Uint32(tail[0:4]))
		tail = tail[4:]
		if len(tail) < vlen {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, "truncated fattr value")
			return serr
		}
		value := tail[:vlen]
		rest = tail[vlen:]

		if err := d.attrs.set(key, name, value); err != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, err.Error())
			return serr
		}
	}
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

func handleFattrDel(d *Dispatcher, rc *reqContext, key string, numAttr int, payload []byte) error {
	rest := payload
	var numErrors uint16
	for i := 0; i < numAttr; i++ {
		name, tail, err := fattrName(rest)
		if err != nil {
			_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgInvalid, err.Error())
			return serr
		}
		rest = tail
		if err := d.attrs.del(key, name); err != nil {
			numErrors++
		}
	}
	head := make([]byte, 4)
	binary.BigEndian.PutUint16(head[0:2], numErrors)
	binary.BigEndian.PutUint16(head[2:4], uint16(numAttr))
	_, serr := rc.Framer.Ok(rc.Header.StreamID, head)
	return serr
}

func handleFattrList(d *Dispatcher, rc *reqContext, key string) error {
	names := d.attrs.list(key)
	var out []byte
	for _, name := range names {
		out = append(out, byte(len(name)))
		out = append(out, name...)
	}
	head := make([]byte, 2)
	binary.BigEndian.PutUint16(head, uint16(len(names)))
	_, serr := rc.Framer.Ok(rc.Header.StreamID, head, out)
	return serr
}
