package dispatch

import (
	"context"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/file"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/filesystem"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// lookupFile resolves fhandle against the session's File Table, sending an
// ErrFileNotOpen response and returning ok=false when it isn't open.
func lookupFile(rc *reqContext, fhandle uint32) (*file.File, bool) {
	f := rc.Session.Files.Get(int(fhandle))
	if f == nil {
		_, _ = rc.Framer.Error(rc.Header.StreamID, wire.ErrFileNotOpen, "file handle not open")
		return nil, false
	}
	return f, true
}

// handleOpen opens (optionally creating) the path named in the payload and
// installs a File Table entry for it (spec.md §3/§4.2).
func handleOpen(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	ob := wire.DecodeOpenBody(rc.Header.Body)
	path := string(rc.Payload)

	writeMode := ob.Options&uint16(wire.OpenUpdate) != 0 || ob.Options&uint16(wire.OpenNew) != 0 || ob.Options&uint16(wire.OpenAppend) != 0
	create := ob.Options&uint16(wire.OpenNew) != 0 || ob.Options&uint16(wire.OpenMkpath) != 0

	backend, err := d.FS.Open(ctx, path, writeMode, create)
	if err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(err), err.Error())
		return serr
	}

	st, err := backend.Stat(ctx)
	if err != nil {
		_ = backend.Close(ctx)
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(err), err.Error())
		return serr
	}

	mode := file.ModeRead
	if writeMode {
		mode = file.ModeWrite
	}
	key := file.NewKey(st, path)
	f := file.New(path, backend, mode, ob.Options&uint16(wire.OpenAsync) != 0, key)

	fhandle := rc.Session.Files.Add(f)
	rc.Session.Monitor.FileOpen(key, path, writeMode)

	respBody := make([]byte, 4)
	putUint32(respBody, uint32(fhandle))

	if ob.Options&uint16(wire.OpenRetstat) != 0 {
		statBody := wire.EncodeStatReply(st.Size, statFlagsFor(st), st.Mtime)
		_, serr := rc.Framer.Ok(rc.Header.StreamID, respBody, statBody)
		return serr
	}
	_, serr := rc.Framer.Ok(rc.Header.StreamID, respBody)
	return serr
}

// handleClose releases a File Table entry: releases any locks the session
// holds on it and, if the handle's refcount has other holders (pending
// async tasks), defers the backend Close until the last Unref (spec.md §3
// invariant a, §4.3).
func handleClose(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	cb := wire.DecodeCloseBody(rc.Header.Body)
	f := rc.Session.Files.Del(int(cb.Fhandle))
	if f == nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrFileNotOpen, "file handle not open")
		return serr
	}

	d.Locks.ReleaseAllForOwner(f.Key, rc.Session.ID)

	var closeErr error
	if f.Unref() {
		closeErr = f.Backend.Close(ctx)
	}
	stats := f.Stats.Snapshot()
	rc.Session.Monitor.FileClose(f.Key, stats.BytesRead, stats.BytesWritten, 0)

	if closeErr != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(closeErr), closeErr.Error())
		return serr
	}
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

// handleStat answers both `stat` (by path, in rc.Payload) and `statx` (by
// open fhandle, in the request body) shapes (spec.md §4.2).
func handleStat(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	var st filesystem.Stat
	var err error

	if rc.Header.Request == wire.ReqStatx {
		rb := wire.DecodeReadBody(rc.Header.Body) // fhandle shares the leading 4 bytes
		f, ok := lookupFile(rc, rb.Fhandle)
		if !ok {
			return nil
		}
		st, err = f.Backend.Stat(ctx)
	} else {
		st, err = d.FS.StatPath(ctx, string(rc.Payload))
	}

	if err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(err), err.Error())
		return serr
	}
	body := wire.EncodeStatReply(st.Size, statFlagsFor(st), st.Mtime)
	_, serr := rc.Framer.Ok(rc.Header.StreamID, body)
	return serr
}

// handleTruncate resizes an open file, recording a checkpoint pre-image
// first if one is active on it (spec.md §4.11).
func handleTruncate(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	cb := wire.DecodeCloseBody(rc.Header.Body) // fhandle+size share this layout
	f, ok := lookupFile(rc, cb.Fhandle)
	if !ok {
		return nil
	}

	if slot := d.Checkpoints.Active(f.Key); slot != nil {
		if prior, err := f.Backend.Stat(ctx); err == nil && cb.Fsize < prior.Size {
			if err := slot.RecordBefore(ctx, cb.Fsize, prior.Size-cb.Fsize); err != nil {
				_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrArgTooLong, err.Error())
				return serr
			}
		}
	}

	if err := f.Backend.Truncate(ctx, cb.Fsize); err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(err), err.Error())
		return serr
	}
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

// handleSync flushes an open file's backend buffering to stable storage.
func handleSync(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	rb := wire.DecodeReadBody(rc.Header.Body)
	f, ok := lookupFile(rc, rb.Fhandle)
	if !ok {
		return nil
	}
	if err := f.Backend.Sync(ctx); err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrorFromErr(err), err.Error())
		return serr
	}
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

func statFlagsFor(st filesystem.Stat) uint32 {
	flags := st.Flags
	if st.IsDir {
		flags |= uint32(wire.StatIsDir)
	}
	return flags
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
