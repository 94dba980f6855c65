package dispatch

import (
	"context"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// handleProtocol replies with the server's protocol version and role bit
// (spec.md §4.1/§4.5); allowed in the new, needs-auth and logged-in phases.
func handleProtocol(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	body := wire.EncodeHandshakeReply(d.Cfg.IsLoadBalancer)
	_, err := rc.Framer.Ok(rc.Header.StreamID, body)
	return err
}

// handlePing answers a keepalive; allowed in the needs-auth and logged-in
// phases.
func handlePing(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	_, err := rc.Framer.Ok(rc.Header.StreamID)
	return err
}

// handleLogin authenticates (or, with an AllowAll provider, unconditionally
// admits) the session and transitions new -> logged-in, or logged-in ->
// needs-auth if the provider demands a continuation (spec.md §4.5).
func handleLogin(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	identity, cont, err := d.Security.Authenticate(ctx, rc.Payload)
	if err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrNotAuthorized, err.Error())
		return serr
	}
	if cont != nil {
		rc.Session.NeedsMoreAuth()
		_, serr := rc.Framer.AuthMore(rc.Header.StreamID, cont.Challenge)
		return serr
	}
	rc.Session.Login(identity)
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

// handleAuth completes a pending authentication continuation, transitioning
// needs-auth -> logged-in, or issuing a further challenge.
func handleAuth(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	identity, cont, err := d.Security.Authenticate(ctx, rc.Payload)
	if err != nil {
		_, serr := rc.Framer.Error(rc.Header.StreamID, wire.ErrNotAuthorized, err.Error())
		return serr
	}
	if cont != nil {
		_, serr := rc.Framer.AuthMore(rc.Header.StreamID, cont.Challenge)
		return serr
	}
	rc.Session.AuthComplete(identity)
	_, serr := rc.Framer.Ok(rc.Header.StreamID)
	return serr
}

// handleBind transitions this link to bound-path, terminal for the link: it
// now only carries auxiliary streams for the owning session (spec.md
// §4.5/GLOSSARY "Bound path").
func handleBind(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	rc.Session.Bind(rc.Session)
	_, err := rc.Framer.Ok(rc.Header.StreamID)
	return err
}

// handleEndsess tears the session down: its File Table is recycled (every
// still-open file emits a monitor close event) and every lock it holds is
// released.
func handleEndsess(ctx context.Context, d *Dispatcher, rc *reqContext) error {
	files := rc.Session.Files
	for h, left := 0, files.Len(); left > 0; h++ {
		if f := files.Get(h); f != nil {
			d.Locks.ReleaseAllForOwner(f.Key, rc.Session.ID)
			left--
		}
	}
	rc.Session.Teardown()
	_, err := rc.Framer.Ok(rc.Header.StreamID)
	return err
}
