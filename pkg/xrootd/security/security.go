// Package security defines the pluggable authentication capability (spec.md
// §1/§4.5: a challenge/response provider external to the core).
package security

import "context"

// Identity is the authenticated principal established by a successful
// Authenticate call.
type Identity struct {
	Name string
	Role string
}

// Continuation carries an opaque challenge the client must answer with a
// further `auth` request (session phase transitions to needs-auth).
type Continuation struct {
	Challenge []byte
}

// Provider authenticates a session. A single call may need more data from
// the client (returns a non-nil Continuation and nil Identity) before
// succeeding.
type Provider interface {
	Authenticate(ctx context.Context, params []byte) (*Identity, *Continuation, error)
}

// AllowAll is a Provider that authenticates every request unconditionally;
// used by tests and by deployments that delegate auth to the transport
// layer (e.g. mTLS termination upstream of the Link).
type AllowAll struct{}

func (AllowAll) Authenticate(context.Context, []byte) (*Identity, *Continuation, error) {
	return &Identity{Name: "anonymous", Role: "anonymous"}, nil, nil
}

var _ Provider = AllowAll{}
