// Package session implements the per-Link protocol phase state machine
// (spec.md §3/§4.5): new -> logged-in -> needs-auth -> bound-path, gating
// which requests a dispatcher may honor in each phase.
//
// Grounded on the teacher's per-connection session object (one instance per
// transport connection, carrying identity, capability bits, and its own
// per-connection resource tables) used across its NFS v4 and SMB2 session
// layers.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/filetable"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/monitor"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/security"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// Phase is the session's current protocol phase.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseLoggedIn
	PhaseNeedsAuth
	PhaseAdmin
	PhaseBoundPath
	PhaseTeardown
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseLoggedIn:
		return "logged-in"
	case PhaseNeedsAuth:
		return "needs-auth"
	case PhaseAdmin:
		return "admin"
	case PhaseBoundPath:
		return "bound-path"
	case PhaseTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Counters are the per-session monotonic operation counters spec.md §3
// names (reads, writes, readv segments, total bytes read by pre-read).
type Counters struct {
	Reads            atomic.Int64
	Writes           atomic.Int64
	ReadvSegments    atomic.Int64
	PreReadBytes     atomic.Int64
}

// Session is one Link's protocol state (spec.md §3).
type Session struct {
	ID       string // opaque, used as the lock/owner key
	Identity *security.Identity
	Version  uint32
	Monitor  monitor.Monitor

	mu    sync.Mutex
	phase Phase

	Files    *filetable.Table
	Counters Counters

	// boundTo, when set, is the primary session this link is an auxiliary
	// bound-path for (spec.md GLOSSARY "Bound path").
	boundTo *Session
}

// New creates a session in the new phase with a fresh, empty File Table.
func New(id string, mon monitor.Monitor) *Session {
	return &Session{
		ID:      id,
		Monitor: mon,
		phase:   PhaseNew,
		Files:   filetable.New(),
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// allowedByPhase is the allowed-request table from spec.md §4.5.
func allowedByPhase(p Phase, req wire.RequestCode) bool {
	switch p {
	case PhaseNew:
		return req == wire.ReqLogin || req == wire.ReqProtocol || req == wire.ReqBind
	case PhaseNeedsAuth:
		return req == wire.ReqAuth || req == wire.ReqProtocol || req == wire.ReqPing
	case PhaseLoggedIn:
		return true
	case PhaseBoundPath:
		return false
	default:
		return false
	}
}

// Allowed reports whether req may be processed in the session's current
// phase.
func (s *Session) Allowed(req wire.RequestCode) bool {
	return allowedByPhase(s.Phase(), req)
}

// Login transitions new -> logged-in on a successful login; identity is
// attached once authentication (if any) completes.
func (s *Session) Login(identity *security.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Identity = identity
	s.phase = PhaseLoggedIn
}

// NeedsMoreAuth transitions logged-in -> needs-auth when a Provider returns
// a Continuation.
func (s *Session) NeedsMoreAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseNeedsAuth
}

// AuthComplete transitions needs-auth -> logged-in on a successful auth
// continuation.
func (s *Session) AuthComplete(identity *security.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Identity = identity
	s.phase = PhaseLoggedIn
}

// Bind transitions logged-in -> bound-path; terminal for this link (spec.md
// §4.5: "no standalone identity", it only carries auxiliary streams for an
// owning session).
func (s *Session) Bind(owner *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseBoundPath
	s.boundTo = owner
}

// BoundTo returns the owning session for a bound-path link, or nil.
func (s *Session) BoundTo() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundTo
}

// Teardown releases the session's File Table, emitting monitor close events
// for every still-open file, and marks the session torn down. Must only be
// called once the link is known quiescent (spec.md §4.2 Recycle contract).
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files.Recycle(s.Monitor)
	s.phase = PhaseTeardown
}
