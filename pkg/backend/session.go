package backend

import (
	"time"

	"github.com/systmms/vaultsync/internal/secure"
)

// State is the lifecycle state of a backend session.
type State int

const (
	StateUnauthenticated State = iota
	StateLocked
	StateUnlocked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session is an immutable authentication handle bound to one backend. It is
// safe to share across goroutines. A refreshed session is a new value with a
// higher Generation.
type Session struct {
	backend    string
	state      State
	token      *secure.Token
	live       bool
	generation int
	acquiredAt time.Time
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	Backend    string
	State      State
	Token      string
	Live       bool
	Generation int
}

// NewSession seals the token and returns a session.
func NewSession(opts SessionOptions) *Session {
	return &Session{
		backend:    opts.Backend,
		state:      opts.State,
		token:      secure.NewToken(opts.Token),
		live:       opts.Live,
		generation: opts.Generation,
		acquiredAt: time.Now(),
	}
}

func (s *Session) Backend() string       { return s.backend }
func (s *Session) State() State          { return s.state }
func (s *Session) Generation() int       { return s.generation }
func (s *Session) AcquiredAt() time.Time { return s.acquiredAt }

// Live reports whether the session may be used for remote calls. Sessions
// created in offline mode are never live.
func (s *Session) Live() bool {
	return s != nil && s.live
}

// Token reveals the raw token for handing to a child process. Returns "" for
// nil sessions and backends without tokens.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token.Reveal()
}

// HasToken reports whether the session carries a token.
func (s *Session) HasToken() bool {
	return s != nil && !s.token.Empty()
}

// Close wipes the token.
func (s *Session) Close() {
	if s != nil {
		s.token.Destroy()
	}
}

// GoString keeps the token out of %#v output.
func (s *Session) GoString() string {
	return "backend.Session{backend: " + s.backend + ", state: " + s.state.String() + ", token: [REDACTED]}"
}
