// Package session resolves and caches the authenticated session a backend
// needs, once per process.
//
// Resolution order: override environment variable, cached token, login
// check, interactive unlock. A new token is persisted through a Store. A
// SessionExpired failure mid-run triggers at most one re-authentication.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/pkg/backend"
)

// OverrideEnvVar is checked after the backend's own override variable.
const OverrideEnvVar = "VAULTSYNC_SESSION"

// Options configures a Manager.
type Options struct {
	Store       Store
	Interactive bool // allow Unlock to prompt
	Offline     bool
	Logger      *logging.Logger
	Getenv      func(string) string
}

// Manager hands out the Session for one backend.
type Manager struct {
	backend backend.Backend
	store   Store
	opts    Options
	logger  *logging.Logger
	getenv  func(string) string

	mu         sync.Mutex
	resolved   bool
	current    *backend.Session
	err        error
	reauthed   bool
	generation int
	issued     []*backend.Session
}

// NewManager creates a Manager for b.
func NewManager(b backend.Backend, opts Options) *Manager {
	m := &Manager{
		backend: b,
		store:   opts.Store,
		opts:    opts,
		logger:  opts.Logger,
		getenv:  opts.Getenv,
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	if m.getenv == nil {
		m.getenv = os.Getenv
	}
	return m
}

// Backend returns the managed backend.
func (m *Manager) Backend() backend.Backend { return m.backend }

// Offline reports whether the manager runs in offline mode.
func (m *Manager) Offline() bool { return m.opts.Offline }

// GetSession resolves the session on first call and returns the same result
// afterwards. Concurrent callers wait for the single resolution.
func (m *Manager) GetSession(ctx context.Context) (*backend.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved {
		return m.current, m.err
	}
	m.current, m.err = m.resolve(ctx)
	// a cancelled resolution may be retried
	m.resolved = ctx.Err() == nil
	if m.current != nil {
		m.issued = append(m.issued, m.current)
	}
	return m.current, m.err
}

// Reauthenticate replaces an expired session. It runs at most once per
// Manager; if another caller already refreshed past stale, the refreshed
// session is returned without prompting again.
func (m *Manager) Reauthenticate(ctx context.Context, stale *backend.Session) (*backend.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && stale != nil && m.current.Generation() > stale.Generation() {
		return m.current, nil
	}
	if m.opts.Offline {
		return nil, m.offlineError("re-authenticate")
	}
	if m.reauthed {
		return nil, dserrors.New(dserrors.KindSessionExpired, "re-authenticate",
			"session expired again after re-authentication").
			WithBackend(m.backend.Name()).
			WithRemediation(m.backend.UnlockCommand())
	}
	m.reauthed = true

	m.logger.Warn("%s session expired, re-authenticating", m.backend.Name())
	if m.store != nil {
		if err := m.store.Delete(m.backend.Name()); err != nil {
			m.logger.Debug("could not clear cached session: %v", err)
		}
	}

	s, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	m.current, m.err, m.resolved = s, nil, true
	m.issued = append(m.issued, s)
	return s, nil
}

// Close wipes the tokens of every session this Manager handed out. A later
// GetSession resolves again.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.issued {
		s.Close()
	}
	m.issued = nil
	m.current, m.err, m.resolved = nil, nil, false
}

// Do runs fn with s. If fn fails with SessionExpired, the session is
// refreshed once and fn runs again with the new session.
func (m *Manager) Do(ctx context.Context, s *backend.Session, fn func(*backend.Session) error) error {
	err := fn(s)
	if !dserrors.IsKind(err, dserrors.KindSessionExpired) {
		return err
	}
	fresh, rerr := m.Reauthenticate(ctx, s)
	if rerr != nil {
		return rerr
	}
	return fn(fresh)
}

// Forget drops the cached token.
func (m *Manager) Forget() error {
	if m.store == nil {
		return nil
	}
	return m.store.Delete(m.backend.Name())
}

func (m *Manager) resolve(ctx context.Context) (*backend.Session, error) {
	caps := m.backend.Capabilities()

	if m.opts.Offline {
		live := !caps.Remote && !caps.RequiresSession
		m.logger.Debug("offline mode: %s session live=%t", m.backend.Name(), live)
		state := backend.StateLocked
		if live {
			state = backend.StateUnlocked
		}
		return m.newSession(state, "", live), nil
	}

	if !caps.RequiresSession {
		return m.ambient(ctx)
	}

	if tok, source := m.override(); tok != "" {
		state, err := m.backend.Status(ctx, tok)
		if err != nil {
			return nil, err
		}
		if state == backend.StateUnlocked {
			m.logger.Debug("using session from %s", source)
			return m.newSession(state, tok, true), nil
		}
		m.logger.Warn("session in %s is %s, ignoring it", source, state)
	}

	if s, err := m.cached(ctx); s != nil || err != nil {
		return s, err
	}

	return m.acquire(ctx)
}

// ambient handles backends that authenticate outside vaultsync (gpg-agent,
// the AWS credential chain).
func (m *Manager) ambient(ctx context.Context) (*backend.Session, error) {
	state, err := m.backend.Status(ctx, "")
	if err != nil {
		return nil, err
	}
	if state != backend.StateUnlocked {
		return nil, dserrors.New(dserrors.KindAuthRequired, "get session",
			fmt.Sprintf("%s credentials are %s", m.backend.Name(), state)).
			WithBackend(m.backend.Name()).
			WithRemediation(m.backend.LoginCommand())
	}
	return m.newSession(state, "", true), nil
}

func (m *Manager) override() (token, source string) {
	if name := m.backend.SessionEnvVar(); name != "" {
		if v := m.getenv(name); v != "" {
			return v, name
		}
	}
	if v := m.getenv(OverrideEnvVar); v != "" {
		return v, OverrideEnvVar
	}
	return "", ""
}

// cached returns a session from the store when its token still validates.
// A corrupt or rejected token is removed and never used.
func (m *Manager) cached(ctx context.Context) (*backend.Session, error) {
	if m.store == nil {
		return nil, nil
	}
	name := m.backend.Name()

	tok, err := m.store.Load(name)
	switch {
	case errors.Is(err, ErrNotCached):
		return nil, nil
	case errors.Is(err, ErrCorrupt):
		m.logger.Warn("ignoring corrupt cached %s session", name)
		_ = m.store.Delete(name)
		return nil, nil
	case err != nil:
		m.logger.Debug("session cache unavailable: %v", err)
		return nil, nil
	}

	state, err := m.backend.Status(ctx, tok)
	if err != nil {
		return nil, err
	}
	if state == backend.StateUnlocked {
		m.logger.Debug("reusing cached %s session", name)
		return m.newSession(state, tok, true), nil
	}
	m.logger.Debug("cached %s session is %s", name, state)
	_ = m.store.Delete(name)
	return nil, nil
}

// acquire checks the login state and unlocks, then persists the token.
func (m *Manager) acquire(ctx context.Context) (*backend.Session, error) {
	name := m.backend.Name()

	if !m.backend.LoginCheck(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, dserrors.New(dserrors.KindAuthRequired, "get session", "not logged in").
			WithBackend(name).
			WithRemediation(m.backend.LoginCommand())
	}

	if !m.opts.Interactive {
		return nil, dserrors.New(dserrors.KindAuthRequired, "get session",
			"vault is locked and no terminal is available to unlock it").
			WithBackend(name).
			WithRemediation(unlockHint(m.backend))
	}

	tok, err := m.backend.Unlock(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, dserrors.New(dserrors.KindAuthRequired, "unlock", "no session token returned").
			WithBackend(name).
			WithRemediation(m.backend.UnlockCommand())
	}

	if m.store != nil {
		if err := m.store.Save(name, tok); err != nil {
			m.logger.Warn("could not cache %s session: %v", name, err)
		}
	}
	return m.newSession(backend.StateUnlocked, tok, true), nil
}

func (m *Manager) newSession(state backend.State, tok string, live bool) *backend.Session {
	m.generation++
	return backend.NewSession(backend.SessionOptions{
		Backend:    m.backend.Name(),
		State:      state,
		Token:      tok,
		Live:       live,
		Generation: m.generation,
	})
}

func (m *Manager) offlineError(op string) error {
	return dserrors.New(dserrors.KindOfflineUnavailable, op, "offline mode has no live session").
		WithBackend(m.backend.Name()).
		WithRemediation("unset VAULTSYNC_OFFLINE and retry")
}

// unlockHint names the unlock command and the override variable a
// non-interactive run can use instead.
func unlockHint(b backend.Backend) string {
	if env := b.SessionEnvVar(); env != "" {
		return fmt.Sprintf("%s (or set %s)", b.UnlockCommand(), env)
	}
	return b.UnlockCommand()
}
