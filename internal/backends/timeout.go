package backends

import (
	"context"
	"errors"
	"fmt"
	"time"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
)

// TimeoutBackend bounds every remote call of the wrapped backend. Unlock is
// interactive and is not bounded.
type TimeoutBackend struct {
	inner   backend.Backend
	timeout time.Duration
}

// WithTimeout decorates b so each call runs under context.WithTimeout(d).
// A deadline is reported as a non-retryable BackendUnavailable error.
func WithTimeout(b backend.Backend, d time.Duration) *TimeoutBackend {
	if tb, ok := b.(*TimeoutBackend); ok {
		b = tb.inner
	}
	return &TimeoutBackend{inner: b, timeout: d}
}

// Unwrap returns the decorated backend.
func (t *TimeoutBackend) Unwrap() backend.Backend { return t.inner }

func (t *TimeoutBackend) call(ctx context.Context, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return &dserrors.Error{
			Kind:        dserrors.KindBackendUnavailable,
			Op:          op,
			Backend:     t.inner.Name(),
			Reason:      fmt.Sprintf("timed out after %s", t.timeout),
			Remediation: timeoutSuggestion(t.inner.Name(), t.timeout),
			Retryable:   false,
			Err:         context.DeadlineExceeded,
		}
	}
	return err
}

// timeoutSuggestion gives one backend-specific next step for a timeout.
func timeoutSuggestion(backendName string, d time.Duration) string {
	slow := d < 10*time.Second
	switch backendName {
	case "bitwarden":
		if slow {
			return "vaultsync --timeout 30s ... (bw can be slow), or check bw status"
		}
		return "bw status"
	case "1password":
		if slow {
			return "vaultsync --timeout 30s ... (op can be slow), or check op whoami"
		}
		return "op whoami"
	case "pass":
		return "gpg-connect-agent /bye"
	case "aws.secretsmanager":
		return "aws sts get-caller-identity"
	}
	return "vaultsync doctor"
}

func (t *TimeoutBackend) Name() string                       { return t.inner.Name() }
func (t *TimeoutBackend) Capabilities() backend.Capabilities { return t.inner.Capabilities() }
func (t *TimeoutBackend) SessionEnvVar() string              { return t.inner.SessionEnvVar() }
func (t *TimeoutBackend) LoginCommand() string               { return t.inner.LoginCommand() }
func (t *TimeoutBackend) UnlockCommand() string              { return t.inner.UnlockCommand() }

func (t *TimeoutBackend) Unlock(ctx context.Context) (string, error) {
	return t.inner.Unlock(ctx)
}

func (t *TimeoutBackend) Init(ctx context.Context) error {
	return t.call(ctx, "init", t.inner.Init)
}

func (t *TimeoutBackend) LoginCheck(ctx context.Context) bool {
	var ok bool
	_ = t.call(ctx, "login check", func(ctx context.Context) error {
		ok = t.inner.LoginCheck(ctx)
		return nil
	})
	return ok
}

func (t *TimeoutBackend) Status(ctx context.Context, token string) (backend.State, error) {
	var state backend.State
	err := t.call(ctx, "check status", func(ctx context.Context) error {
		var err error
		state, err = t.inner.Status(ctx, token)
		return err
	})
	return state, err
}

func (t *TimeoutBackend) Sync(ctx context.Context, s *backend.Session) error {
	return t.call(ctx, "sync", func(ctx context.Context) error {
		return t.inner.Sync(ctx, s)
	})
}

func (t *TimeoutBackend) GetItem(ctx context.Context, s *backend.Session, name string) (*backend.ItemRecord, error) {
	var rec *backend.ItemRecord
	err := t.call(ctx, "get item", func(ctx context.Context) error {
		var err error
		rec, err = t.inner.GetItem(ctx, s, name)
		return err
	})
	return rec, err
}

func (t *TimeoutBackend) GetNotes(ctx context.Context, s *backend.Session, name string) (string, error) {
	var notes string
	err := t.call(ctx, "get notes", func(ctx context.Context) error {
		var err error
		notes, err = t.inner.GetNotes(ctx, s, name)
		return err
	})
	return notes, err
}

func (t *TimeoutBackend) ItemExists(ctx context.Context, s *backend.Session, name string) (bool, error) {
	var ok bool
	err := t.call(ctx, "check item", func(ctx context.Context) error {
		var err error
		ok, err = t.inner.ItemExists(ctx, s, name)
		return err
	})
	return ok, err
}

func (t *TimeoutBackend) ListItems(ctx context.Context, s *backend.Session) ([]backend.ItemRecord, error) {
	var items []backend.ItemRecord
	err := t.call(ctx, "list items", func(ctx context.Context) error {
		var err error
		items, err = t.inner.ListItems(ctx, s)
		return err
	})
	return items, err
}

func (t *TimeoutBackend) CreateItem(ctx context.Context, s *backend.Session, name, content string) error {
	return t.call(ctx, "create item", func(ctx context.Context) error {
		return t.inner.CreateItem(ctx, s, name, content)
	})
}

func (t *TimeoutBackend) UpdateItem(ctx context.Context, s *backend.Session, name, content string) error {
	return t.call(ctx, "update item", func(ctx context.Context) error {
		return t.inner.UpdateItem(ctx, s, name, content)
	})
}

func (t *TimeoutBackend) DeleteItem(ctx context.Context, s *backend.Session, name string) error {
	return t.call(ctx, "delete item", func(ctx context.Context) error {
		return t.inner.DeleteItem(ctx, s, name)
	})
}

func (t *TimeoutBackend) unsupported(op string) error {
	return dserrors.New(dserrors.KindBackendUnavailable, op, "not supported by this backend").
		WithBackend(t.inner.Name()).
		WithRemediation("vaultsync backends")
}

// The optional interfaces below are always present on the decorator;
// callers check Capabilities().Locations before using Locator.

func (t *TimeoutBackend) ListLocations(ctx context.Context, s *backend.Session) ([]string, error) {
	loc, ok := t.inner.(backend.Locator)
	if !ok {
		return nil, t.unsupported("list locations")
	}
	var out []string
	err := t.call(ctx, "list locations", func(ctx context.Context) error {
		var err error
		out, err = loc.ListLocations(ctx, s)
		return err
	})
	return out, err
}

func (t *TimeoutBackend) LocationExists(ctx context.Context, s *backend.Session, location string) (bool, error) {
	loc, ok := t.inner.(backend.Locator)
	if !ok {
		return false, t.unsupported("check location")
	}
	var exists bool
	err := t.call(ctx, "check location", func(ctx context.Context) error {
		var err error
		exists, err = loc.LocationExists(ctx, s, location)
		return err
	})
	return exists, err
}

func (t *TimeoutBackend) CreateLocation(ctx context.Context, s *backend.Session, location string) error {
	loc, ok := t.inner.(backend.Locator)
	if !ok {
		return t.unsupported("create location")
	}
	return t.call(ctx, "create location", func(ctx context.Context) error {
		return loc.CreateLocation(ctx, s, location)
	})
}

func (t *TimeoutBackend) ListItemsInLocation(ctx context.Context, s *backend.Session, location string) ([]backend.ItemRecord, error) {
	loc, ok := t.inner.(backend.Locator)
	if !ok {
		return nil, t.unsupported("list location items")
	}
	var items []backend.ItemRecord
	err := t.call(ctx, "list location items", func(ctx context.Context) error {
		var err error
		items, err = loc.ListItemsInLocation(ctx, s, location)
		return err
	})
	return items, err
}

func (t *TimeoutBackend) CreateItemInLocation(ctx context.Context, s *backend.Session, location, name, content string) error {
	loc, ok := t.inner.(backend.Locator)
	if !ok {
		return t.unsupported("create item")
	}
	return t.call(ctx, "create item", func(ctx context.Context) error {
		return loc.CreateItemInLocation(ctx, s, location, name, content)
	})
}

func (t *TimeoutBackend) GetItemID(ctx context.Context, s *backend.Session, name string) (string, error) {
	r, ok := t.inner.(backend.IDResolver)
	if !ok {
		return "", t.unsupported("get item id")
	}
	var id string
	err := t.call(ctx, "get item id", func(ctx context.Context) error {
		var err error
		id, err = r.GetItemID(ctx, s, name)
		return err
	})
	return id, err
}

func (t *TimeoutBackend) HealthCheck(ctx context.Context) error {
	h, ok := t.inner.(backend.HealthChecker)
	if !ok {
		return t.Init(ctx)
	}
	return t.call(ctx, "health check", h.HealthCheck)
}

var (
	_ backend.Backend       = (*TimeoutBackend)(nil)
	_ backend.Locator       = (*TimeoutBackend)(nil)
	_ backend.IDResolver    = (*TimeoutBackend)(nil)
	_ backend.HealthChecker = (*TimeoutBackend)(nil)
	_ backend.Locator       = (*Bitwarden)(nil)
	_ backend.Locator       = (*OnePassword)(nil)
	_ backend.Locator       = (*Pass)(nil)
	_ backend.Locator       = (*AWSSecretsManager)(nil)
	_ backend.IDResolver    = (*Bitwarden)(nil)
	_ backend.HealthChecker = (*AWSSecretsManager)(nil)
)
