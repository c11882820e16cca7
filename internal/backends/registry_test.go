package backends_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/backends"
	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
	"github.com/systmms/vaultsync/tests/fakes"
)

func TestRegistry_SupportedTypes(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	assert.Equal(t,
		[]string{"1password", "aws.secretsmanager", "bitwarden", "onepassword", "pass"},
		r.SupportedTypes())
	assert.True(t, r.IsSupported("pass"))
	assert.False(t, r.IsSupported("lastpass"))
}

func TestRegistry_Create(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()

	b, err := r.Create("onepassword", nil)
	require.NoError(t, err)
	assert.Equal(t, "1password", b.Name())

	b, err = r.Create("bitwarden", map[string]interface{}{})
	require.NoError(t, err)
	_, wrapped := b.(*backends.TimeoutBackend)
	assert.False(t, wrapped)
}

func TestRegistry_CreateUnknown(t *testing.T) {
	t.Parallel()

	_, err := backends.NewRegistry().Create("lastpass", nil)
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "backend", cfgErr.Field)
	assert.Equal(t, "lastpass", cfgErr.Value)
	assert.Contains(t, cfgErr.Suggestion, "bitwarden")
}

func TestRegistry_CallTimeout(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	r.Register("fake", func(cfg map[string]interface{}, opts ...backends.Option) (backend.Backend, error) {
		return fakes.NewFakeBackend("fake"), nil
	})

	b, err := r.Create("fake", nil, backends.WithCallTimeout(time.Second))
	require.NoError(t, err)
	tb, ok := b.(*backends.TimeoutBackend)
	require.True(t, ok)
	assert.IsType(t, &fakes.FakeBackend{}, tb.Unwrap())
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	r.Register("broken", func(cfg map[string]interface{}, opts ...backends.Option) (backend.Backend, error) {
		return nil, errors.New("missing region")
	})

	_, err := r.Create("broken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `create backend "broken": missing region`)
}
