package errors_test

import (
	stderrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
)

// TestErrorFormatting verifies a typed error says what failed, why and how to fix it
func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.New(errors.KindItemNotFound, "get notes", "no such item").
		WithBackend("bitwarden").
		WithItem("SSH-Config").
		WithRemediation("vaultsync push SSH-Config")

	msg := err.Error()
	assert.Contains(t, msg, `get notes "SSH-Config" (bitwarden) failed: no such item`)
	assert.Contains(t, msg, "💡 Try: vaultsync push SSH-Config")
}

// TestErrorFormattingFallsBack covers errors without an op or reason
func TestErrorFormattingFallsBack(t *testing.T) {
	t.Parallel()

	err := errors.Wrap(errors.KindBackendUnavailable, "", fmt.Errorf("connection refused"))
	assert.Equal(t, "BackendUnavailable failed: connection refused", err.Error())

	err = err.WithReason("bw serve is not running")
	assert.Equal(t, "BackendUnavailable failed: bw serve is not running", err.Error())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	typed := errors.New(errors.KindSessionExpired, "list items", "session key is invalid")
	wrapped := fmt.Errorf("pull: %w", typed)

	assert.Equal(t, errors.KindSessionExpired, errors.KindOf(typed))
	assert.Equal(t, errors.KindSessionExpired, errors.KindOf(wrapped))
	assert.Equal(t, errors.KindUnknown, errors.KindOf(fmt.Errorf("plain")))
	assert.Equal(t, errors.KindUnknown, errors.KindOf(nil))

	assert.True(t, errors.IsKind(wrapped, errors.KindSessionExpired))
	assert.False(t, errors.IsKind(nil, errors.KindUnknown))
	assert.False(t, errors.IsKind(wrapped, errors.KindAuthRequired))
}

// TestErrorIs verifies errors.Is matches on Kind alone
func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", errors.New(errors.KindConflict, "pull", "both changed").WithItem("Git-Config"))

	assert.True(t, stderrors.Is(err, &errors.Error{Kind: errors.KindConflict}))
	assert.False(t, stderrors.Is(err, &errors.Error{Kind: errors.KindItemNotFound}))
	assert.False(t, stderrors.Is(err, &errors.Error{}))
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := os.ErrPermission
	err := errors.Wrap(errors.KindPermissionDenied, "write local file", cause)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	retryable := &errors.Error{Kind: errors.KindBackendUnavailable, Retryable: true}
	assert.True(t, errors.IsRetryable(fmt.Errorf("wrapped: %w", retryable)))
	assert.False(t, errors.IsRetryable(errors.New(errors.KindBackendUnavailable, "get", "timeout")))
	assert.False(t, errors.IsRetryable(fmt.Errorf("plain")))
}

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Details: Connection timeout")
	assert.Contains(t, errMsg, "💡 Try: Check network connectivity")
}

func TestUserErrorFallsBackToCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("disk full")
	err := errors.UserError{Err: cause}
	assert.Equal(t, "disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "items[0].kind",
		Value:      "tarball",
		Message:    "unknown kind",
		Suggestion: "Use one of: file, ssh-key-pair, key-value-file",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Configuration error in field 'items[0].kind' (value: tarball): unknown kind")
	assert.Contains(t, errMsg, "ssh-key-pair")
}

func TestWrapCommandNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		command string
		hint    string
	}{
		{"bw", "npm install -g @bitwarden/cli"},
		{"op", "brew install 1password-cli"},
		{"pass", "apt install pass"},
		{"gopass", "install 'gopass'"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			t.Parallel()

			err := errors.WrapCommandNotFound(tt.command, fmt.Errorf("executable file not found"))
			require.Error(t, err)
			assert.Equal(t, errors.KindBackendUnavailable, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.hint)
		})
	}
}

func TestSimplifyError(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, errors.SimplifyError(nil))
	})

	t.Run("typed errors pass through", func(t *testing.T) {
		typed := errors.New(errors.KindConflict, "pull", "both changed")
		assert.Same(t, typed, errors.SimplifyError(typed))
	})

	t.Run("yaml errors become config errors", func(t *testing.T) {
		err := errors.SimplifyError(fmt.Errorf("load: %w", fmt.Errorf("yaml: line 3: mapping values are not allowed")))
		var cfg errors.ConfigError
		require.True(t, stderrors.As(err, &cfg))
		assert.Equal(t, "Invalid YAML format", cfg.Message)
	})

	t.Run("permission denied", func(t *testing.T) {
		err := errors.SimplifyError(fmt.Errorf("open: %w", fmt.Errorf("open /x: permission denied")))
		assert.Equal(t, errors.KindPermissionDenied, errors.KindOf(err))
	})

	t.Run("other errors unchanged", func(t *testing.T) {
		plain := fmt.Errorf("something else")
		assert.Equal(t, plain, errors.SimplifyError(plain))
	})
}

// TestErrorRedactsSecrets verifies secrets wrapped in logging.Secret never reach error text
func TestErrorRedactsSecrets(t *testing.T) {
	t.Parallel()

	token := "BW-SESSION-super-secret"
	err := errors.Wrap(errors.KindAuthRequired, "unlock", fmt.Errorf("rejected session %s", logging.Secret(token)))

	assert.NotContains(t, err.Error(), token)
	assert.Contains(t, err.Error(), "[REDACTED]")
}
