package secure

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantEmpty bool
	}{
		{name: "sealed token", raw: "session-abc123", wantEmpty: false},
		{name: "empty token", raw: "", wantEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tok := NewToken(tt.raw)
			defer tok.Destroy()

			assert.Equal(t, tt.wantEmpty, tok.Empty())
			assert.Equal(t, tt.raw, tok.Reveal())
		})
	}
}

func TestTokenWithPassesPlaintext(t *testing.T) {
	t.Parallel()

	tok := NewToken("bw-session-value")
	defer tok.Destroy()

	var seen string
	err := tok.With(func(b []byte) error {
		seen = string(b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bw-session-value", seen)
}

func TestTokenNeverPrints(t *testing.T) {
	t.Parallel()

	tok := NewToken("do-not-print-me")
	defer tok.Destroy()

	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", tok))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", tok))
	assert.NotContains(t, fmt.Sprintf("%s", tok), "do-not-print-me")
}

func TestTokenDestroyIsIdempotent(t *testing.T) {
	t.Parallel()

	tok := NewToken("x")
	tok.Destroy()
	tok.Destroy()

	assert.True(t, tok.Empty())
	assert.Equal(t, "", tok.Reveal())
}

func TestNilTokenIsEmpty(t *testing.T) {
	t.Parallel()

	var tok *Token
	assert.True(t, tok.Empty())
	tok.Destroy()
}
