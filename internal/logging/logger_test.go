package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "secret is redacted", input: "my-secret-password"},
		{name: "empty secret is still redacted", input: ""},
		{name: "complex secret is redacted", input: "password123!@#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "[REDACTED]", Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", Secret(tt.input)))
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("pulled %d items", 3)
	logger.Warn("skipping %s", "Git-Config")
	logger.Error("push failed")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "✓ pulled 3 items")
	assert.Contains(t, out, "⚠ skipping Git-Config")
	assert.Contains(t, out, "✗ push failed")
	assert.NotContains(t, out, "hidden")
}

func TestLoggerDebugMode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	assert.True(t, logger.DebugEnabled())
	logger.Debug("token %s", Secret("abc"))

	assert.Contains(t, buf.String(), "[DEBUG] token [REDACTED]")
	assert.NotContains(t, buf.String(), "abc")
}

func TestRedact(t *testing.T) {
	out := Redact("export BW_SESSION=abcdef123", []string{"abcdef123", "ab"})
	assert.Equal(t, "export BW_SESSION=[REDACTED]", out)
}
