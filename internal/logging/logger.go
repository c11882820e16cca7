package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Logger writes leveled, human-oriented log lines to stderr. Secret values
// must be wrapped in Secret before being passed as arguments.
type Logger struct {
	debug   bool
	noColor bool

	mu  sync.Mutex
	out io.Writer

	info   *color.Color
	warn   *color.Color
	err    *color.Color
	debugC *color.Color
}

// New creates a new logger instance
func New(debug, noColor bool) *Logger {
	return NewWithWriter(os.Stderr, debug, noColor)
}

// NewWithWriter creates a logger that writes to w instead of stderr.
func NewWithWriter(w io.Writer, debug, noColor bool) *Logger {
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}

	l := &Logger{
		debug:   debug,
		noColor: noColor,
		out:     w,
		info:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		err:     color.New(color.FgRed),
		debugC:  color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{l.info, l.warn, l.err, l.debugC} {
			c.DisableColor()
		}
	} else {
		for _, c := range []*color.Color{l.info, l.warn, l.err, l.debugC} {
			c.EnableColor()
		}
	}
	return l
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, false, true)
}

// DebugEnabled reports whether debug output is on.
func (l *Logger) DebugEnabled() bool {
	return l.debug
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(l.info.Sprint("✓"), format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(l.warn.Sprint("⚠"), format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(l.err.Sprint("✗"), format, args...)
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.write(l.debugC.Sprint("[DEBUG]"), format, args...)
}

func (l *Logger) write(prefix, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.out, "%s %s\n", prefix, msg)
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
