package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can branch on it without parsing text.
type Kind string

const (
	KindUnknown            Kind = ""
	KindAuthRequired       Kind = "AuthRequired"
	KindSessionExpired     Kind = "SessionExpired"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindItemNotFound       Kind = "ItemNotFound"
	KindItemAlreadyExists  Kind = "ItemAlreadyExists"
	KindSchemaInvalid      Kind = "SchemaInvalid"
	KindMigrationFailed    Kind = "MigrationFailed"
	KindPermissionDenied   Kind = "PermissionDenied"
	KindConflict           Kind = "Conflict"
	KindOfflineUnavailable Kind = "OfflineUnavailable"
)

// Error is the typed error surfaced by backends, the session manager and the
// sync engine. It always says what failed, why, and how to fix it.
type Error struct {
	Kind        Kind
	Op          string // what failed, e.g. "create item"
	Backend     string
	Item        string
	Reason      string // why
	Remediation string // one concrete command for the active backend
	Retryable   bool
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Item != "" {
		fmt.Fprintf(&b, " %q", e.Item)
	}
	if e.Backend != "" {
		fmt.Fprintf(&b, " (%s)", e.Backend)
	}
	b.WriteString(" failed")

	switch {
	case e.Reason != "":
		b.WriteString(": " + e.Reason)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}

	if e.Remediation != "" {
		b.WriteString("\n  💡 Try: " + e.Remediation)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: K}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind != KindUnknown && t.Kind == e.Kind && t.Op == "" && t.Item == ""
}

// New builds a typed error.
func New(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap builds a typed error around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithBackend sets the backend and returns e for chaining.
func (e *Error) WithBackend(name string) *Error {
	e.Backend = name
	return e
}

// WithItem sets the item name and returns e for chaining.
func (e *Error) WithItem(name string) *Error {
	e.Item = name
	return e
}

// WithReason sets why the operation failed and returns e for chaining.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// WithRemediation sets the remediation command and returns e for chaining.
func (e *Error) WithRemediation(cmd string) *Error {
	e.Remediation = cmd
	return e
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the engine may retry err automatically. Only
// errors explicitly marked retryable qualify; timeouts against auth-gated
// services never are.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// WrapCommandNotFound reports a missing backend CLI as BackendUnavailable with
// an install hint.
func WrapCommandNotFound(command string, err error) error {
	suggestions := map[string]string{
		"bw":   "npm install -g @bitwarden/cli",
		"op":   "brew install 1password-cli",
		"pass": "apt install pass",
	}

	suggestion := suggestions[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("install '%s' and make sure it is in your PATH", command)
	}

	return &Error{
		Kind:        KindBackendUnavailable,
		Op:          "locate " + command,
		Reason:      "command not found",
		Remediation: suggestion,
		Err:         err,
	}
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return &Error{
			Kind:        KindPermissionDenied,
			Reason:      "permission denied",
			Remediation: "check file ownership and modes under ~/.config/vaultsync and ~/.local/state/vaultsync",
			Err:         err,
		}
	}

	return err
}
