package testutil

import (
	"os"
	"strings"
	"testing"
)

// sessionEnvVars are the backend override variables a developer machine
// may already have set.
var sessionEnvVars = []string{"BW_SESSION", "OP_SESSION", "AWS_PROFILE"}

// IsolateEnv clears every VAULTSYNC_* variable and the backend session
// overrides for the duration of the test, so settings and session tests do
// not pick up the developer's environment.
func IsolateEnv(t *testing.T) {
	t.Helper()

	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "VAULTSYNC_") || strings.HasPrefix(key, "OP_SESSION_") {
			unsetForTest(t, key)
		}
	}
	for _, key := range sessionEnvVars {
		unsetForTest(t, key)
	}
}

// unsetForTest removes key and restores it when the test ends.
func unsetForTest(t *testing.T, key string) {
	t.Helper()

	// t.Setenv registers the restore; the value is then removed.
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("Failed to unset environment variable %s: %v", key, err)
	}
}

// SetupTestEnv sets environment variables for the duration of a test.
//
// Example usage:
//
//	SetupTestEnv(t, map[string]string{
//	    "VAULTSYNC_BACKEND": "pass",
//	    "VAULTSYNC_OFFLINE": "1",
//	})
func SetupTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()

	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// Getenv returns a lookup function over vars, for code that accepts an
// injected Getenv instead of reading the process environment.
func Getenv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}
