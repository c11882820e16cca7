package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	dserrors "github.com/systmms/vaultsync/internal/errors"
)

// AssertFileContents verifies that path exists with exactly expected.
func AssertFileContents(t *testing.T, path string, expected string) {
	t.Helper()

	data, err := os.ReadFile(path)
	if !assert.NoError(t, err, "Failed to read file %s", path) {
		return
	}
	assert.Equal(t, expected, string(data), "File contents mismatch for %s", path)
}

// AssertFileMode verifies the permission bits of path.
func AssertFileMode(t *testing.T, path string, expected os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	if !assert.NoError(t, err, "Failed to stat %s", path) {
		return
	}
	assert.Equal(t, expected, info.Mode().Perm(), "Mode mismatch for %s: got %o, want %o",
		path, info.Mode().Perm(), expected)
}

// AssertFileUnchanged verifies that path still holds before.
func AssertFileUnchanged(t *testing.T, path string, before string) {
	t.Helper()

	data, err := os.ReadFile(path)
	if !assert.NoError(t, err, "Failed to read file %s", path) {
		return
	}
	assert.Equal(t, before, string(data), "File %s should not have been modified", path)
}

// AssertNoSecretLeak verifies that none of secrets appear in output.
//
// Example usage:
//
//	AssertNoSecretLeak(t, logs.GetOutput(), []string{token, "Host x"})
func AssertNoSecretLeak(t *testing.T, output string, secrets []string) {
	t.Helper()

	for _, secret := range secrets {
		assert.NotContains(t, output, secret,
			"Secret %q should not appear in output", secret)
	}
}

// AssertErrorKind verifies err is a vaultsync error of kind.
func AssertErrorKind(t *testing.T, err error, kind dserrors.Kind) {
	t.Helper()

	if !assert.Error(t, err, "Expected a %s error", kind) {
		return
	}
	assert.Equal(t, kind, dserrors.KindOf(err), "Unexpected error kind for: %v", err)
}

// AssertRemediation verifies that err suggests a command containing cmd.
func AssertRemediation(t *testing.T, err error, cmd string) {
	t.Helper()

	if !assert.Error(t, err) {
		return
	}
	assert.Contains(t, err.Error(), "Try: "+cmd, "Error should suggest %q", cmd)
}

// AssertErrorContains verifies that an error occurred and contains substr.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()

	assert.Error(t, err, "Expected an error to occur")
	if err != nil {
		assert.Contains(t, err.Error(), substr, "Error message should contain %q", substr)
	}
}

// AssertLinesContain verifies that each expected string appears on some
// line of output.
func AssertLinesContain(t *testing.T, output string, expectedLines []string) {
	t.Helper()

	lines := strings.Split(output, "\n")
	for _, expected := range expectedLines {
		found := false
		for _, line := range lines {
			if strings.Contains(line, expected) {
				found = true
				break
			}
		}
		assert.True(t, found, "Expected to find line containing %q in output:\n%s", expected, output)
	}
}
