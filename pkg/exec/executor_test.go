package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealCommandExecutor_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		command     string
		args        []string
		wantSuccess bool
		wantOutput  string
	}{
		{
			name:        "echo with args",
			command:     "echo",
			args:        []string{"hello", "world"},
			wantSuccess: true,
			wantOutput:  "hello world\n",
		},
		{
			name:        "missing binary",
			command:     "nonexistent_command_xyz123",
			wantSuccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			executor := &RealCommandExecutor{}
			stdout, stderr, err := executor.Execute(context.Background(), tt.command, tt.args...)

			if tt.wantSuccess {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutput, string(stdout))
				assert.Empty(t, stderr)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRealCommandExecutor_ExecuteWithInput(t *testing.T) {
	t.Parallel()

	executor := &RealCommandExecutor{}
	stdout, _, err := executor.ExecuteWithInput(context.Background(), []byte("Host x\n"), "cat")

	require.NoError(t, err)
	assert.Equal(t, "Host x\n", string(stdout))
}

func TestRealCommandExecutor_Env(t *testing.T) {
	t.Parallel()

	executor := &RealCommandExecutor{Env: []string{"PASSWORD_STORE_DIR=/tmp/store"}}
	stdout, _, err := executor.Execute(context.Background(), "sh", "-c", "printf %s \"$PASSWORD_STORE_DIR\"")

	require.NoError(t, err)
	assert.Equal(t, "/tmp/store", string(stdout))
}

func TestRealCommandExecutor_ContextCancellation(t *testing.T) {
	t.Parallel()

	executor := &RealCommandExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := executor.Execute(ctx, "sleep", "10")
	assert.Error(t, err)
}

func TestRealCommandExecutor_StderrCapture(t *testing.T) {
	t.Parallel()

	executor := &RealCommandExecutor{}
	stdout, stderr, err := executor.Execute(context.Background(), "sh", "-c", "echo 'stdout' && echo 'stderr' >&2")

	require.NoError(t, err)
	assert.Equal(t, "stdout\n", string(stdout))
	assert.Equal(t, "stderr\n", string(stderr))
}

func TestDefaultExecutor(t *testing.T) {
	t.Parallel()

	var _ CommandExecutor = (*RealCommandExecutor)(nil)

	_, ok := DefaultExecutor().(*RealCommandExecutor)
	assert.True(t, ok, "DefaultExecutor should return a *RealCommandExecutor")
}
