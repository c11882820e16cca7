// Package exec provides abstractions for command execution.
// This package enables testable code by allowing backend CLIs to be mocked.
package exec

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
)

// CommandExecutor defines an interface for executing backend CLI commands.
// This abstraction allows for mocking CLI tool behavior in tests.
type CommandExecutor interface {
	// Execute runs a command with the given context and arguments.
	// Returns stdout, stderr, and any error that occurred.
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

	// ExecuteWithInput is Execute with input piped to the command's stdin.
	// Secret payloads travel this way so they never appear in process args.
	ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) (stdout []byte, stderr []byte, err error)

	// ExecuteInteractive runs a command attached to the user's terminal
	// (stdin and stderr) and captures only stdout. Used for unlock prompts.
	ExecuteInteractive(ctx context.Context, name string, args ...string) (stdout []byte, err error)
}

// RealCommandExecutor executes actual commands using os/exec.
// This is the production implementation.
type RealCommandExecutor struct {
	// Env, when non-nil, is appended to the inherited environment.
	Env []string
}

// Execute runs an actual command.
func (r *RealCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return r.run(ctx, nil, name, args...)
}

// ExecuteWithInput runs an actual command with input on stdin.
func (r *RealCommandExecutor) ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, []byte, error) {
	return r.run(ctx, bytes.NewReader(input), name, args...)
}

// ExecuteInteractive runs an actual command attached to the terminal.
func (r *RealCommandExecutor) ExecuteInteractive(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := r.command(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdin = os.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	return stdout.Bytes(), err
}

func (r *RealCommandExecutor) run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	cmd := r.command(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (r *RealCommandExecutor) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	return cmd
}

// DefaultExecutor returns the standard production executor.
// This is used as the default when no executor is injected.
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{}
}

