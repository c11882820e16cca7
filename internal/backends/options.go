package backends

import (
	"os/exec"
	"time"

	"github.com/systmms/vaultsync/internal/logging"
	pkgexec "github.com/systmms/vaultsync/pkg/exec"
)

// Option configures an adapter at construction time.
type Option func(*options)

type options struct {
	executor  pkgexec.CommandExecutor
	lookPath  func(string) (string, error)
	logger    *logging.Logger
	smClient  SecretsManagerAPI
	stsClient STSAPI
	timeout   time.Duration
}

func buildOptions(opts []Option) options {
	o := options{
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	return o
}

// WithExecutor sets the command executor used by CLI adapters. Tests pass a
// testutil.MockCommandExecutor.
func WithExecutor(e pkgexec.CommandExecutor) Option {
	return func(o *options) { o.executor = e }
}

// WithLookPath replaces exec.LookPath when checking for the backend CLI.
func WithLookPath(f func(string) (string, error)) Option {
	return func(o *options) { o.lookPath = f }
}

// WithLogger sets the adapter logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSecretsManagerClient injects a Secrets Manager client.
func WithSecretsManagerClient(c SecretsManagerAPI) Option {
	return func(o *options) { o.smClient = c }
}

// WithSTSClient injects an STS client.
func WithSTSClient(c STSAPI) Option {
	return func(o *options) { o.stsClient = c }
}

// WithCallTimeout wraps the created adapter with WithTimeout. Registry.Create
// applies it; adapter constructors ignore it.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func stringOpt(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func intOpt(cfg map[string]interface{}, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
