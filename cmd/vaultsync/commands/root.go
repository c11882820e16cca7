package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/systmms/vaultsync/internal/backends"
	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/internal/prompt"
	"github.com/systmms/vaultsync/internal/reconcile"
	"github.com/systmms/vaultsync/internal/session"
	"github.com/systmms/vaultsync/pkg/backend"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitDrift   = 2
)

// ExitError carries a process exit code. A nil Err means nothing is left to
// print: the command already reported why.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// errDrift ends a run that found drift or left conflicts.
var errDrift = &ExitError{Code: ExitDrift}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return ExitFailure
}

// App is the state shared by every command. main fills in the defaults;
// tests replace the seams.
type App struct {
	Config   *config.Config
	Settings *config.Settings
	Viper    *viper.Viper
	Registry *backends.Registry
	Metrics  *metrics.Recorder
	Logger   *logging.Logger

	// LogWriter receives log lines instead of stderr when set.
	LogWriter io.Writer
	// Prompter overrides the terminal prompter.
	Prompter prompt.Prompter
	// Store overrides the session store chosen by settings.
	Store session.Store
	// IsTerminal reports whether prompts can be shown.
	IsTerminal func() bool
	// BackendOptions are passed to every backend the registry creates.
	BackendOptions []backends.Option
	Now            func() time.Time

	interactive bool
}

// NewApp returns an App wired to the real terminal, registry and settings.
func NewApp() *App {
	return &App{
		Config:     &config.Config{},
		Viper:      config.NewViper(),
		Registry:   backends.NewRegistry(),
		Metrics:    metrics.New(),
		IsTerminal: prompt.IsInteractive,
		Now:        time.Now,
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand(app *App, version string) *cobra.Command {
	var (
		settingsPath   string
		debug          bool
		noColor        bool
		nonInteractive bool
	)

	rootCmd := &cobra.Command{
		Use:   "vaultsync",
		Short: "Keep local secrets in sync with your password manager",
		Long: `vaultsync keeps SSH keys, cloud credentials and other secret files
synchronized between this machine and a secret management backend
(Bitwarden, 1Password, pass or AWS Secrets Manager).

Start with 'vaultsync scan --write' to track the files found here, then
'vaultsync push' and 'vaultsync pull' to move them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.LogWriter != nil {
				app.Logger = logging.NewWithWriter(app.LogWriter, debug, noColor)
			} else {
				app.Logger = logging.New(debug, noColor)
			}

			settings, err := config.LoadSettings(app.Viper, settingsPath)
			if err != nil {
				return err
			}
			app.Settings = settings
			app.Config.Path = settings.ConfigPath
			app.Config.Logger = app.Logger
			if settings.File != "" {
				app.Logger.Debug("settings loaded from %s", settings.File)
			}

			app.interactive = !nonInteractive && app.IsTerminal != nil && app.IsTerminal()
			if app.Prompter == nil && app.interactive {
				app.Prompter = prompt.NewTerminal()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsPath, "settings", "", "Settings file (default ~/.config/vaultsync/settings.yaml)")
	flags.String("config", "", "Configuration document path (default ~/.config/vaultsync/secrets.yaml)")
	flags.String("backend", "", "Backend: bitwarden, 1password, pass or aws.secretsmanager")
	flags.String("state-dir", "", "Directory for cached sessions")
	flags.Bool("offline", false, "Skip every step that needs the backend service")
	flags.Duration("timeout", 0, "Per-call backend timeout (default 30s)")
	flags.Int("workers", 0, "Concurrent item operations (default 4)")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&nonInteractive, "non-interactive", false, "Never prompt")

	for key, flag := range map[string]string{
		"config":       "config",
		"backend":      "backend",
		"state_dir":    "state-dir",
		"offline":      "offline",
		"timeout":      "timeout",
		"workers":      "workers",
		"metrics_file": "metrics-file",
	} {
		_ = app.Viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		NewScanCommand(app),
		NewPullCommand(app),
		NewPushCommand(app),
		NewStatusCommand(app),
		NewResolveCommand(app),
		NewValidateCommand(app),
		NewMigrateCommand(app),
		NewLoginCommand(app),
		NewDoctorCommand(app),
		NewBackendsCommand(app),
		NewCompletionCommand(app),
	)
	return rootCmd
}

// backend creates the configured backend, bounded by the call timeout.
func (a *App) backend() (backend.Backend, error) {
	name := a.Settings.Backend
	opts := append([]backends.Option{
		backends.WithLogger(a.Logger),
		backends.WithCallTimeout(a.Settings.Timeout),
	}, a.BackendOptions...)
	return a.Registry.Create(name, a.Settings.BackendOptions(name), opts...)
}

func (a *App) store() (session.Store, error) {
	if a.Store != nil {
		return a.Store, nil
	}
	return session.NewStore(a.Settings.SessionStore, a.Settings.StateDir)
}

// sessionManager creates the backend and its Manager. Init runs first so a
// missing CLI is reported before any prompt.
func (a *App) sessionManager(ctx context.Context) (*session.Manager, error) {
	b, err := a.backend()
	if err != nil {
		return nil, err
	}
	if !a.Settings.Offline {
		if err := b.Init(ctx); err != nil {
			return nil, err
		}
	}
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	return session.NewManager(b, session.Options{
		Store:       store,
		Interactive: a.interactive,
		Offline:     a.Settings.Offline,
		Logger:      a.Logger,
	}), nil
}

func (a *App) engine(mgr *session.Manager) *reconcile.Engine {
	return reconcile.New(mgr, reconcile.Options{
		Workers:  a.Settings.Workers,
		Prompter: a.Prompter,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
		Now:      a.Now,
	})
}

// finish records the run and writes the metrics file when one is set.
func (a *App) finish(command string, err error) error {
	ok := err == nil || ExitCode(err) == ExitDrift
	a.Metrics.MarkRun(command, ok, a.Now())
	if werr := a.Metrics.WriteToTextfile(a.Settings.MetricsFile); werr != nil {
		a.Logger.Warn("could not write metrics: %v", werr)
	}
	return err
}
