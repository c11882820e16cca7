package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultsync/internal/localfs"
	"github.com/systmms/vaultsync/internal/session"
	"github.com/systmms/vaultsync/pkg/backend"
)

// Check is one line of the doctor report.
type Check struct {
	Name    string
	OK      bool
	Skipped bool
	Message string
}

func NewDoctorCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check settings, the configuration document and the backend",
		Long: `Verify that vaultsync can work on this machine.

This command checks:
- Settings and the configuration document
- The backend CLI or SDK configuration
- Backend connectivity
- Login state and whether a session can be reused without prompting

Nothing is unlocked or written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := runChecks(cmd.Context(), app)
			printChecks(cmd.OutOrStdout(), checks)

			failed := 0
			for _, c := range checks {
				if !c.OK && !c.Skipped {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			app.Logger.Info("All checks passed")
			return nil
		},
	}
	return cmd
}

func runChecks(ctx context.Context, app *App) []Check {
	var checks []Check
	add := func(name string, err error, okMsg string) bool {
		c := Check{Name: name, OK: err == nil, Message: okMsg}
		if err != nil {
			c.Message = err.Error()
		}
		checks = append(checks, c)
		return err == nil
	}
	skip := func(name, why string) {
		checks = append(checks, Check{Name: name, Skipped: true, Message: why})
	}

	settingsMsg := "defaults"
	if app.Settings.File != "" {
		settingsMsg = localfs.ContractHome(app.Settings.File)
	}
	add("settings", nil, settingsMsg)

	if err := app.Config.Load(); err != nil {
		add("document", err, "")
	} else {
		add("document", nil, fmt.Sprintf("%s, %d item(s)", localfs.ContractHome(app.Config.Path), len(app.Config.Document.Items)))
	}

	b, err := app.backend()
	if !add("backend", err, app.Settings.Backend) {
		return checks
	}
	if app.Settings.Offline {
		skip("backend tools", "offline")
		skip("connectivity", "offline")
		skip("login", "offline")
		skip("session", "offline")
		return checks
	}

	if !add("backend tools", b.Init(ctx), "ready") {
		return checks
	}

	if hc, ok := b.(backend.HealthChecker); ok {
		add("connectivity", hc.HealthCheck(ctx), "reachable")
	} else {
		skip("connectivity", "not supported by "+b.Name())
	}

	caps := b.Capabilities()
	if !caps.RequiresSession {
		skip("login", "uses ambient credentials")
	} else if !b.LoginCheck(ctx) {
		add("login", fmt.Errorf("not logged in; run %s", b.LoginCommand()), "")
		return checks
	} else {
		add("login", nil, "logged in")
	}

	store, err := app.store()
	if !add("session store", err, app.Settings.SessionStore) {
		return checks
	}
	// never prompt from doctor
	mgr := session.NewManager(b, session.Options{Store: store, Logger: app.Logger})
	if s, err := mgr.GetSession(ctx); err != nil {
		add("session", err, "")
	} else {
		add("session", nil, s.State().String())
		s.Close()
	}
	return checks
}

func printChecks(out io.Writer, checks []Check) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")
	for _, c := range checks {
		status := "✗ failed"
		switch {
		case c.Skipped:
			status = "- skipped"
		case c.OK:
			status = "✓ ok"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, status, firstLine(c.Message))
	}
	_ = w.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
