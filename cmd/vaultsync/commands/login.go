package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
)

func NewLoginCommand(app *App) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Unlock the backend and cache the session",
		Long: `Check that the backend account is logged in, unlock it and cache the
session token so later commands do not prompt again.

When the account is not logged in, the steps to log in are shown.
Use --forget to drop the cached session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			mgr, err := app.sessionManager(ctx)
			if err != nil {
				return err
			}
			defer mgr.Close()
			b := mgr.Backend()

			if forget {
				if err := mgr.Forget(); err != nil {
					return fmt.Errorf("forget %s session: %w", b.Name(), err)
				}
				fmt.Fprintf(out, "Forgot the cached %s session\n", b.Name())
				return nil
			}
			if mgr.Offline() {
				return dserrors.New(dserrors.KindOfflineUnavailable, "login", "login needs the backend, which offline mode skips").
					WithBackend(b.Name()).
					WithRemediation("vaultsync login (without --offline)")
			}

			if b.Capabilities().RequiresSession && !b.LoginCheck(ctx) {
				printLoginSteps(out, b)
				return dserrors.New(dserrors.KindAuthRequired, "login", "not logged in").
					WithBackend(b.Name()).
					WithRemediation(b.LoginCommand())
			}

			s, err := mgr.GetSession(ctx)
			if err != nil {
				return err
			}

			if s.HasToken() {
				fmt.Fprintf(out, "✓ %s unlocked, session cached in the %s store\n", b.Name(), app.Settings.SessionStore)
			} else {
				fmt.Fprintf(out, "✓ %s credentials are available\n", b.Name())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forget, "forget", false, "Drop the cached session token")

	return cmd
}

func printLoginSteps(out io.Writer, b backend.Backend) {
	fmt.Fprintf(out, "🔐 %s is not logged in\n\n", b.Name())
	for i, step := range loginSteps(b) {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}
	fmt.Fprintln(out)
}

func loginSteps(b backend.Backend) []string {
	switch b.Name() {
	case "bitwarden":
		return []string{
			"Log in once per machine: " + b.LoginCommand(),
			"Self-hosted server? Run 'bw config server <url>' first",
			"Then run 'vaultsync login' to unlock and cache the session",
		}
	case "1password", "onepassword":
		return []string{
			"Add your account: op account add",
			"Sign in: " + b.LoginCommand(),
			"Then run 'vaultsync login' to cache the session",
		}
	case "pass":
		return []string{
			"Create a GPG key if you have none: gpg --full-generate-key",
			"Initialize the store: pass init <gpg-id>",
		}
	case "aws.secretsmanager":
		return []string{
			"Configure credentials: aws configure, or aws configure sso",
			"For SSO profiles: " + b.LoginCommand(),
			"Select the profile with AWS_PROFILE or backends.aws.secretsmanager.profile in settings",
		}
	}
	return []string{b.LoginCommand()}
}
