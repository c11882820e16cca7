package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultsync/internal/content"
	"github.com/systmms/vaultsync/internal/localfs"
)

func NewStatusCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report drift between local files and the backend",
		Long: `Compare every tracked item (all but sync: never) with the backend
without writing anything.

Exits 0 when everything is in sync and 2 when drift is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.finish("status", runStatus(cmd, app))
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, app *App) error {
	ctx := cmd.Context()
	if err := app.Config.Load(); err != nil {
		return err
	}
	mgr, err := app.sessionManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()
	report, err := app.engine(mgr).DriftCheck(ctx, app.Config.Document)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !report.HasDrift() {
		fmt.Fprintf(out, "All %d tracked item(s) in sync\n", report.InSyncCount)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "NAME\tSTATUS\tLOCAL\tREMOTE\tPATH\n")
	for _, d := range report.Drifted {
		status := string(d.Status)
		if d.Err != nil {
			status = "Error"
			app.Logger.Error("%s: %v", d.Name, d.Err)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.Name, status, shortHash(d.LocalHash), shortHash(d.RemoteHash), localfs.ContractHome(d.LocalPath))
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d in sync, %d drifted\n", report.InSyncCount, len(report.Drifted))
	return errDrift
}

// shortHash trims a fingerprint for display; "-" marks a missing side.
func shortHash(h string) string {
	if h == "" {
		return "-"
	}
	const n = len(content.FingerprintPrefix) + 12
	if len(h) > n {
		return h[:n]
	}
	return h
}
