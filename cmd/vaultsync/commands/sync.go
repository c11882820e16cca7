package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultsync/internal/reconcile"
)

func NewPullCommand(app *App) *cobra.Command {
	return newSyncCommand(app, reconcile.Pull, "Write backend content to local files",
		`Pull tracked items from the backend into their local files.

Without names, every item with sync: always is pulled; manual items must be
named. Items with sync: never are never touched. A local file is backed up
before it is replaced, and replacing a file that changed since the last
sync needs confirmation or --force. Conflicts are reported and left for
'vaultsync resolve'.`)
}

func NewPushCommand(app *App) *cobra.Command {
	return newSyncCommand(app, reconcile.Push, "Upload local files to the backend",
		`Push tracked items from their local files to the backend.

Without names, every item with sync: always is pushed; manual items must be
named. Items with sync: never are never touched. Missing backend items are
created; replacing backend content that changed since the last sync needs
confirmation or --force. Conflicts are reported and left for
'vaultsync resolve'.`)
}

func newSyncCommand(app *App, dir reconcile.Direction, short, long string) *cobra.Command {
	var (
		all    bool
		force  bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   string(dir) + " [NAME...]",
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all cannot be combined with item names")
			}
			return app.finish(string(dir), runSync(cmd, app, dir, args, reconcile.ApplyOptions{Force: force, DryRun: dryRun}))
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Select every item with sync: always")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite without asking (conflicts still need 'vaultsync resolve')")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the plan without writing anything")

	return cmd
}

func runSync(cmd *cobra.Command, app *App, dir reconcile.Direction, names []string, opts reconcile.ApplyOptions) error {
	ctx := cmd.Context()
	if err := app.Config.Load(); err != nil {
		return err
	}

	mgr, err := app.sessionManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()
	plan, res, runErr := app.engine(mgr).Run(ctx, app.Config.Document, dir, names, opts)
	if plan != nil && res != nil {
		printResult(cmd.OutOrStdout(), plan, res, opts.DryRun)
	}

	// hashes of completed steps are kept even when the run was cut short
	if res != nil && !opts.DryRun {
		if err := app.Config.Save(); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if err := res.Err(); err != nil {
		return err
	}
	if len(res.Conflicts()) > 0 {
		return errDrift
	}
	return nil
}

func printResult(out io.Writer, plan *reconcile.SyncPlan, res *reconcile.Result, dryRun bool) {
	if len(plan.Steps) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "NAME\tACTION\tSTATUS\tRESULT\n")
	for i, st := range plan.Steps {
		o := res.Outcomes[i]
		result := o.Reason
		switch {
		case o.Err != nil:
			result = "✗ failed"
		case o.Applied:
			result = "✓ done"
		case dryRun && st.Action != reconcile.ActionSkip && st.Action != reconcile.ActionConflict:
			result = "would " + string(st.Action)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, st.Action, st.Status, result)
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d applied, %d skipped, %d conflict(s)\n",
		res.Applied(), plan.Count(reconcile.ActionSkip), len(res.Conflicts()))
}
