package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultsync/internal/discovery"
	"github.com/systmms/vaultsync/internal/localfs"
)

func NewScanCommand(app *App) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find secret files on this machine",
		Long: `Scan the known secret locations (SSH keys, git, AWS, npm and docker
configuration, ~/.secrets.env and any extra candidates from settings) and
compare what is found with the configuration document.

Each entry is classified as new, unchanged, changed or existingNotFound.
With --write, new entries are added to the document as manual items.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.LoadOrNew(); err != nil {
				return err
			}
			doc := app.Config.Document

			var candidates []discovery.Candidate
			if !app.Settings.Discovery.DisableDefaults {
				candidates = discovery.DefaultCandidates()
			}
			extra, err := discovery.CandidatesFromSettings(app.Settings.Discovery)
			if err != nil {
				return err
			}
			candidates = append(candidates, extra...)

			report, err := discovery.NewScanner(candidates, app.Logger).Scan(cmd.Context(), doc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(report.Entries) == 0 {
				fmt.Fprintln(out, "No secret files found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tSTATUS\tKIND\tPATH\tDETAIL\n")
			for _, e := range report.Entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Class, e.Kind, e.Path, e.Detail)
			}
			_ = w.Flush()

			fmt.Fprintf(out, "\n%d new, %d unchanged, %d changed, %d not found\n",
				report.Count(discovery.New),
				report.Count(discovery.Unchanged),
				report.Count(discovery.Changed),
				report.Count(discovery.ExistingNotFound))

			if !write {
				if report.Count(discovery.New) > 0 {
					app.Logger.Info("Run 'vaultsync scan --write' to track the new entries")
				}
				return nil
			}

			added, err := discovery.ApplyDrafts(doc, report)
			if err != nil {
				return err
			}
			if len(added) == 0 {
				app.Logger.Info("Nothing new to add")
				return nil
			}
			if err := app.Config.Save(); err != nil {
				return err
			}
			app.Logger.Info("Added %d item(s) to %s as sync: manual", len(added), localfs.ContractHome(app.Config.Path))
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Add new entries to the configuration document")

	return cmd
}
