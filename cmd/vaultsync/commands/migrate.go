package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/localfs"
)

func NewMigrateCommand(app *App) *cobra.Command {
	var (
		to     int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the configuration document to a newer version",
		Long: `Migrate the configuration document one version at a time up to --to
(default: the latest version this build reads).

The original is backed up to <path>.bak-YYYYMMDD-HHMMSS before it is
replaced. With --dry-run the migrated document is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.Config.Path
			res, err := config.MigrateFile(path, to, dryRun, app.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !res.Changed {
				fmt.Fprintf(out, "%s is already at version %d\n", localfs.ContractHome(path), res.To)
				return nil
			}
			if dryRun {
				_, err := out.Write(res.Output)
				return err
			}
			fmt.Fprintf(out, "Migrated %s from version %d to %d\n", localfs.ContractHome(path), res.From, res.To)
			if res.BackupPath != "" {
				fmt.Fprintf(out, "Backup: %s\n", localfs.ContractHome(res.BackupPath))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&to, "to", config.CurrentVersion, "Target version")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the migrated document without writing it")

	return cmd
}
