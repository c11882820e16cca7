package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	"github.com/systmms/vaultsync/internal/localfs"
)

func NewValidateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration document",
		Long: `Validate the configuration document against its schema and report
problems with the files it tracks: permissions that are too open, and
key-value files with malformed lines.

Schema problems fail the command; file problems are warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.Config.Path
			if err := app.Config.Load(); err != nil {
				return err
			}
			doc := app.Config.Document

			warnings := 0
			for _, it := range doc.Items {
				warnings += checkItemFiles(app, it)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (version %d, %d item(s))\n",
				localfs.ContractHome(path), doc.Version, len(doc.Items))
			if warnings > 0 {
				app.Logger.Warn("%d warning(s) about tracked files", warnings)
			}
			return nil
		},
	}
	return cmd
}

// checkItemFiles warns about local files and returns how many warnings it
// logged. Missing files are not a problem here.
func checkItemFiles(app *App, it config.Item) int {
	paths, err := it.LocalPaths()
	if err != nil {
		app.Logger.Warn("%s: %v", it.Name, err)
		return 1
	}

	warnings := 0
	for i, p := range paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			app.Logger.Warn("%s: %v", it.Name, err)
			warnings++
			continue
		}
		if content.ModeTooOpen(it.Kind, i, info.Mode().Perm()) {
			app.Logger.Warn("%s: %s has mode %04o, want %04o (chmod %o %s)",
				it.Name, localfs.ContractHome(p), info.Mode().Perm(), content.FileMode(it.Kind, i),
				content.FileMode(it.Kind, i), localfs.ContractHome(p))
			warnings++
		}
	}

	if it.Kind == content.KindKeyValueFile {
		data, err := os.ReadFile(paths[0])
		if err == nil {
			if bad := content.CheckKeyValue(string(data)); len(bad) > 0 {
				app.Logger.Warn("%s: lines %v are not KEY=VALUE", it.Name, bad)
				warnings++
			}
		}
	}
	return warnings
}
