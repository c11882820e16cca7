package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultsync/internal/prompt"
	"github.com/systmms/vaultsync/internal/reconcile"
)

func NewResolveCommand(app *App) *cobra.Command {
	var take string

	cmd := &cobra.Command{
		Use:   "resolve NAME",
		Short: "Settle a conflicting item by choosing a side",
		Long: `Resolve an item that changed both locally and in the backend.

  --take local   push the local file, replacing the backend copy
  --take remote  pull the backend copy, backing up the local file first
  --take skip    leave both sides as they are

Without --take an interactive terminal asks which side to keep.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := app.Config.Load(); err != nil {
				return err
			}

			r, err := resolution(app, name, take)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			mgr, err := app.sessionManager(ctx)
			if err != nil {
				return err
			}
			defer mgr.Close()
			res, err := app.engine(mgr).Resolve(ctx, app.Config.Document, name, r)
			if err != nil {
				return err
			}
			if res.Applied() == 0 {
				return nil
			}
			if err := app.Config.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s resolved: took %s copy\n", name, r)
			return nil
		},
	}

	cmd.Flags().StringVar(&take, "take", "", "Side to keep: local, remote or skip")

	return cmd
}

func resolution(app *App, name, take string) (reconcile.Resolution, error) {
	if take != "" {
		r, ok := reconcile.ParseResolution(take)
		if !ok {
			return "", fmt.Errorf("invalid --take %q: want local, remote or skip", take)
		}
		return r, nil
	}
	if app.Prompter == nil {
		return "", fmt.Errorf("no terminal to ask which side to keep; pass --take local|remote|skip")
	}

	v, err := app.Prompter.Select(
		fmt.Sprintf("Resolve %s", name),
		"Both the local file and the backend copy changed since the last sync",
		[]prompt.Option{
			{Label: "Keep local (push it to the backend)", Value: string(reconcile.TakeLocal)},
			{Label: "Keep backend (pull it, backing up the local file)", Value: string(reconcile.TakeRemote)},
			{Label: "Skip for now", Value: string(reconcile.Skip)},
		})
	if err != nil {
		return "", err
	}
	r, ok := reconcile.ParseResolution(v)
	if !ok {
		return reconcile.Skip, nil
	}
	return r, nil
}
