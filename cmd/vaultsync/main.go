package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/systmms/vaultsync/cmd/vaultsync/commands"
	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer secure.Purge()

	app := commands.NewApp()
	rootCmd := commands.NewRootCommand(app, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var exit *commands.ExitError
		if !errors.As(err, &exit) || exit.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		}
	}
	return commands.ExitCode(err)
}
