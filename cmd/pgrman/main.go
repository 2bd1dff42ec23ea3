// Command pgrman is the CLI entrypoint wiring the config loader,
// catalog, live-cluster connection, and engine orchestrators together.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pgrman/internal/apperrors"
	"pgrman/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		apperrors.Interrupt()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.Logger.Error().Err(err).Msg("pgrman failed")
		os.Exit(apperrors.KindOf(err).ExitCode())
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "pgrman",
		Short:         "Incremental physical backup and point-in-time restore for Postgres",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a pgrman.yaml config file")

	root.AddCommand(
		newBackupCmd(&cfgFile),
		newRestoreCmd(&cfgFile),
		newValidateCmd(&cfgFile),
		newPurgeCmd(&cfgFile),
		newShowCmd(&cfgFile),
	)
	return root
}
