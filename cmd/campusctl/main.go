// README: Operator CLI: schema migration, settlement, wallet reconciliation, lock recovery, dev tokens and a dispatch race check.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"campusride/internal/config"
	"campusride/internal/logging"
)

type rootOptions struct {
	cfg      config.Config
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "campusctl",
		Short: "Operate a campusride deployment",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSettleCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newUnlockDriverCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newRaceCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (o *rootOptions) logger() *slog.Logger {
	return logging.New(o.logLevel)
}
