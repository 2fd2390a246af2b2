// README: Commands that act directly on the Postgres store.
package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"campusride/internal/infra"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

func (o *rootOptions) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if o.cfg.Store.Backend != "postgres" {
		return nil, fmt.Errorf("store backend %q has no persistent state to operate on", o.cfg.Store.Backend)
	}
	return infra.NewDB(ctx, o.cfg.DB.DSN)
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := opts.pool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := infra.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newSettleCommand(opts *rootOptions) *cobra.Command {
	var driverID string
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Move due commission to paid for every driver, or one with --driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := opts.pool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			svc := wallet.NewService(wallet.NewPGStore(db), opts.logger())

			out := cmd.OutOrStdout()
			if driverID != "" {
				settled, amount, err := svc.Settle(ctx, types.ID(driverID))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "driver=%s settled=%t amount=%.2f\n", driverID, settled, amount)
				return nil
			}
			res, err := svc.SettleAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "settled=%d amount=%.2f skipped=%d\n", res.SettledCount, res.TotalAmount, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&driverID, "driver", "", "settle a single driver")
	return cmd
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Restrict drivers whose balance is below their minimum and take them offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := opts.pool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := wallet.NewService(wallet.NewPGStore(db), opts.logger()).Reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restricted=%d\n", n)
			return nil
		},
	}
}

func newUnlockDriverCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock-driver <driver-id>",
		Short: "Clear a stuck driver ride lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := opts.pool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			svc := driver.NewService(driver.NewPGStore(db), opts.cfg.Wallet.MinimumRequiredBalance, opts.logger())
			d, err := svc.ForceClearLock(ctx, types.ID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "driver=%s locked=%t\n", d.ID, d.CurrentRideID != nil)
			return nil
		},
	}
}
