// README: Development token minting for deployments that use the shared JWT secret.
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"campusride/internal/infra"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Sign an HS256 access token for uid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Auth.JWTSecret == "" {
				return errors.New("CAMPUSRIDE_JWT_SECRET is not set")
			}
			switch role {
			case infra.RoleStudent, infra.RoleDriver, infra.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := infra.SignJWT(opts.cfg.Auth.JWTSecret, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", infra.RoleStudent, "caller role (student|driver|admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
