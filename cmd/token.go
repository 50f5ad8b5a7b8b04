package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flowcraft/backend/pkg/auth"
)

func newTokenCommand(flags *globalFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue an API bearer token signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.setup()
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return errors.New("no JWT secret configured (auth.secret or FLOWCRAFT_JWT_SECRET)")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.ExpireTime
			}
			tok, err := auth.GenerateToken([]byte(cfg.Auth.Secret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.expire_time)")
	return cmd
}
