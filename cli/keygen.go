// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/cliparse"
)

var ErrNoSecret = errors.New("signing secret required (use --secret or JWT_SECRET env)")

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var secret, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Sign a service key",
		Long: `Sign a service key with the server's JWT secret.

anon keys are shipped with the client and usually never expire.
service_role keys can empty whole collections; give them a --ttl.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cliparse.LoadEnvFiles()
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return ErrNoSecret
			}
			key, err := auth.IssueServiceKey(secret, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (prefer JWT_SECRET env)")
	cmd.Flags().StringVar(&role, "role", auth.RoleAnon, "key role (anon|service_role)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "key lifetime, 0 for no expiry")

	return cmd
}
