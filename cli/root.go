// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/danielhkuo/daystogether/app"
	"github.com/danielhkuo/daystogether/cliparse"
	"github.com/danielhkuo/daystogether/gateway"
)

// Connector opens the backend a command talks to. The returned func
// releases it.
type Connector func(ctx context.Context) (app.Backend, cliparse.ClientConfig, func(), error)

// RootOptions holds global flags and hooks for all commands.
type RootOptions struct {
	Verbose bool
	Connect Connector
}

// NewRootCommand creates the root command for togetherctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Connect: dialService})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "togetherctl",
		Short: "Maintenance tools for Days Together",
		Long: `Maintenance tools for a Days Together deployment.

Commands that talk to the service read SERVICE_URL and SERVICE_KEY from
the environment, .env.local or .env.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewShowIPCommand(opts))
	cmd.AddCommand(NewSmokeCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewBlessCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func dialService(ctx context.Context) (app.Backend, cliparse.ClientConfig, func(), error) {
	cfg, err := cliparse.LoadClientConfig()
	if err != nil {
		return nil, cliparse.ClientConfig{}, nil, err
	}
	c, err := gateway.New(cfg)
	if err != nil {
		return nil, cliparse.ClientConfig{}, nil, fmt.Errorf("connect to %s: %w", cfg.ServiceURL, err)
	}
	slog.Debug("connected", "url", cfg.ServiceURL)
	return c, cfg, func() {
		if err := c.Close(); err != nil {
			slog.Debug("close gateway", "error", err)
		}
	}, nil
}
