// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielhkuo/daystogether/app"
	"github.com/danielhkuo/daystogether/danmaku"
	"github.com/danielhkuo/daystogether/models"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cfg := danmaku.DefaultConfig()
	var limit time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the public wall as danmaku lanes",
		Long: `Follow the public wall and print each message as it is put on a lane.

New messages join the rotation as soon as the change feed delivers them.
Runs until interrupted or until --for has passed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Lanes < 1 {
				return errors.New("--lanes must be at least 1")
			}
			if cfg.MaxInterval < cfg.MinInterval {
				cfg.MaxInterval = cfg.MinInterval
			}
			ctx := cmd.Context()
			if limit > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}

			b, clientCfg, release, err := rootOpts.Connect(ctx)
			if err != nil {
				return err
			}
			defer release()

			actx := app.NewContext(b, clientCfg)
			wall, err := app.OpenPublicWall(ctx, actx, app.NewSession(actx))
			if err != nil {
				return err
			}
			defer wall.Close()

			runWatch(ctx, wall.Danmaku(danmaku.WithConfig(cfg)), cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.Lanes, "lanes", cfg.Lanes, "number of lanes")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", cfg.Duration, "how long a message stays on screen")
	cmd.Flags().DurationVar(&cfg.MinInterval, "min-interval", cfg.MinInterval, "shortest pause between messages")
	cmd.Flags().DurationVar(&cfg.MaxInterval, "max-interval", cfg.MaxInterval, "longest pause between messages")
	cmd.Flags().DurationVar(&limit, "for", 0, "stop after this long, 0 to run until interrupted")

	return cmd
}

// runWatch prints each item once, indented by lane
func runWatch(ctx context.Context, s *danmaku.Scheduler[models.PublicMessage], out io.Writer) {
	var printed uint64
	s.Run(ctx, func(visible []danmaku.Item[models.PublicMessage]) {
		for _, it := range visible {
			if it.Seq <= printed {
				continue
			}
			printed = it.Seq
			fmt.Fprintln(out, laneLine(it.Lane, it.Value.Text))
		}
	})
}

func laneLine(lane int, text string) string {
	return fmt.Sprintf("%d|%s%s", lane+1, strings.Repeat("  ", lane), text)
}
