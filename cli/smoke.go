// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/daystogether/app"
	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/storage"
)

var ErrNoEcho = errors.New("change feed did not echo the probe row")

// NewSmokeCommand creates the smoke command.
func NewSmokeCommand(rootOpts *RootOptions) *cobra.Command {
	var write bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Check that the service answers reads and the change feed",
		Long: `Count every collection, list every bucket and open a change feed.

With --write a probe message is posted to the public wall and removed
again once its change event arrives.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			b, _, release, err := rootOpts.Connect(ctx)
			if err != nil {
				return err
			}
			defer release()
			return runSmoke(ctx, b, cmd.OutOrStdout(), write)
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "round-trip a probe row through the change feed")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")

	return cmd
}

func runSmoke(ctx context.Context, b app.Backend, out io.Writer, write bool) error {
	tables := db.TableNames()
	counts := make([]int, len(tables))
	errs := make([]error, len(tables))
	var g errgroup.Group
	for i, table := range tables {
		g.Go(func() error {
			counts[i], errs[i] = b.Count(ctx, table)
			return errs[i]
		})
	}
	failed := g.Wait()
	for i, table := range tables {
		if errs[i] != nil {
			fmt.Fprintf(out, "❌ %s: %v\n", table, errs[i])
			continue
		}
		fmt.Fprintf(out, "✅ %s: %s rows\n", table, humanize.Comma(int64(counts[i])))
	}
	if failed != nil {
		return failed
	}

	for _, bucket := range storage.DefaultBuckets {
		objects, err := b.List(ctx, bucket)
		if err != nil {
			fmt.Fprintf(out, "❌ bucket %s: %v\n", bucket, err)
			return err
		}
		fmt.Fprintf(out, "✅ bucket %s: %s objects\n", bucket, humanize.Comma(int64(len(objects))))
	}

	wall := gateway.NewTable[models.PublicMessage](b, models.TablePublicMessages)
	echoes := make(chan string, 8)
	sub, err := wall.Subscribe(ctx, func(ch gateway.Change[models.PublicMessage]) {
		if ch.Kind != models.EventInsert {
			return
		}
		select {
		case echoes <- ch.Key:
		default:
		}
	})
	if err != nil {
		fmt.Fprintf(out, "❌ change feed: %v\n", err)
		return err
	}
	defer sub.Unsubscribe()
	fmt.Fprintln(out, "✅ change feed: subscribed")

	if !write {
		return nil
	}
	return probeFeed(ctx, wall, echoes, out)
}

func probeFeed(ctx context.Context, wall *gateway.Table[models.PublicMessage], echoes <-chan string, out io.Writer) error {
	row, err := wall.Insert(ctx, models.PublicMessage{Text: "smoke test"})
	if err != nil {
		fmt.Fprintf(out, "❌ probe insert: %v\n", err)
		return err
	}
	defer func() {
		// Runs even when ctx has expired
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := wall.Delete(cleanup, row.ID); err != nil {
			fmt.Fprintf(out, "❌ probe cleanup: %v\n", err)
		}
	}()

	start := time.Now()
	for {
		select {
		case id := <-echoes:
			if id != row.ID {
				continue
			}
			fmt.Fprintf(out, "✅ change feed: echo after %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		case <-ctx.Done():
			fmt.Fprintf(out, "❌ change feed: %v\n", ErrNoEcho)
			return fmt.Errorf("%w: %w", ErrNoEcho, ctx.Err())
		}
	}
}
