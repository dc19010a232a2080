// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danielhkuo/daystogether/app"
	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/storage"
)

var ErrNotConfirmed = errors.New("refusing to purge without --yes")

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var yes, keepSettings bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every row and uploaded object",
		Long: `Empty every collection and bucket so a deployment starts fresh.

Emptying a whole collection needs a service_role key. Bucket placeholder
objects are left alone.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return ErrNotConfirmed
			}
			b, _, release, err := rootOpts.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			return runPurge(cmd.Context(), b, cmd.OutOrStdout(), keepSettings)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the purge")
	cmd.Flags().BoolVar(&keepSettings, "keep-settings", false, "keep the settings row")

	return cmd
}

// runPurge continues past failures and returns them joined
func runPurge(ctx context.Context, b app.Backend, out io.Writer, keepSettings bool) error {
	var errs []error

	for _, table := range db.TableNames() {
		if keepSettings && table == models.TableSettings {
			continue
		}
		n, err := b.Count(ctx, table)
		if err == nil {
			err = b.Delete(ctx, table, nil)
		}
		if err != nil {
			fmt.Fprintf(out, "❌ %s: %v\n", table, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "✅ %s: deleted %s rows\n", table, humanize.Comma(int64(n)))
	}

	for _, bucket := range storage.DefaultBuckets {
		objects, err := b.List(ctx, bucket)
		if err != nil {
			fmt.Fprintf(out, "❌ bucket %s: %v\n", bucket, err)
			errs = append(errs, err)
			continue
		}
		var keys []string
		var size int64
		for _, o := range objects {
			if o.Name == storage.PlaceholderObject {
				continue
			}
			keys = append(keys, o.Name)
			size += o.Size
		}
		if len(keys) == 0 {
			fmt.Fprintf(out, "✅ bucket %s: already empty\n", bucket)
			continue
		}
		if err := b.Remove(ctx, bucket, keys...); err != nil {
			fmt.Fprintf(out, "❌ bucket %s: %v\n", bucket, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "✅ bucket %s: removed %s objects (%s)\n",
			bucket, humanize.Comma(int64(len(keys))), humanize.Bytes(uint64(size)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("purge incomplete: %w", errors.Join(errs...))
	}
	return nil
}
