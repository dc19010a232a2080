// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danielhkuo/daystogether/app"
)

// NewBlessCommand creates the bless command.
func NewBlessCommand(rootOpts *RootOptions) *cobra.Command {
	var countOnly bool

	cmd := &cobra.Command{
		Use:           "bless",
		Short:         "Send the couple a blessing",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, cfg, release, err := rootOpts.Connect(ctx)
			if err != nil {
				return err
			}
			defer release()

			counter, err := app.OpenBlessingCounter(ctx, app.NewContext(b, cfg))
			if err != nil {
				return err
			}
			defer counter.Close()

			out := cmd.OutOrStdout()
			if !countOnly {
				if err := counter.Bless(ctx); err != nil {
					return fmt.Errorf("bless: %w", err)
				}
				fmt.Fprintln(out, "💝 Blessing sent")
			}
			fmt.Fprintf(out, "%s has received %s blessings\n", cfg.SiteTitle, humanize.Comma(int64(counter.Count())))
			return nil
		},
	}

	cmd.Flags().BoolVar(&countOnly, "count", false, "only print the current count")

	return cmd
}
