package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"feedsync/internal/feedview"
)

// HistoryOptions holds the flags of the history command
type HistoryOptions struct {
	*RootOptions
	Window int
	Batch  int
	Pages  int
}

// NewHistoryCommand creates the history command
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Page backward through the feed",
		Long: `Print the newest messages, then load older batches until the start
of the feed or the page limit is reached. Each batch is printed after a separator.

Examples:
  feedctl history
  feedctl history --window 10 --batch 30 --pages 5`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := opts.logger(cmd)
			out := cmd.OutOrStdout()

			vp := newLineViewport(out)
			engine := feedview.NewEngine(feedview.NewView(), messageFetcher(opts.client(cmd)), vp, feedview.Options{Window: opts.Window}, logger)
			if _, err := engine.Sync(ctx, feedview.SyncOptions{}); err != nil {
				return err
			}

			pager := feedview.NewPager(engine, feedview.PagerOptions{BatchSize: opts.Batch})
			defer pager.Stop()

			for page := 0; opts.Pages <= 0 || page < opts.Pages; page++ {
				if pager.Detached() || !engine.View().Cursor().HasMore {
					break
				}
				fmt.Fprintf(out, "--- older (before #%d) ---\n", engine.View().Cursor().OldestID)
				n, err := pager.LoadOlder(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					break
				}
			}

			if !engine.View().Cursor().HasMore {
				fmt.Fprintln(out, "--- start of feed ---")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Window, "window", 20, "number of newest messages loaded first")
	cmd.Flags().IntVar(&opts.Batch, "batch", 30, "messages per older batch")
	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "older batches to load (0 loads everything)")

	return cmd
}
