package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feedsync/internal/client"
	"feedsync/internal/feedview"
	"feedsync/internal/model"
)

// TailOptions holds the flags of the tail command
type TailOptions struct {
	*RootOptions
	Window int
}

// NewTailCommand creates the tail command
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the feed in real time",
		Long: `Print the newest messages and keep printing new ones as they arrive.

The server push channel is used when available; after repeated failures
the command falls back to long polling and periodically retries.

Examples:
  feedctl tail
  feedctl tail --window 50`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Window, "window", 20, "number of recent messages kept in view")

	return cmd
}

func runTail(ctx context.Context, cmd *cobra.Command, opts *TailOptions) error {
	logger := opts.logger(cmd)
	c := opts.client(cmd)
	vp := newLineViewport(cmd.OutOrStdout())
	engine := feedview.NewEngine(feedview.NewView(), messageFetcher(c), vp, feedview.Options{Window: opts.Window}, logger)

	if _, err := engine.Sync(ctx, feedview.SyncOptions{}); err != nil {
		logger.Warn().Err(err).Msg("initial load failed")
	}

	rt := client.NewRealtime(c, client.Handlers{
		OnChange: func(ctx context.Context) {
			if _, err := engine.Sync(ctx, feedview.SyncOptions{}); err != nil {
				logger.Warn().Err(err).Msg("sync failed")
			}
		},
		OnDelete: func(id int64) {
			if engine.ApplyDelete(id) {
				fmt.Fprintf(cmd.OutOrStdout(), "🗑️  #%d deleted\n", id)
			}
		},
		OnClear: func() {
			engine.Clear()
			vp.forget()
			fmt.Fprintln(cmd.OutOrStdout(), "🧹 feed cleared")
		},
		LastID: engine.View().LastID,
	}, client.RealtimeOptions{})

	if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// messageFetcher adapts the client's list call to the feed view
func messageFetcher(c *client.Client) feedview.Fetcher {
	return feedview.FetchFunc(func(ctx context.Context, p feedview.Page) ([]model.Message, error) {
		return c.Messages(ctx, client.Query{Limit: p.Limit, Offset: p.Offset, BeforeID: p.BeforeID})
	})
}
