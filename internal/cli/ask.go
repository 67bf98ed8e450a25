package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"feedsync/internal/client"
)

// AskOptions holds the flags of the ask command
type AskOptions struct {
	*RootOptions
	NoSave bool
}

// NewAskCommand creates the ask command
func NewAskCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AskOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ask <prompt>...",
		Short: "Ask the AI relay and store the reply in the feed",
		Long: `Send a prompt to the server's AI relay. The reply is streamed to stdout
as it arrives and then appended to the feed as an AI message.

A reply cut short by a server timeout is still stored, marked as incomplete.

Examples:
  feedctl ask summarize today's messages
  feedctl ask --no-save what time is it in Tokyo`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			c := opts.client(cmd)

			reply, err := c.Chat(ctx, strings.Join(args, " "), out)
			fmt.Fprintln(out)

			switch {
			case errors.Is(err, client.ErrStreamTimeout):
				// 途中までの応答も保存する
				reply += "\n\n(reply cut off: timed out)"
			case err != nil:
				return err
			}

			if opts.NoSave || strings.TrimSpace(reply) == "" {
				return err
			}
			msg, saveErr := c.SaveAI(ctx, reply)
			if saveErr != nil {
				return fmt.Errorf("failed to store reply: %w", saveErr)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "💾 stored as #%d\n", msg.ID)
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.NoSave, "no-save", false, "print the reply without storing it")

	return cmd
}
