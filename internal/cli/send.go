package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewSendCommand creates the send command
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>...",
		Short: "Post a text message",
		Long: `Post a text message to the feed. All arguments are joined with spaces.

Examples:
  feedctl send hello from the terminal`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := rootOpts.client(cmd).Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ sent #%d\n", msg.ID)
			return nil
		},
	}
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "delete <id>",
		Short:        "Delete a message",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid message id %q", args[0])
			}
			if err := rootOpts.client(cmd).Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🗑️  deleted #%d\n", id)
			return nil
		},
	}
}

// ClearOptions holds the flags of the clear command
type ClearOptions struct {
	*RootOptions
	Code string
}

// NewClearCommand creates the clear command
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every message in the feed",
		Long: `Delete every message in the feed. The server's confirmation code is required.

Examples:
  feedctl clear --code 1234`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Code == "" {
				return errors.New("--code is required")
			}
			stats, err := opts.client(cmd).Clear(cmd.Context(), opts.Code)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🧹 cleared %d messages (%d files, %d bytes)\n",
				stats.DeletedMessages, stats.DeletedFiles, stats.DeletedFileSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "confirmation code")

	return cmd
}
