// Package cli implements the feedctl command tree.
package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"feedsync/internal/client"
)

// RootOptions holds the flags shared by every command
type RootOptions struct {
	Server  string
	Token   string
	Device  string
	Verbose bool
}

// NewRootCommand creates the root feedctl command
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "feedctl",
		Short: "Command line client for a feedsync server",
		Long: `feedctl talks to a feedsync server: it follows the feed in real time,
pages through history, posts messages and relays AI chat completions.

Connection flags fall back to FEEDSYNC_SERVER, FEEDSYNC_TOKEN and FEEDSYNC_DEVICE.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("FEEDSYNC_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("FEEDSYNC_TOKEN"), "bearer token")
	cmd.PersistentFlags().StringVar(&opts.Device, "device", envOr("FEEDSYNC_DEVICE", "feedctl"), "device id")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewTailCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewAskCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// logger はエラー出力へ書く
func (o *RootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.InfoLevel
	if o.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func (o *RootOptions) client(cmd *cobra.Command) *client.Client {
	return client.New(o.Server,
		client.WithToken(o.Token),
		client.WithDeviceID(o.Device),
		client.WithLogger(o.logger(cmd)),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
