package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"feedsync/internal/middleware"
)

// TokenOptions holds the flags of the token command
type TokenOptions struct {
	*RootOptions
	Secret string
	TTL    time.Duration
}

// NewTokenCommand creates the token command
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Sign a bearer token for --device with the server's JWT secret.
Only useful when the secret is known locally, as in development.

Examples:
  JWT_SECRET=dev feedctl token --device laptop
  feedctl token --secret dev --ttl 1h`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Secret == "" {
				return errors.New("a secret is required: set JWT_SECRET or pass --secret")
			}
			token, err := middleware.IssueToken(opts.Secret, opts.Device, opts.TTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
