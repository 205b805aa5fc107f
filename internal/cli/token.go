package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/adminsync/internal/devserver"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Secret  string
	Subject string
	TTL     time.Duration

	now func() time.Time
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token the dev server accepts",
		Long: `Mint an HS256 admin token signed with the dev server secret.

Example:
  adminsync token --secret dev-secret --ttl 1h > token.txt
  ADMINSYNC_TOKEN_FILE=token.txt adminsync watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", "", "HS256 secret (default devserver.secret from config)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	secret := opts.Secret
	if secret == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		secret = cfg.DevServer.Secret
	}
	if secret == "" {
		return NewExitError(ExitCommandError, "a token secret is required (--secret or devserver.secret)")
	}
	if opts.TTL <= 0 {
		return NewExitError(ExitCommandError, "ttl must be positive")
	}

	now := opts.now()
	tok, err := devserver.MintToken([]byte(secret), opts.Subject, opts.TTL, now)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to mint token", err)
	}
	return opts.formatter(cmd).Success(tokenResult{
		Token:     tok,
		Subject:   opts.Subject,
		ExpiresAt: now.Add(opts.TTL).UTC(),
	})
}

type tokenResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RenderText prints the bare token so it can be redirected to a file.
func (t tokenResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, t.Token)
	return err
}
