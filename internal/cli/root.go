package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Overrides applied on top of the config file and environment when the
	// flag is set.
	BaseURL    string
	Token      string
	TokenFile  string
	ServiceKey string

	// Environ replaces the process environment when non-nil (for testing).
	Environ map[string]string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the adminsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "adminsync",
		Short: "adminsync - live admin data without refresh storms",
		Long: `Keeps an admin console's user table and dashboard stats in sync with the
backend: debounced query edits, push invalidations, health gating and bulk
actions, all reconciled through one event loop.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.BaseURL, "base-url", "", "backend base URL (overrides config)")
	flags.StringVar(&opts.Token, "token", "", "bearer token (overrides config)")
	flags.StringVar(&opts.TokenFile, "token-file", "", "file holding the bearer token (overrides config)")
	flags.StringVar(&opts.ServiceKey, "service-key", "", "service key header value (overrides config)")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewBulkCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewDevServerCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig merges the config file, the environment and the global
// override flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.LoadWith(o.ConfigPath, o.Environ)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.Token != "" {
		cfg.Token = o.Token
	}
	if o.TokenFile != "" {
		cfg.TokenFile = o.TokenFile
	}
	if o.ServiceKey != "" {
		cfg.ServiceKey = o.ServiceKey
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid flags", err)
	}
	return cfg, nil
}

// logger writes text logs to w at debug level when verbose.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newClient builds a one-shot REST client. The token file, if any, is read
// once and not watched.
func newClient(cfg config.Config, logger *slog.Logger) (*adminapi.Client, error) {
	creds, _, err := cfg.Credentials(logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load credentials", err)
	}
	return adminapi.NewClient(cfg.BaseURL, creds,
		adminapi.WithPaths(cfg.CollectionPath, cfg.StatsPath, cfg.HealthPath),
		adminapi.WithServiceHeader(cfg.ServiceHeader),
		adminapi.WithTimeout(cfg.RequestTimeout),
		adminapi.WithRetry(cfg.MaxAttempts, cfg.RetryStep),
		adminapi.WithLogger(logger)), nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	return ctx, stop
}

// fetchErrorCode maps a classified REST failure to a CLI error code.
func fetchErrorCode(err error) string {
	if k, ok := adminapi.KindOf(err); ok {
		return "E_" + string(k)
	}
	return "E_INTERNAL"
}
