package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/adminsync/internal/devserver"
	"github.com/roach88/adminsync/internal/ids"
	"github.com/roach88/adminsync/internal/store"
)

// DevServerOptions holds flags for the devserver command.
type DevServerOptions struct {
	*RootOptions
	Addr       string
	DSN        string
	Seed       int
	Secret     string
	PrintToken bool
}

// NewDevServerCommand creates the devserver command.
func NewDevServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve a local admin API backed by SQLite or Postgres",
		Long: `Serve the admin REST endpoints and the push socket over a local store,
seeded with deterministic users. Bulk actions broadcast the matching
invalidations to every connected push client.

A DSN starting with postgres:// selects Postgres; anything else is a
SQLite file (":memory:" for a throwaway store).

Example:
  adminsync devserver --secret dev-secret --seed 200
  adminsync devserver --dsn postgres://localhost/admin --secret dev-secret`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevServer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "store DSN (default from config)")
	cmd.Flags().IntVar(&opts.Seed, "seed", -1, "users to seed (default from config)")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "HS256 token secret (default from config)")
	cmd.Flags().BoolVar(&opts.PrintToken, "print-token", false, "print a one-day admin token on startup")

	return cmd
}

func runDevServer(opts *DevServerOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ds := cfg.DevServer
	if opts.Addr != "" {
		ds.Addr = opts.Addr
	}
	if opts.DSN != "" {
		ds.DSN = opts.DSN
	}
	if opts.Seed >= 0 {
		ds.Seed = opts.Seed
	}
	if opts.Secret != "" {
		ds.Secret = opts.Secret
	}
	if ds.Secret == "" {
		return NewExitError(ExitCommandError, "a token secret is required (--secret or devserver.secret)")
	}

	logger := opts.logger(cmd.ErrOrStderr())
	ctx, stop := signalContext(cmd)
	defer stop()

	st, err := store.Open(ctx, ds.DSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	if ds.Seed > 0 {
		if err := st.Seed(ctx, ds.Seed, ids.UUIDv7{}, time.Now()); err != nil {
			return WrapExitError(ExitFailure, "failed to seed store", err)
		}
		logger.Info("seeded store", "users", ds.Seed, "dialect", st.Dialect())
	}

	srvCfg := devserver.DefaultConfig()
	srvCfg.CollectionPath = cfg.CollectionPath
	srvCfg.StatsPath = cfg.StatsPath
	srvCfg.HealthPath = cfg.HealthPath
	srvCfg.PageSize = cfg.PageSize
	srvCfg.Secret = []byte(ds.Secret)
	srvCfg.ServiceHeader = cfg.ServiceHeader
	srvCfg.ServiceKey = cfg.ServiceKey
	dev := devserver.New(st, srvCfg, devserver.WithLogger(logger))

	if opts.PrintToken {
		tok, err := devserver.MintToken(srvCfg.Secret, "devserver", 24*time.Hour, time.Now())
		if err != nil {
			return WrapExitError(ExitFailure, "failed to mint token", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
	}

	srv := &http.Server{
		Addr:              ds.Addr,
		Handler:           dev.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("devserver listening", "addr", ds.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "devserver failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "devserver shutdown", err)
	}
	logger.Info("devserver stopped")
	return nil
}
