package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/app"
	"github.com/roach88/adminsync/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string
	Search      string
	Filters     []string // key=value
	Sort        string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the sync engine and print every state change",
		Long: `Run the sync engine against the configured backend until interrupted.

The engine loads the first page and the dashboard stats, then keeps them
current from push invalidations (when push_url is set), health recovery
and polling. Each distinct published state is printed as one line.

Example:
  adminsync watch --config adminsync.yaml
  adminsync watch --search ali --filter role=admin --metrics-addr :9090
  adminsync watch --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "initial search text")
	cmd.Flags().StringArrayVar(&opts.Filters, "filter", nil, "initial filter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "initial sort field")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	logger := opts.logger(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	a, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()
	if err := applyInitialQuery(a.Engine, opts); err != nil {
		return WrapExitError(ExitCommandError, "invalid query flags", err)
	}

	var (
		mu   sync.Mutex
		last string
	)
	unsubscribe := a.Engine.Subscribe(func(s engine.Snapshot) {
		v := newSnapshotView(s)
		line := v.line()
		mu.Lock()
		defer mu.Unlock()
		if line == last {
			return
		}
		last = line
		if err := out.Event(v, line); err != nil {
			logger.Warn("write state", "error", err)
		}
	})
	defer unsubscribe()

	ctx, stop := signalContext(cmd)
	defer stop()

	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, a.MetricsHandler(), logger)
		defer shutdown()
	}

	logger.Info("watching", "base_url", cfg.BaseURL, "push", cfg.PushURL != "", "poll_interval", cfg.PollInterval)
	if err := a.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	logger.Info("stopped")
	return nil
}

func applyInitialQuery(e *engine.Engine, opts *WatchOptions) error {
	for _, f := range opts.Filters {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return fmt.Errorf("filter %q: want key=value", f)
		}
		if err := e.SetFilter(key, value); err != nil {
			return err
		}
	}
	if opts.Search != "" {
		e.SetSearch(opts.Search)
	}
	if opts.Sort != "" {
		if err := e.SetSort(opts.Sort); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics starts a /metrics listener and returns its shutdown.
func serveMetrics(addr string, h http.Handler, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// snapshotView is the printed form of an engine snapshot.
type snapshotView struct {
	Query      string     `json:"query"`
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
	TotalCount int        `json:"total_count"`
	Records    int        `json:"records"`
	Fetching   bool       `json:"fetching"`
	Stale      bool       `json:"stale"`
	Error      string     `json:"error,omitempty"`
	Connection string     `json:"connection"`
	Health     string     `json:"health"`
	Selected   int        `json:"selected"`
	Stats      *statsView `json:"stats,omitempty"`
	StatsError string     `json:"stats_error,omitempty"`
}

type statsView struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Pending   int `json:"pending"`
	Suspended int `json:"suspended"`
	NewToday  int `json:"new_today"`
}

func newSnapshotView(s engine.Snapshot) snapshotView {
	v := snapshotView{
		Query:      s.Query.Signature(),
		Page:       s.Query.Page,
		Records:    len(s.Records()),
		Fetching:   s.Fetching || s.StatsFetching,
		Stale:      s.Stale,
		Connection: string(s.Connection),
		Health:     s.Health.String(),
		Selected:   len(s.Selection),
	}
	if s.Result != nil {
		v.TotalPages = s.Result.TotalPages
		v.TotalCount = s.Result.TotalCount
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	if s.Stats != nil {
		v.Stats = &statsView{
			Total:     s.Stats.TotalUsers,
			Active:    s.Stats.ActiveUsers,
			Pending:   s.Stats.PendingVerifications,
			Suspended: s.Stats.SuspendedUsers,
			NewToday:  s.Stats.NewUsersToday,
		}
	}
	if s.StatsErr != nil {
		v.StatsError = s.StatsErr.Error()
	}
	return v
}

func (v snapshotView) line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] page %d/%d, %d of %d users", v.Connection, v.Health, v.Page, v.TotalPages, v.Records, v.TotalCount)
	if v.Stats != nil {
		fmt.Fprintf(&b, " | active %d, pending %d, suspended %d, new today %d",
			v.Stats.Active, v.Stats.Pending, v.Stats.Suspended, v.Stats.NewToday)
	}
	if v.Fetching {
		b.WriteString(" | fetching")
	}
	if v.Stale {
		b.WriteString(" | stale")
	}
	if v.Error != "" {
		fmt.Fprintf(&b, " | error: %s", v.Error)
		if strings.HasPrefix(v.Error, string(adminapi.KindUnauthorized)) {
			b.WriteString(" (check token)")
		}
	}
	if v.StatsError != "" {
		fmt.Fprintf(&b, " | stats error: %s", v.StatsError)
	}
	fmt.Fprintf(&b, " [%s]", v.Query)
	return b.String()
}
