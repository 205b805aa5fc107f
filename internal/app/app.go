// Package app assembles the sync engine and its collaborators from a
// config.Config and runs them together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/config"
	"github.com/roach88/adminsync/internal/engine"
	"github.com/roach88/adminsync/internal/health"
	"github.com/roach88/adminsync/internal/metrics"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
	"github.com/roach88/adminsync/internal/session"
	"github.com/roach88/adminsync/internal/telemetry"
)

// App owns one engine and everything feeding it.
type App struct {
	Engine *engine.Engine
	Client *adminapi.Client
	Gate   *health.Gate
	// Push is nil when no push URL is configured (REST-poll-only mode).
	Push *pushchannel.Manager

	creds    *session.FileCredentials
	registry *prometheus.Registry
	logger   *slog.Logger

	closeOnce       sync.Once
	shutdownTracing telemetry.Shutdown
}

// Option configures New.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	traces     []func(engine.TraceEvent)
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the HTTP client for REST and websocket calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTraceObserver forwards engine decisions to fn.
func WithTraceObserver(fn func(engine.TraceEvent)) Option {
	return func(o *options) { o.traces = append(o.traces, fn) }
}

// probeFunc adapts a function to health.Prober.
type probeFunc func(ctx context.Context) error

func (f probeFunc) Probe(ctx context.Context) error { return f(ctx) }

// New wires the components described by cfg. Nothing runs until Run.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}

	creds, watched, err := cfg.Credentials(o.logger)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), telemetry.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// The gate probes through the client, and the client consults the gate.
	var client *adminapi.Client
	gate := health.NewGate(probeFunc(func(ctx context.Context) error { return client.Probe(ctx) }),
		health.WithInterval(cfg.HealthInterval),
		health.WithInitialDelay(cfg.HealthInitialDelay),
		health.WithLogger(o.logger.With("component", "health")),
		health.WithMetrics(m))

	client = adminapi.NewClient(cfg.BaseURL, creds,
		adminapi.WithHTTPClient(o.httpClient),
		adminapi.WithPaths(cfg.CollectionPath, cfg.StatsPath, cfg.HealthPath),
		adminapi.WithServiceHeader(cfg.ServiceHeader),
		adminapi.WithTimeout(cfg.RequestTimeout),
		adminapi.WithRetry(cfg.MaxAttempts, cfg.RetryStep),
		adminapi.WithGate(gate),
		adminapi.WithLogger(o.logger.With("component", "adminapi")),
		adminapi.WithMetrics(m))

	engineOpts := []engine.Option{
		engine.WithStats(client),
		engine.WithBulk(client),
		engine.WithGate(gate),
		engine.WithDebounce(cfg.Debounce),
		engine.WithPollInterval(cfg.PollInterval),
		engine.WithLogger(o.logger.With("component", "engine")),
		engine.WithMetrics(m),
	}
	for _, fn := range o.traces {
		engineOpts = append(engineOpts, engine.WithTraceObserver(fn))
	}
	eng := engine.New(query.NewStore(query.Default(cfg.PageSize)), client, engineOpts...)
	gate.OnTransition(eng.HealthChanged)

	a := &App{
		Engine:   eng,
		Client:   client,
		Gate:     gate,
		creds:    watched,
		registry: reg,
		logger:   o.logger,

		shutdownTracing: shutdownTracing,
	}

	if cfg.PushURL != "" {
		dialer := &pushchannel.WebSocketDialer{
			URL:           cfg.PushURL,
			Credentials:   creds,
			ServiceHeader: cfg.ServiceHeader,
			HTTPClient:    o.httpClient,
		}
		a.Push = pushchannel.NewManager(dialer, eng,
			pushchannel.WithRetryDelay(cfg.PushRetryDelay),
			pushchannel.WithLogger(o.logger.With("component", "push")),
			pushchannel.WithMetrics(m))
		a.Push.OnStateChange(eng.PushStateChanged)
	}
	return a, nil
}

// MetricsHandler serves the app's Prometheus registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

// Close flushes pending spans and stops the trace exporter. Safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() { err = a.shutdownTracing(ctx) })
	return err
}

// Run starts the health gate, push manager and credential watcher, then
// runs the engine until ctx is done. Teardown stops every timer and closes
// the push connection before Run returns, and flushes traces.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(flushCtx); err != nil {
			a.logger.Warn("flush traces", "error", err)
		}
	}()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("component failed", "component", name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	spawn("health", a.Gate.Run)
	if a.Push != nil {
		spawn("push", a.Push.Run)
	}
	if a.creds != nil {
		spawn("credentials", a.creds.Watch)
	}

	err := a.Engine.Run(ctx)
	cancel()
	if a.Push != nil {
		a.Push.Stop()
	}
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	return errors.Join(errs...)
}
