// Package health tracks backend liveness and closes the fetch gate while the
// backend is known to be down.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/adminsync/internal/clock"
	"github.com/roach88/adminsync/internal/metrics"
)

// State is the gate's view of the backend.
type State int

const (
	Unknown State = iota
	Healthy
	Unhealthy
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Defaults for NewGate.
const (
	DefaultInterval     = 60 * time.Second
	DefaultInitialDelay = 5 * time.Second
)

// Prober checks the liveness endpoint once.
type Prober interface {
	Probe(ctx context.Context) error
}

// Gate probes on a fixed interval and reports transitions.
//
// Unknown counts as open: requests flow until the first probe says otherwise.
type Gate struct {
	prober       Prober
	clock        clock.Clock
	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	state     State
	listeners []func(prev, next State)
}

// Option configures a Gate.
type Option func(*Gate)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(g *Gate) { g.interval = d }
}

// WithInitialDelay sets the wait before the first probe.
func WithInitialDelay(d time.Duration) Option {
	return func(g *Gate) { g.initialDelay = d }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a gate in the Unknown state.
func NewGate(p Prober, opts ...Option) *Gate {
	g := &Gate{
		prober:       p,
		interval:     DefaultInterval,
		initialDelay: DefaultInitialDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.clock = clock.OrReal(g.clock)
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Allow reports whether fetches may proceed.
func (g *Gate) Allow() bool {
	return g.State() != Unhealthy
}

// OnTransition registers fn for state changes. fn runs on the probing
// goroutine after the state is updated and must not block.
func (g *Gate) OnTransition(fn func(prev, next State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Probe runs one probe and updates the state.
func (g *Gate) Probe(ctx context.Context) State {
	next := Healthy
	if err := g.prober.Probe(ctx); err != nil {
		if ctx.Err() != nil {
			return g.State()
		}
		g.logger.Debug("health probe failed", "error", err)
		next = Unhealthy
	}
	g.set(next)
	return next
}

// Set forces a state. Used by callers that learn about availability
// out of band.
func (g *Gate) Set(s State) {
	g.set(s)
}

// Run probes after the initial delay and then on every interval until ctx
// is done.
func (g *Gate) Run(ctx context.Context) error {
	if err := clock.Sleep(ctx, g.clock, g.initialDelay); err != nil {
		return nil
	}
	for {
		g.Probe(ctx)
		if err := clock.Sleep(ctx, g.clock, g.interval); err != nil {
			return nil
		}
	}
}

func (g *Gate) set(next State) {
	g.mu.Lock()
	prev := g.state
	if prev == next {
		g.mu.Unlock()
		return
	}
	g.state = next
	listeners := append([]func(prev, next State){}, g.listeners...)
	g.mu.Unlock()

	g.metrics.HealthState(int(next))
	g.logger.Info("health state changed", "from", prev.String(), "to", next.String())
	for _, fn := range listeners {
		fn(prev, next)
	}
}
