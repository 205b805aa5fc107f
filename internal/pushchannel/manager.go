// Package pushchannel owns the realtime push connection and turns inbound
// events into invalidation signals.
//
// The manager cycles Disconnected -> Connecting -> Connected, drops back to
// Disconnected on any transport error or server close, and retries forever
// at a fixed delay. The transport is behind the Dialer and Conn interfaces;
// only the event contract matters here.
package pushchannel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/adminsync/internal/clock"
	"github.com/roach88/adminsync/internal/metrics"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// DefaultRetryDelay is the fixed wait between reconnect attempts.
const DefaultRetryDelay = 3 * time.Second

// Conn is one established push connection.
type Conn interface {
	// Read blocks for the next inbound frame.
	Read(ctx context.Context) ([]byte, error)
	// RequestState sends the "give me current state" message.
	RequestState(ctx context.Context) error
	// Close ends the connection.
	Close(reason string) error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// InvalidationSink receives invalidations for recognized topics.
type InvalidationSink interface {
	Invalidate(topic Topic)
}

// Manager runs the connection lifecycle.
type Manager struct {
	dialer     Dialer
	sink       InvalidationSink
	clock      clock.Clock
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	state     State
	lastErr   error
	listeners []func(State, error)
	cancel    context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryDelay sets the reconnect delay.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithClock sets the clock used for reconnect waits.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a disconnected manager.
func NewManager(d Dialer, sink InvalidationSink, opts ...Option) *Manager {
	m := &Manager{
		dialer:     d,
		sink:       sink,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = clock.OrReal(m.clock)
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// State returns the current state and the error behind the last disconnect.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// OnStateChange registers fn for lifecycle transitions. err is non-nil when
// the manager dropped to Disconnected because of a failure. fn runs on the
// manager goroutine and must not block.
func (m *Manager) OnStateChange(fn func(State, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Run connects and reconnects until ctx is done or Stop is called.
// The final state is Disconnected with no error.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			m.setState(Disconnected, nil)
			return nil
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		m.setState(Disconnected, err)
		m.logger.Warn("push channel disconnected", "error", err, "retry_in", m.retryDelay)

		if err := clock.Sleep(ctx, m.clock, m.retryDelay); err != nil {
			m.setState(Disconnected, nil)
			return nil
		}
		m.metrics.PushReconnect()
	}
}

// Stop ends a running Run.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// session runs one connection from dial to failure.
func (m *Manager) session(ctx context.Context) error {
	m.setState(Connecting, nil)
	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close("client closing")

	m.setState(Connected, nil)
	if err := conn.RequestState(ctx); err != nil {
		return err
	}

	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		m.dispatch(raw)
	}
}

// dispatch routes one frame. Invalid and unrecognized frames are dropped.
func (m *Manager) dispatch(raw []byte) {
	ev, err := DecodeFrame(raw)
	if err != nil {
		m.metrics.PushEvent("invalid")
		m.logger.Warn("dropping push frame", "error", err)
		return
	}
	switch Topic(ev.Type) {
	case TopicUsers, TopicStats:
		m.metrics.PushEvent(ev.Type)
		m.sink.Invalidate(Topic(ev.Type))
	default:
		m.metrics.PushEvent("ignored")
		m.logger.Debug("ignoring push event", "type", ev.Type)
	}
}

func (m *Manager) setState(s State, err error) {
	m.mu.Lock()
	if m.state == s && err == nil && m.lastErr == nil {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.lastErr = err
	listeners := append([]func(State, error){}, m.listeners...)
	m.mu.Unlock()

	m.metrics.PushState(int(s))
	m.logger.Debug("push state", "state", s.String())
	for _, fn := range listeners {
		fn(s, err)
	}
}
