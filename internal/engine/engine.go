package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/bulk"
	"github.com/roach88/adminsync/internal/clock"
	"github.com/roach88/adminsync/internal/debounce"
	"github.com/roach88/adminsync/internal/health"
	"github.com/roach88/adminsync/internal/ids"
	"github.com/roach88/adminsync/internal/metrics"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
)

// DefaultDebounce is the quiet period for filter, search and sort changes.
const DefaultDebounce = time.Second

// UserFetcher loads one page of users.
type UserFetcher interface {
	Fetch(ctx context.Context, q query.Params) (adminapi.FetchResult, error)
}

// StatsFetcher loads the dashboard summary.
type StatsFetcher interface {
	FetchStats(ctx context.Context) (adminapi.Stats, error)
}

// Gate is consulted synchronously before each fetch is issued.
type Gate interface {
	Allow() bool
}

// statsKey is the stats path's query: there is only one.
type statsKey struct{}

func (statsKey) Equal(statsKey) bool { return true }

// Engine is the single-writer reconciliation loop behind the admin user
// table and the dashboard stats.
//
// Every input (query changes, debounce expiry, push invalidations, health
// transitions, fetch completions, bulk completions, UI refreshes) is an
// Event on one FIFO queue. Only the Run goroutine touches reconciler state,
// so no locks guard it. Fetches run on the Executor and post their outcome
// back as events.
//
// Thread-safety model:
//   - UI methods (SetFilter, Refresh, Select, RunBulkOperation, ...),
//     Enqueue, Snapshot and Subscribe: safe from any goroutine
//   - Run (or Drain): exactly one goroutine
type Engine struct {
	queue  *eventQueue
	seq    *Sequence
	store  *query.Store
	clock  clock.Clock
	exec   Executor
	gate   Gate
	logger *slog.Logger

	metrics      *metrics.Metrics
	tracers      []func(TraceEvent)
	quiet        time.Duration
	pollInterval time.Duration
	statsFetcher StatsFetcher
	bulkExec     bulk.Executor
	bulkIDs      ids.Generator

	debouncer *debounce.Debouncer[query.Params]
	users     *reconciler[query.Params, adminapi.FetchResult]
	stats     *reconciler[statsKey, adminapi.Stats]
	selection *bulk.Selection
	bulk      *bulk.Coordinator

	// Loop-owned state.
	runCtx     context.Context
	running    bool
	health     health.State
	push       pushchannel.State
	pushSeen   bool
	pushFailed bool
	lastBulk   *bulk.Report
	version    uint64

	unsubscribeStore func()

	snapMu sync.RWMutex
	snap   Snapshot

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock for debounce and polling timers.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithExecutor sets where fetches run.
func WithExecutor(x Executor) Option {
	return func(e *Engine) { e.exec = x }
}

// WithGate sets the health gate consulted before every fetch.
func WithGate(g Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithDebounce sets the quiet period for filter, search and sort changes.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.quiet = d }
}

// WithPollInterval enables periodic refresh of every path. Zero disables it.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithStats enables the stats path.
func WithStats(f StatsFetcher) Option {
	return func(e *Engine) { e.statsFetcher = f }
}

// WithBulk enables bulk operations.
func WithBulk(x bulk.Executor) Option {
	return func(e *Engine) { e.bulkExec = x }
}

// WithBulkIDs sets the bulk operation id source.
func WithBulkIDs(g ids.Generator) Option {
	return func(e *Engine) { e.bulkIDs = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTraceObserver registers fn for every reconciliation decision. fn runs
// on the loop goroutine and must not block.
func WithTraceObserver(fn func(TraceEvent)) Option {
	return func(e *Engine) { e.tracers = append(e.tracers, fn) }
}

// New creates an engine over store, fetching users with users.
func New(store *query.Store, users UserFetcher, opts ...Option) *Engine {
	e := &Engine{
		queue:     newEventQueue(),
		seq:       NewSequence(),
		store:     store,
		exec:      goExecutor{},
		quiet:     DefaultDebounce,
		selection: bulk.NewSelection(),
		runCtx:    context.Background(),
		subs:      make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = clock.OrReal(e.clock)
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.debouncer = debounce.New(e.clock, e.quiet, func(q query.Params) {
		e.Enqueue(Event{Type: EventDebounceFired, Target: TargetUsers, Query: q})
	})

	e.users = newReconciler(e, TargetUsers, store.Current(), users.Fetch, query.Params.Signature)
	e.users.beforeIssue = func() { e.debouncer.Cancel() }
	e.users.holdFollowup = e.debouncer.Pending
	e.users.onApply = e.usersApplied

	if e.statsFetcher != nil {
		f := e.statsFetcher
		e.stats = newReconciler(e, TargetStats, statsKey{},
			func(ctx context.Context, _ statsKey) (adminapi.Stats, error) { return f.FetchStats(ctx) },
			nil)
	}

	if e.bulkExec != nil {
		e.bulk = bulk.NewCoordinator(e.bulkExec, e.selection, e,
			bulk.WithClock(e.clock),
			bulk.WithIDGenerator(e.bulkIDs),
			bulk.WithLogger(e.logger),
			bulk.WithMetrics(e.metrics))
	}

	e.unsubscribeStore = store.Subscribe(func(c query.Change) {
		e.Enqueue(Event{Type: EventQueryChanged, Target: TargetUsers, Query: c.Current, Cause: c.Cause})
	})
	e.publish()
	return e
}

// Enqueue submits an event to the loop. Returns false once the engine stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// QueueLen returns the number of unprocessed events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the loop: an initial fetch of every path, polling if enabled,
// then events until ctx is cancelled or Stop is called.
//
// On exit the debounce and poll timers are cancelled without firing. Fetches
// still outstanding are allowed to finish; their completions are dropped.
//
// Event handling never fails the loop: problems are logged and the next
// event is processed.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		"debounce", e.quiet,
		"poll_interval", e.pollInterval,
		"stats", e.stats != nil,
		"bulk", e.bulk != nil)

	e.runCtx = ctx
	e.running = true
	stopPoll := e.startPoll()
	defer func() {
		stopPoll()
		e.debouncer.Stop()
		e.unsubscribeStore()
		e.queue.Close()
		e.running = false
		e.publish()
	}()

	e.Enqueue(Event{Type: EventRefresh, Target: TargetAll, Reason: ReasonInitial})

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue, which ends Run.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain processes every queued event on the calling goroutine and returns
// how many were handled. It is the loop body for deterministic drivers
// (tests, the scenario harness) that never call Run; it must not be used
// while Run is active.
func (e *Engine) Drain() int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.process(ev)
		n++
	}
}

// process routes one event. Called only from the loop goroutine.
func (e *Engine) process(ev Event) {
	switch ev.Type {
	case EventQueryChanged:
		e.users.current = ev.Query
		if ev.Cause.Immediate() {
			e.users.request(ReasonNavigate)
		} else {
			e.debouncer.Arm(ev.Query)
			e.emit(TraceEvent{Kind: TraceDebounceArmed, Target: TargetUsers, Query: ev.Query.Signature()})
		}

	case EventDebounceFired:
		if !ev.Query.Equal(e.users.current) {
			e.emit(TraceEvent{Kind: TraceDebounceSkipped, Target: TargetUsers, Query: ev.Query.Signature()})
			break
		}
		e.users.request(ReasonDebounce)

	case EventRefresh, EventInvalidate:
		e.requestTarget(ev.Target, ev.Reason)

	case EventFetchCompleted:
		e.completeFetch(ev)

	case EventHealthChanged:
		e.health = ev.Health
		if ev.PrevHealth == health.Unhealthy && ev.Health == health.Healthy {
			e.requestTarget(TargetAll, ReasonRecovered)
		}

	case EventPushChanged:
		e.pushSeen = true
		e.push = ev.Push
		switch {
		case ev.Push == pushchannel.Connected:
			e.pushFailed = false
		case ev.PushErr != nil:
			e.pushFailed = true
		}

	case EventBulkCompleted:
		e.lastBulk = ev.Bulk
		// Counts on the dashboard move with the page.
		e.requestTarget(TargetAll, ReasonBulk)

	case EventSelectionChanged:

	default:
		e.logger.Error("unknown event type", "type", ev.Type)
		return
	}
	e.publish()
}

func (e *Engine) requestTarget(t Target, reason Reason) {
	if t == TargetUsers || t == TargetAll {
		e.users.request(reason)
	}
	if (t == TargetStats || t == TargetAll) && e.stats != nil {
		e.stats.request(reason)
	}
}

func (e *Engine) completeFetch(ev Event) {
	switch ev.Target {
	case TargetUsers:
		out, ok := ev.Outcome.(fetchOutcome[adminapi.FetchResult])
		if !ok {
			e.logger.Error("malformed users completion", "request_id", ev.RequestID)
			return
		}
		e.users.complete(ev.RequestID, out)
	case TargetStats:
		out, ok := ev.Outcome.(fetchOutcome[adminapi.Stats])
		if !ok || e.stats == nil {
			e.logger.Error("malformed stats completion", "request_id", ev.RequestID)
			return
		}
		e.stats.complete(ev.RequestID, out)
	default:
		e.logger.Error("completion for unknown target", "target", ev.Target)
	}
}

func (e *Engine) allowFetch() bool {
	return e.gate == nil || e.gate.Allow()
}

func (e *Engine) usersApplied(res adminapi.FetchResult) {
	keep := make([]string, len(res.Records))
	for i, r := range res.Records {
		keep[i] = r.ID
	}
	if dropped := e.selection.Retain(keep); dropped > 0 {
		e.logger.Debug("selection pruned", "dropped", dropped)
	}
}

func (e *Engine) emit(ev TraceEvent) {
	ev.At = e.clock.Now()
	e.metrics.Decision(string(ev.Target), string(ev.Kind))
	e.logger.Debug("reconcile",
		"decision", ev.Kind,
		"target", ev.Target,
		"reason", ev.Reason,
		"request_id", ev.RequestID,
		"query", ev.Query)
	for _, fn := range e.tracers {
		fn(ev)
	}
}

// startPoll schedules a refresh of every path each poll interval.
func (e *Engine) startPoll() (stop func()) {
	if e.pollInterval <= 0 {
		return func() {}
	}
	var (
		mu      sync.Mutex
		stopped bool
		timer   clock.Timer
	)
	var schedule func()
	schedule = func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		timer = e.clock.AfterFunc(e.pollInterval, func() {
			e.Enqueue(Event{Type: EventRefresh, Target: TargetAll, Reason: ReasonPoll})
			schedule()
		})
	}
	schedule()
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}

func (e *Engine) publish() {
	e.version++
	s := Snapshot{
		Version:    e.version,
		Query:      e.users.current,
		Result:     e.users.last,
		Err:        e.users.lastErr,
		Fetching:   e.users.fetching(),
		Stale:      e.users.stale(),
		Connection: connectionState(e.pushSeen, e.running, e.pushFailed, e.push),
		Health:     e.health,
		Selection:  e.selection.IDs(),
		LastBulk:   e.lastBulk,
	}
	if e.stats != nil {
		s.Stats = e.stats.last
		s.StatsErr = e.stats.lastErr
		s.StatsFetching = e.stats.fetching()
	}

	e.snapMu.Lock()
	e.snap = s
	e.snapMu.Unlock()

	e.subsMu.Lock()
	subs := make([]func(Snapshot), 0, len(e.subs))
	for i := 0; i < e.nextSub; i++ {
		if fn, ok := e.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	e.subsMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
