package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/clock"
	"github.com/roach88/adminsync/internal/engine"
	"github.com/roach88/adminsync/internal/health"
	"github.com/roach88/adminsync/internal/ids"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
	"github.com/roach88/adminsync/internal/store"
	"github.com/roach88/adminsync/internal/testutil"
)

// Epoch is the fake clock's starting instant for every scenario.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// maxResolve bounds a resolve: all step. Follow-ups are finite, so hitting
// it means the engine is looping.
const maxResolve = 100

var failKinds = map[adminapi.Kind]struct{}{
	adminapi.KindNetwork:            {},
	adminapi.KindTimeout:            {},
	adminapi.KindServerError:        {},
	adminapi.KindServiceUnavailable: {},
	adminapi.KindUnauthorized:       {},
	adminapi.KindValidation:         {},
}

var pushStates = map[string]pushchannel.State{
	"disconnected": pushchannel.Disconnected,
	"connecting":   pushchannel.Connecting,
	"connected":    pushchannel.Connected,
}

// Harness is the scenario execution state.
type Harness struct {
	engine  *engine.Engine
	store   *store.Store
	clock   *testutil.FakeClock
	exec    *testutil.ManualExecutor
	gate    *health.Gate
	backend *backend
	result  *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database seeded with
// scenario.Users records. Assertion failures are reported in the result;
// the error is reserved for scenarios that could not be executed.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clk := testutil.NewFakeClock(Epoch)
	if err := st.Seed(ctx, scenario.Users, ids.NewSequence("u"), clk.Now()); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	h := newHarness(scenario, st, clk)
	h.engine.Enqueue(engine.Event{Type: engine.EventRefresh, Target: engine.TargetAll, Reason: engine.ReasonInitial})
	h.engine.Drain()

	for i, step := range scenario.Steps {
		if err := h.step(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.engine.Drain()
	}

	h.result.State = flatten(h.engine.Snapshot())
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(s *Scenario, st *store.Store, clk *testutil.FakeClock) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios
	h := &Harness{
		store:   st,
		clock:   clk,
		exec:    testutil.NewManualExecutor(),
		backend: &backend{store: st, clock: clk},
		result:  NewResult(),
	}
	h.gate = health.NewGate(h.backend, health.WithClock(clk), health.WithLogger(logger))

	opts := []engine.Option{
		engine.WithClock(clk),
		engine.WithExecutor(h.exec),
		engine.WithGate(h.gate),
		engine.WithDebounce(s.Debounce),
		engine.WithLogger(logger),
		engine.WithTraceObserver(func(ev engine.TraceEvent) {
			h.result.Trace = append(h.result.Trace, traceFromEngine(ev))
		}),
	}
	if s.Stats {
		opts = append(opts, engine.WithStats(h.backend))
	}
	if s.Bulk {
		opts = append(opts, engine.WithBulk(h.backend), engine.WithBulkIDs(ids.NewSequence("bulk")))
	}
	h.engine = engine.New(query.NewStore(query.Default(s.PageSize)), h.backend, opts...)
	h.gate.OnTransition(h.engine.HealthChanged)
	return h
}

func (h *Harness) step(ctx context.Context, st Step) error {
	e := h.engine
	switch {
	case st.Search != nil:
		e.SetSearch(*st.Search)
	case st.Filter != nil:
		return e.SetFilter(st.Filter.Key, st.Filter.Value)
	case st.Sort != "":
		return e.SetSort(st.Sort)
	case st.Page != 0:
		return e.SetPage(st.Page)
	case st.PageSize != 0:
		return e.SetPageSize(st.PageSize)
	case st.Advance != 0:
		h.clock.Advance(st.Advance)
	case st.Resolve != "":
		return h.resolve(st.Resolve, adminapi.Kind(st.Fail))
	case st.Push != "":
		e.Invalidate(pushchannel.Topic(st.Push))
	case st.PushState != "":
		var err error
		if st.PushError != "" {
			err = errors.New(st.PushError)
		}
		e.PushStateChanged(pushStates[st.PushState], err)
	case st.Health != "":
		if st.Health == "healthy" {
			h.gate.Set(health.Healthy)
		} else {
			h.gate.Set(health.Unhealthy)
		}
	case st.Refresh == "users":
		e.Refresh()
	case st.Refresh == "stats":
		e.RefreshStats()
	case st.Select != nil:
		return e.Select(st.Select...)
	case st.Bulk != nil:
		if len(st.Bulk.IDs) > 0 {
			if err := e.Select(st.Bulk.IDs...); err != nil {
				return err
			}
		}
		// Partial failures are part of the scenario; only a refused run is
		// an execution error.
		_, err := e.RunBulkOperation(ctx, adminapi.BulkAction(st.Bulk.Action), st.Bulk.IDs...)
		if adminapi.IsKind(err, adminapi.KindValidation) {
			return err
		}
	}
	return nil
}

// resolve runs outstanding fetches, processing each completion before the
// next fetch runs.
func (h *Harness) resolve(mode string, fail adminapi.Kind) error {
	h.backend.setFail(fail)
	defer h.backend.setFail("")

	run := func() bool {
		if mode == "last" {
			return h.exec.RunLast()
		}
		return h.exec.RunNext()
	}

	if mode != "all" {
		if !run() {
			return fmt.Errorf("resolve %s: no fetch outstanding", mode)
		}
		return nil
	}
	for i := 0; i < maxResolve; i++ {
		if !run() {
			return nil
		}
		h.engine.Drain()
	}
	return fmt.Errorf("resolve all: still fetching after %d resolutions", maxResolve)
}

// backend serves the engine's REST collaborators from the store, failing
// on demand.
type backend struct {
	store *store.Store
	clock clock.Clock

	mu   sync.Mutex
	fail adminapi.Kind
}

func (b *backend) setFail(k adminapi.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = k
}

func (b *backend) scripted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail == "" {
		return nil
	}
	return &adminapi.FetchError{Kind: b.fail, Message: "scripted failure", Attempts: 1}
}

func (b *backend) Fetch(ctx context.Context, q query.Params) (adminapi.FetchResult, error) {
	issued := b.clock.Now()
	if err := b.scripted(); err != nil {
		return adminapi.FetchResult{}, err
	}
	page, err := b.store.ListUsers(ctx, q)
	if err != nil {
		return adminapi.FetchResult{}, err
	}
	return adminapi.FetchResult{
		Records:    page.Records,
		TotalCount: page.Total,
		TotalPages: page.TotalPages(q.PageSize),
		FetchedAt:  issued,
		ForQuery:   q.Clone(),
	}, nil
}

func (b *backend) FetchStats(ctx context.Context) (adminapi.Stats, error) {
	if err := b.scripted(); err != nil {
		return adminapi.Stats{}, err
	}
	s, err := b.store.Stats(ctx, b.clock.Now())
	if err != nil {
		return adminapi.Stats{}, err
	}
	s.FetchedAt = b.clock.Now()
	return s, nil
}

func (b *backend) Bulk(ctx context.Context, action adminapi.BulkAction, userIDs []string) (adminapi.BulkResult, error) {
	return b.store.ApplyBulk(ctx, action, userIDs)
}

// Probe implements health.Prober.
func (b *backend) Probe(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// flatten turns a snapshot into the named fields final_state assertions
// match against.
func flatten(s engine.Snapshot) map[string]any {
	state := map[string]any{
		"page":           s.Query.Page,
		"page_size":      s.Query.PageSize,
		"search":         s.Query.Search,
		"sort_field":     s.Query.SortField,
		"sort_direction": string(s.Query.SortDirection),
		"query":          s.Query.Signature(),
		"fetching":       s.Fetching,
		"stale":          s.Stale,
		"error":          errorKind(s.Err),
		"records":        len(s.Records()),
		"total_count":    0,
		"total_pages":    0,
		"first_id":       "",
		"connection":     string(s.Connection),
		"health":         s.Health.String(),
		"selected":       len(s.Selection),
		"stats_fetching": s.StatsFetching,
		"stats_error":    errorKind(s.StatsErr),
	}
	if s.Result != nil {
		state["total_count"] = s.Result.TotalCount
		state["total_pages"] = s.Result.TotalPages
		if len(s.Result.Records) > 0 {
			state["first_id"] = s.Result.Records[0].ID
		}
	}
	if s.Stats != nil {
		state["stats_total"] = s.Stats.TotalUsers
		state["stats_active"] = s.Stats.ActiveUsers
		state["stats_pending"] = s.Stats.PendingVerifications
		state["stats_suspended"] = s.Stats.SuspendedUsers
	}
	if s.LastBulk != nil {
		state["bulk_success"] = s.LastBulk.SuccessCount
		state["bulk_failure"] = s.LastBulk.FailureCount
	}
	return state
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if k, ok := adminapi.KindOf(err); ok {
		return string(k)
	}
	return "unknown"
}
