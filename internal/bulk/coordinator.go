// Package bulk applies one state-changing action to a set of selected
// records and accounts for every target individually.
//
// A bulk run issues a single request for the whole set. Whatever the
// outcome, the coordinator clears the selection and hands the report to the
// Refresher exactly once so the displayed page is refetched rather than
// patched locally.
package bulk

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/clock"
	"github.com/roach88/adminsync/internal/ids"
	"github.com/roach88/adminsync/internal/metrics"
)

// Executor performs the bulk request.
type Executor interface {
	Bulk(ctx context.Context, action adminapi.BulkAction, ids []string) (adminapi.BulkResult, error)
}

// Refresher is told about every completed run.
type Refresher interface {
	BulkCompleted(r Report)
}

// ItemResult is the outcome for one target id. ErrorKind is empty on success.
type ItemResult struct {
	OK        bool   `json:"ok"`
	ErrorKind string `json:"error,omitempty"`
}

// Report is the outcome of one bulk run.
type Report struct {
	ID           string                `json:"id"`
	Action       adminapi.BulkAction   `json:"action"`
	TargetIDs    []string              `json:"target_ids"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	Results      map[string]ItemResult `json:"results"`
	Err          error                 `json:"-"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  time.Time             `json:"completed_at"`
}

// Failed returns the ids whose result is not OK, sorted.
func (r Report) Failed() []string {
	var out []string
	for id, res := range r.Results {
		if !res.OK {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Coordinator runs bulk operations.
type Coordinator struct {
	api       Executor
	selection *Selection
	refresher Refresher
	ids       ids.Generator
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator sets the operation id source.
func WithIDGenerator(g ids.Generator) Option {
	return func(c *Coordinator) { c.ids = g }
}

// WithClock sets the clock used for report timestamps.
func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) { c.clock = cl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator over selection. refresher may be nil.
func NewCoordinator(api Executor, selection *Selection, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{api: api, selection: selection, refresher: refresher}
	for _, opt := range opts {
		opt(c)
	}
	c.ids = ids.OrUUIDv7(c.ids)
	c.clock = clock.OrReal(c.clock)
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run applies action to targetIDs.
//
// targetIDs must be non-empty and every id must be selected; otherwise Run
// returns a validation error without any request, refresh or selection
// change. Once the request has been issued the selection is cleared and the
// refresher is notified whether the request succeeded, partially failed or
// failed outright. The returned error is non-nil only when no item could be
// accounted for by the server (every id then carries the same error kind).
func (c *Coordinator) Run(ctx context.Context, action adminapi.BulkAction, targetIDs []string) (Report, error) {
	if !action.Valid() {
		return Report{}, adminapi.NewValidationError("unknown bulk action %q", action)
	}
	targets := dedupe(targetIDs)
	if len(targets) == 0 {
		return Report{}, adminapi.NewValidationError("bulk %s: selection is empty", action)
	}
	var unknown []string
	for _, id := range targets {
		if !c.selection.Contains(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return Report{}, adminapi.NewValidationError("bulk %s: ids not selected: %v", action, unknown)
	}

	report := Report{
		ID:        c.ids.Generate(),
		Action:    action,
		TargetIDs: targets,
		Results:   make(map[string]ItemResult, len(targets)),
		StartedAt: c.clock.Now(),
	}
	c.logger.Info("bulk operation starting", "op_id", report.ID, "action", action, "targets", len(targets))

	res, err := c.api.Bulk(ctx, action, targets)
	if err != nil {
		kind := string(adminapi.KindNetwork)
		if k, ok := adminapi.KindOf(err); ok {
			kind = string(k)
		}
		for _, id := range targets {
			report.Results[id] = ItemResult{ErrorKind: kind}
		}
		report.FailureCount = len(targets)
		report.Err = err
	} else {
		accountItems(&report, res)
	}
	report.CompletedAt = c.clock.Now()

	c.selection.Clear()
	c.metrics.BulkItems(string(action), "ok", report.SuccessCount)
	c.metrics.BulkItems(string(action), "failed", report.FailureCount)
	c.logger.Info("bulk operation completed",
		"op_id", report.ID,
		"action", action,
		"success", report.SuccessCount,
		"failed", report.FailureCount,
		"error", report.Err)
	if c.refresher != nil {
		c.refresher.BulkCompleted(report)
	}
	return report, report.Err
}

// accountItems fills one result per target from the server's aggregate.
// Ids named in the errors list failed with that error; the rest succeeded.
// If the server reports more failures than it names, the shortfall is taken
// from the unnamed ids in target order and marked "unknown".
func accountItems(r *Report, res adminapi.BulkResult) {
	named := make(map[string]string, len(res.Errors))
	for _, e := range res.Errors {
		kind := e.Error
		if kind == "" {
			kind = "unknown"
		}
		named[e.ID] = kind
	}

	unnamedFailures := res.FailureCount - countTargets(r.TargetIDs, named)
	for _, id := range r.TargetIDs {
		if kind, ok := named[id]; ok {
			r.Results[id] = ItemResult{ErrorKind: kind}
			continue
		}
		if unnamedFailures > 0 {
			r.Results[id] = ItemResult{ErrorKind: "unknown"}
			unnamedFailures--
			continue
		}
		r.Results[id] = ItemResult{OK: true}
	}

	for _, res := range r.Results {
		if res.OK {
			r.SuccessCount++
		} else {
			r.FailureCount++
		}
	}
}

func countTargets(targets []string, named map[string]string) int {
	n := 0
	for _, id := range targets {
		if _, ok := named[id]; ok {
			n++
		}
	}
	return n
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
