package engine

import (
	"context"

	"github.com/roach88/adminsync/internal/adminapi"
)

// fetchRequest is the request currently allowed to resolve.
type fetchRequest[Q any] struct {
	id     int64
	query  Q
	reason Reason
}

// fetchOutcome travels from the executor goroutine back to the loop.
type fetchOutcome[R any] struct {
	result R
	err    error
}

// reconciler decides, for one data path, whether a trigger issues a fetch,
// coalesces into the outstanding one, or is pre-empted; and whether an
// arriving result is applied, discarded or followed up.
//
// State (current, inFlight, pendingSeq, last, lastErr) is owned by the
// engine loop goroutine. Fetches run on the engine executor and report back
// through EventFetchCompleted.
//
// INVARIANTS:
//   - At most one request is in flight for the current query. A request for
//     a superseded query is abandoned: inFlight is replaced and its result is
//     dropped on arrival.
//   - A result is applied only if its query equals current at arrival.
//   - pendingSeq (the sequence number of the newest unserved trigger) is
//     cleared only by a successful fetch issued after it.
//   - After a completion, a follow-up fetch runs iff a trigger arrived while
//     that request was outstanding. One completion yields at most one
//     follow-up, so failures never loop.
type reconciler[Q interface{ Equal(Q) bool }, R any] struct {
	e        *Engine
	target   Target
	fetch    func(ctx context.Context, q Q) (R, error)
	describe func(Q) string

	current    Q
	inFlight   *fetchRequest[Q]
	pendingSeq int64
	last       *R
	lastErr    error

	// onApply runs after a result is accepted.
	onApply func(R)
	// beforeIssue runs just before a fetch is issued.
	beforeIssue func()
	// holdFollowup, when it returns true, leaves a due follow-up to another
	// trigger that is already scheduled.
	holdFollowup func() bool
}

func newReconciler[Q interface{ Equal(Q) bool }, R any](
	e *Engine,
	target Target,
	initial Q,
	fetch func(ctx context.Context, q Q) (R, error),
	describe func(Q) string,
) *reconciler[Q, R] {
	return &reconciler[Q, R]{
		e:        e,
		target:   target,
		current:  initial,
		fetch:    fetch,
		describe: describe,
	}
}

// fetching reports whether a request is outstanding.
func (r *reconciler[Q, R]) fetching() bool {
	return r.inFlight != nil
}

// stale reports whether an invalidation is still unserved.
func (r *reconciler[Q, R]) stale() bool {
	return r.pendingSeq != 0
}

// request handles one fetch trigger for the current query.
func (r *reconciler[Q, R]) request(reason Reason) {
	if r.inFlight != nil && r.inFlight.query.Equal(r.current) {
		r.pendingSeq = r.e.seq.Next()
		r.trace(TraceCoalesced, reason, r.inFlight.id, r.current, "")
		return
	}

	if !r.e.allowFetch() {
		if reason.invalidates() {
			r.pendingSeq = r.e.seq.Next()
		}
		r.lastErr = adminapi.NewServiceUnavailable()
		r.trace(TracePreempted, reason, 0, r.current, string(adminapi.KindServiceUnavailable))
		return
	}

	if r.beforeIssue != nil {
		r.beforeIssue()
	}

	id := r.e.seq.Next()
	q := r.current
	r.inFlight = &fetchRequest[Q]{id: id, query: q, reason: reason}
	r.trace(TraceFetchIssued, reason, id, q, "")

	ctx := r.e.runCtx
	fetch := r.fetch
	target := r.target
	e := r.e
	e.exec.Go(func() {
		res, err := fetch(ctx, q)
		e.Enqueue(Event{
			Type:      EventFetchCompleted,
			Target:    target,
			RequestID: id,
			Outcome:   fetchOutcome[R]{result: res, err: err},
		})
	})
}

// complete handles the result of request id.
func (r *reconciler[Q, R]) complete(id int64, out fetchOutcome[R]) {
	if r.inFlight == nil || r.inFlight.id != id {
		r.trace(TraceDiscardedSuperseded, "", id, r.current, "")
		return
	}

	req := *r.inFlight
	r.inFlight = nil

	switch {
	case out.err != nil:
		r.lastErr = out.err
		kind, _ := adminapi.KindOf(out.err)
		r.trace(TraceFailed, req.reason, id, req.query, string(kind))
		r.e.logger.Warn("fetch failed",
			"target", r.target,
			"request_id", id,
			"error", out.err)

	case !req.query.Equal(r.current):
		r.trace(TraceDiscardedStale, req.reason, id, req.query, "")

	default:
		res := out.result
		r.last = &res
		r.lastErr = nil
		if r.pendingSeq != 0 && r.pendingSeq < id {
			r.pendingSeq = 0
		}
		r.trace(TraceApplied, req.reason, id, req.query, "")
		if r.onApply != nil {
			r.onApply(res)
		}
	}

	if r.pendingSeq > id {
		if r.holdFollowup != nil && r.holdFollowup() {
			return
		}
		r.trace(TraceFollowup, req.reason, id, r.current, "")
		r.request(ReasonFollowup)
	}
}

func (r *reconciler[Q, R]) trace(kind TraceKind, reason Reason, id int64, q Q, errKind string) {
	ev := TraceEvent{
		Kind:      kind,
		Target:    r.target,
		Reason:    reason,
		RequestID: id,
		ErrorKind: errKind,
	}
	if r.describe != nil {
		ev.Query = r.describe(q)
	}
	r.e.emit(ev)
}
