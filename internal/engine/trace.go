package engine

import "time"

// TraceKind names one reconciliation decision.
type TraceKind string

const (
	TraceFetchIssued         TraceKind = "fetch_issued"
	TraceCoalesced           TraceKind = "coalesced"
	TraceApplied             TraceKind = "applied"
	TraceDiscardedStale      TraceKind = "discarded_stale"
	TraceDiscardedSuperseded TraceKind = "discarded_superseded"
	TraceFailed              TraceKind = "failed"
	TracePreempted           TraceKind = "preempted"
	TraceFollowup            TraceKind = "followup"
	TraceDebounceArmed       TraceKind = "debounce_armed"
	TraceDebounceSkipped     TraceKind = "debounce_skipped"
)

// TraceEvent reports one decision to trace observers.
type TraceEvent struct {
	Kind      TraceKind
	Target    Target
	Reason    Reason
	RequestID int64
	// Query is the signature of the query involved (users target only).
	Query     string
	ErrorKind string
	At        time.Time
}
