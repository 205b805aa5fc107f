package engine

import (
	"github.com/roach88/adminsync/internal/bulk"
	"github.com/roach88/adminsync/internal/health"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
)

// EventType distinguishes loop inputs.
type EventType int

const (
	// EventQueryChanged: the query store replaced the current query.
	EventQueryChanged EventType = iota + 1
	// EventDebounceFired: the quiet period elapsed for Query.
	EventDebounceFired
	// EventRefresh: a refresh was requested (manual, poll, initial).
	EventRefresh
	// EventInvalidate: cached data for Target is known to be outdated (push).
	EventInvalidate
	// EventFetchCompleted: the fetch RequestID for Target finished.
	EventFetchCompleted
	// EventHealthChanged: the health gate moved from PrevHealth to Health.
	EventHealthChanged
	// EventPushChanged: the push manager entered Push.
	EventPushChanged
	// EventBulkCompleted: a bulk run finished.
	EventBulkCompleted
	// EventSelectionChanged: the selection set changed; republish.
	EventSelectionChanged
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventQueryChanged:
		return "query_changed"
	case EventDebounceFired:
		return "debounce_fired"
	case EventRefresh:
		return "refresh"
	case EventInvalidate:
		return "invalidate"
	case EventFetchCompleted:
		return "fetch_completed"
	case EventHealthChanged:
		return "health_changed"
	case EventPushChanged:
		return "push_changed"
	case EventBulkCompleted:
		return "bulk_completed"
	case EventSelectionChanged:
		return "selection_changed"
	default:
		return "unknown"
	}
}

// Target names a reconciled data path.
type Target string

const (
	TargetUsers Target = "users"
	TargetStats Target = "stats"
	TargetAll   Target = "all"
)

// Reason records why a fetch was requested.
type Reason string

const (
	ReasonInitial   Reason = "initial"
	ReasonDebounce  Reason = "debounce"
	ReasonNavigate  Reason = "navigate"
	ReasonManual    Reason = "manual"
	ReasonPush      Reason = "push"
	ReasonRecovered Reason = "recovered"
	ReasonPoll      Reason = "poll"
	ReasonBulk      Reason = "bulk"
	ReasonFollowup  Reason = "followup"
)

// invalidates reports whether the reason means the server data changed, as
// opposed to the client wanting a (re)load. Invalidations that cannot be
// served right away are remembered as pending.
func (r Reason) invalidates() bool {
	return r == ReasonPush || r == ReasonBulk
}

// Event is one input to the Run loop.
type Event struct {
	Type   EventType
	Target Target
	Reason Reason

	Query query.Params
	Cause query.Cause

	RequestID int64
	Outcome   any

	PrevHealth health.State
	Health     health.State

	Push    pushchannel.State
	PushErr error

	Bulk *bulk.Report
}
