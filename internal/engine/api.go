package engine

import (
	"context"
	"fmt"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/bulk"
	"github.com/roach88/adminsync/internal/health"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
)

// UI surface. Every method is safe from any goroutine; effects reach the
// loop as events.

// Snapshot returns the latest published view.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// Subscribe registers fn for every published snapshot. fn runs on the loop
// goroutine and must not block. The returned function removes it.
func (e *Engine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		delete(e.subs, id)
	}
}

// Query returns the current query.
func (e *Engine) Query() query.Params {
	return e.store.Current()
}

// SetFilter sets one filter; "" or "all" clears it. Debounced.
func (e *Engine) SetFilter(key, value string) error {
	_, err := e.store.SetFilter(key, query.FilterValue(value))
	return err
}

// SetSearch replaces the search text. Debounced.
func (e *Engine) SetSearch(text string) {
	e.store.SetSearch(text)
}

// SetSort sorts on field, toggling direction on the active field. Debounced.
func (e *Engine) SetSort(field string) error {
	_, err := e.store.SetSort(field)
	return err
}

// SetPage moves to page n. Immediate.
func (e *Engine) SetPage(n int) error {
	_, err := e.store.SetPage(n)
	return err
}

// SetPageSize changes the page size. Immediate.
func (e *Engine) SetPageSize(n int) error {
	_, err := e.store.SetPageSize(n)
	return err
}

// Refresh refetches the current users page. This is the retry affordance
// after an error.
func (e *Engine) Refresh() {
	e.Enqueue(Event{Type: EventRefresh, Target: TargetUsers, Reason: ReasonManual})
}

// RefreshStats refetches the dashboard stats.
func (e *Engine) RefreshStats() {
	e.Enqueue(Event{Type: EventRefresh, Target: TargetStats, Reason: ReasonManual})
}

// Invalidate implements pushchannel.InvalidationSink.
func (e *Engine) Invalidate(topic pushchannel.Topic) {
	switch topic {
	case pushchannel.TopicUsers:
		e.Enqueue(Event{Type: EventInvalidate, Target: TargetUsers, Reason: ReasonPush})
	case pushchannel.TopicStats:
		e.Enqueue(Event{Type: EventInvalidate, Target: TargetStats, Reason: ReasonPush})
	}
}

// HealthChanged is the health gate transition callback.
func (e *Engine) HealthChanged(prev, next health.State) {
	e.Enqueue(Event{Type: EventHealthChanged, PrevHealth: prev, Health: next})
}

// PushStateChanged is the push manager state callback.
func (e *Engine) PushStateChanged(s pushchannel.State, err error) {
	e.Enqueue(Event{Type: EventPushChanged, Push: s, PushErr: err})
}

// BulkCompleted implements bulk.Refresher.
func (e *Engine) BulkCompleted(r bulk.Report) {
	e.Enqueue(Event{Type: EventBulkCompleted, Target: TargetUsers, Reason: ReasonBulk, Bulk: &r})
}

// Select adds ids to the selection. Every id must be on the applied page.
func (e *Engine) Select(ids ...string) error {
	snap := e.Snapshot()
	for _, id := range ids {
		if !snap.hasRecord(id) {
			return fmt.Errorf("select %q: %w", id, ErrNotOnPage)
		}
	}
	e.selection.Add(ids...)
	e.Enqueue(Event{Type: EventSelectionChanged})
	return nil
}

// Deselect removes ids from the selection.
func (e *Engine) Deselect(ids ...string) {
	e.selection.Remove(ids...)
	e.Enqueue(Event{Type: EventSelectionChanged})
}

// ToggleSelection flips id and reports whether it is now selected.
func (e *Engine) ToggleSelection(id string) (bool, error) {
	if !e.selection.Contains(id) && !e.Snapshot().hasRecord(id) {
		return false, fmt.Errorf("select %q: %w", id, ErrNotOnPage)
	}
	on := e.selection.Toggle(id)
	e.Enqueue(Event{Type: EventSelectionChanged})
	return on, nil
}

// ClearSelection empties the selection.
func (e *Engine) ClearSelection() {
	e.selection.Clear()
	e.Enqueue(Event{Type: EventSelectionChanged})
}

// Selection returns the selected ids, sorted.
func (e *Engine) Selection() []string {
	return e.selection.IDs()
}

// RunBulkOperation applies action to ids, or to the current selection when
// no ids are given. It blocks for the request; the follow-up refresh goes
// through the loop.
func (e *Engine) RunBulkOperation(ctx context.Context, action adminapi.BulkAction, ids ...string) (bulk.Report, error) {
	if e.bulk == nil {
		return bulk.Report{}, ErrBulkUnavailable
	}
	if len(ids) == 0 {
		ids = e.selection.IDs()
	}
	return e.bulk.Run(ctx, action, ids)
}
