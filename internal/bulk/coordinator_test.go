package bulk

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/ids"
)

type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	action adminapi.BulkAction
	ids    []string
	result adminapi.BulkResult
	err    error
}

func (f *fakeExecutor) Bulk(_ context.Context, action adminapi.BulkAction, ids []string) (adminapi.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.action = action
	f.ids = append([]string(nil), ids...)
	return f.result, f.err
}

type countingRefresher struct {
	reports []Report
}

func (r *countingRefresher) BulkCompleted(rep Report) {
	r.reports = append(r.reports, rep)
}

func newCoordinator(exec Executor, selected ...string) (*Coordinator, *Selection, *countingRefresher) {
	sel := NewSelection()
	sel.Add(selected...)
	ref := &countingRefresher{}
	return NewCoordinator(exec, sel, ref, WithIDGenerator(ids.NewSequence("op"))), sel, ref
}

func TestRun_PartialFailureAccounting(t *testing.T) {
	exec := &fakeExecutor{result: adminapi.BulkResult{
		SuccessCount: 2,
		FailureCount: 1,
		Errors:       []adminapi.BulkItemError{{ID: "b", Error: "not_found"}},
	}}
	c, sel, ref := newCoordinator(exec, "a", "b", "c")

	rep, err := c.Run(context.Background(), adminapi.BulkReject, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, 1, exec.calls, "one request for the whole set")
	assert.Equal(t, adminapi.BulkReject, exec.action)
	assert.Equal(t, []string{"a", "b", "c"}, exec.ids)

	assert.Equal(t, "op-1", rep.ID)
	assert.Equal(t, 2, rep.SuccessCount)
	assert.Equal(t, 1, rep.FailureCount)
	assert.Equal(t, map[string]ItemResult{
		"a": {OK: true},
		"b": {ErrorKind: "not_found"},
		"c": {OK: true},
	}, rep.Results)
	assert.Equal(t, []string{"b"}, rep.Failed())

	assert.Len(t, ref.reports, 1, "exactly one refresh afterwards")
	assert.Equal(t, 0, sel.Len(), "selection cleared")
}

func TestRun_TotalFailureMapsEveryID(t *testing.T) {
	exec := &fakeExecutor{err: &adminapi.FetchError{Kind: adminapi.KindServerError, Status: 500, Message: "boom"}}
	c, sel, ref := newCoordinator(exec, "x", "y")

	rep, err := c.Run(context.Background(), adminapi.BulkVerify, []string{"x", "y"})
	assert.ErrorIs(t, err, adminapi.ErrServerError)

	assert.Equal(t, 0, rep.SuccessCount)
	assert.Equal(t, 2, rep.FailureCount)
	assert.Equal(t, map[string]ItemResult{
		"x": {ErrorKind: "server_error"},
		"y": {ErrorKind: "server_error"},
	}, rep.Results)
	assert.Len(t, ref.reports, 1)
	assert.Equal(t, 0, sel.Len())
}

func TestRun_UnclassifiedErrorCountsAsNetwork(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("boom")}
	c, _, _ := newCoordinator(exec, "x")

	rep, err := c.Run(context.Background(), adminapi.BulkDelete, []string{"x"})
	assert.Error(t, err)
	assert.Equal(t, "network", rep.Results["x"].ErrorKind)
}

func TestRun_EmptySelectionRejectedLocally(t *testing.T) {
	exec := &fakeExecutor{}
	c, _, ref := newCoordinator(exec)

	for _, targets := range [][]string{nil, {}, {""}} {
		_, err := c.Run(context.Background(), adminapi.BulkVerify, targets)
		assert.ErrorIs(t, err, adminapi.ErrValidation)
	}
	assert.Equal(t, 0, exec.calls)
	assert.Empty(t, ref.reports)
}

func TestRun_UnselectedIDRejected(t *testing.T) {
	exec := &fakeExecutor{}
	c, sel, ref := newCoordinator(exec, "a")

	_, err := c.Run(context.Background(), adminapi.BulkVerify, []string{"a", "ghost"})
	assert.ErrorIs(t, err, adminapi.ErrValidation)
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, 0, exec.calls)
	assert.Empty(t, ref.reports)
	assert.Equal(t, 1, sel.Len(), "selection untouched on validation failure")
}

func TestRun_UnknownAction(t *testing.T) {
	c, _, _ := newCoordinator(&fakeExecutor{}, "a")
	_, err := c.Run(context.Background(), adminapi.BulkAction("nuke"), []string{"a"})
	assert.ErrorIs(t, err, adminapi.ErrValidation)
}

func TestRun_DeduplicatesTargets(t *testing.T) {
	exec := &fakeExecutor{result: adminapi.BulkResult{SuccessCount: 2}}
	c, _, _ := newCoordinator(exec, "a", "b")

	rep, err := c.Run(context.Background(), adminapi.BulkActivate, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, exec.ids)
	assert.Len(t, rep.Results, 2)
}

func TestRun_UnnamedFailures(t *testing.T) {
	exec := &fakeExecutor{result: adminapi.BulkResult{SuccessCount: 1, FailureCount: 2}}
	c, _, _ := newCoordinator(exec, "a", "b", "c")

	rep, err := c.Run(context.Background(), adminapi.BulkSuspend, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SuccessCount)
	assert.Equal(t, 2, rep.FailureCount)
	assert.Len(t, rep.Results, 3, "exactly one entry per target")
}

func TestSelection(t *testing.T) {
	s := NewSelection()
	s.Add("b", "a")
	assert.True(t, s.Contains("a"))
	assert.Equal(t, []string{"a", "b"}, s.IDs())

	assert.False(t, s.Toggle("a"))
	assert.True(t, s.Toggle("c"))
	assert.Equal(t, []string{"b", "c"}, s.IDs())

	assert.Equal(t, 1, s.Retain([]string{"c", "z"}))
	assert.Equal(t, []string{"c"}, s.IDs())

	s.Remove("c")
	assert.Equal(t, 0, s.Len())

	s.Add("q")
	s.Clear()
	assert.Empty(t, s.IDs())
}
