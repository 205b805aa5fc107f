package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{Kind: "fetch_issued", Target: "users", Reason: "initial", RequestID: 1},
	{Kind: "fetch_issued", Target: "stats", Reason: "initial", RequestID: 2},
	{Kind: "coalesced", Target: "users", Reason: "push", RequestID: 1},
	{Kind: "applied", Target: "users", Reason: "initial", RequestID: 1},
	{Kind: "followup", Target: "users", Reason: "initial", RequestID: 1},
	{Kind: "fetch_issued", Target: "users", Reason: "followup", RequestID: 4},
	{Kind: "failed", Target: "users", Reason: "followup", RequestID: 4, ErrorKind: "network"},
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		name  string
		a     Assertion
		match bool
	}{
		{"all targets", Assertion{Kind: "fetch_issued", Count: 3}, true},
		{"by target", Assertion{Kind: "fetch_issued", Target: "users", Count: 2}, true},
		{"by reason", Assertion{Kind: "fetch_issued", Reason: "followup", Count: 1}, true},
		{"zero", Assertion{Kind: "preempted", Count: 0}, true},
		{"wrong count", Assertion{Kind: "applied", Count: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(sampleTrace, tt.a)
			if tt.match {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Kinds: []string{"coalesced", "applied", "followup", "failed"}}))
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Kinds: []string{"fetch_issued", "fetch_issued", "fetch_issued"}}))

	err := assertTraceOrder(sampleTrace, Assertion{Kinds: []string{"applied", "coalesced"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceOrder, ae.Type)
	assert.Contains(t, ae.Actual, "then no coalesced")
	assert.Contains(t, err.Error(), "[7] +0ms users failed reason=followup id=4 error=network")
}

func TestAssertFinalState(t *testing.T) {
	state := map[string]any{"page": 2, "stale": false, "error": "", "query": "limit=20&page=2"}

	assert.NoError(t, assertFinalState(state, Assertion{Expect: map[string]any{"page": 2, "stale": false}}))
	assert.NoError(t, assertFinalState(state, Assertion{Expect: map[string]any{"page": int64(2), "error": ""}}))

	err := assertFinalState(state, Assertion{Expect: map[string]any{"page": 3, "missing": 1, "stale": "false"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing: missing")
	assert.Contains(t, err.Error(), "page: want 3, got 2")
	assert.Contains(t, err.Error(), "stale: want false, got false")
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual(nil, 0))
	assert.True(t, stateValuesEqual(3, int64(3)))
	assert.True(t, stateValuesEqual(3.0, 3))
	assert.False(t, stateValuesEqual("3", 3))
	assert.False(t, stateValuesEqual(true, "true"))
	assert.True(t, stateValuesEqual([]any{"a"}, []any{"a"}))
}

func TestEvaluateAssertions(t *testing.T) {
	r := &Result{Trace: sampleTrace, State: map[string]any{"page": 1}}
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceCount, Kind: "applied", Count: 1},
		{Type: AssertFinalState, Expect: map[string]any{"page": 1}},
		{Type: "bogus"},
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "bogus"`)
}
