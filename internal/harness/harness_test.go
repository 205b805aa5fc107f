package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return s
}

func kinds(trace []TraceEvent) []string {
	out := make([]string, len(trace))
	for i, ev := range trace {
		out[i] = ev.Target + ":" + ev.Kind
	}
	return out
}

func TestRun_InitialLoad(t *testing.T) {
	result, err := Run(mustParse(t, `
name: initial
description: initial load
steps: [{ resolve: next }]
assertions:
  - type: final_state
    expect: { page: 1, records: 20, total_count: 30, total_pages: 2, first_id: u-1 }
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, []string{"users:fetch_issued", "users:applied"}, kinds(result.Trace))
	assert.Equal(t, "limit=20&page=1", result.State["query"])
	assert.Equal(t, "unknown", result.State["health"])
	assert.Equal(t, "disconnected", result.State["connection"])
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	result, err := Run(mustParse(t, `
name: wrong
description: expectations that do not hold
steps: [{ resolve: next }]
assertions:
  - type: trace_count
    kind: fetch_issued
    count: 5
  - type: final_state
    expect: { records: 3 }
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "5 occurrences of fetch_issued")
	assert.Contains(t, result.Errors[1], "records: want 3, got 20")
}

func TestRun_ResolveWithNothingOutstanding(t *testing.T) {
	_, err := Run(mustParse(t, `
name: idle
description: resolving twice
steps:
  - resolve: next
  - resolve: next
assertions: [{ type: trace_count, kind: applied, count: 1 }]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[1]")
	assert.Contains(t, err.Error(), "no fetch outstanding")
}

func TestRun_ResolveLastAppliesNewestFirst(t *testing.T) {
	result, err := Run(mustParse(t, `
name: last
description: resolve newest first
steps:
  - page: 2
  - resolve: last
  - resolve: last
assertions:
  - type: trace_order
    kinds: [applied, discarded_superseded]
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, 2, result.State["page"])
}

func TestRun_SelectOffPageFails(t *testing.T) {
	_, err := Run(mustParse(t, `
name: select
description: select an id that is not displayed
steps:
  - resolve: next
  - select: [u-25]
assertions: [{ type: trace_count, kind: applied, count: 1 }]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u-25")
}

func TestRun_FilterAndPushStates(t *testing.T) {
	result, err := Run(mustParse(t, `
name: filter
description: filter, then a push channel failure
steps:
  - resolve: next
  - filter: { key: role, value: admin }
  - advance: 1s
  - resolve: next
  - push_state: connecting
  - push_state: connected
  - push_state: disconnected
    push_error: "connection reset"
assertions:
  - type: final_state
    expect: { total_count: 10, records: 10, connection: disconnected }
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "limit=20&page=1&role=admin", result.State["query"])
}

func TestRun_BulkExplicitIDs(t *testing.T) {
	result, err := Run(mustParse(t, `
name: bulk_ids
description: bulk over explicit ids
bulk: true
steps:
  - resolve: next
  - bulk: { action: suspend, ids: [u-1, u-2] }
  - resolve: all
assertions:
  - type: final_state
    expect: { bulk_success: 2, bulk_failure: 0, selected: 0, total_count: 30 }
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_StatsFailureKeepsUsers(t *testing.T) {
	result, err := Run(mustParse(t, `
name: stats_fail
description: stats path fails alone
stats: true
steps:
  - resolve: next
  - resolve: next
    fail: server_error
assertions:
  - type: final_state
    expect: { stats_error: server_error, error: "", records: 20 }
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.NotContains(t, result.State, "stats_total")
}

func TestRun_Testdata(t *testing.T) {
	paths := scenarioFiles(t)
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			s, err := LoadScenario(p)
			require.NoError(t, err)
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "%v", result.Errors)
		})
	}
}
