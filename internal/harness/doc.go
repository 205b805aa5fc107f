// Package harness replays reconciliation scenarios against the engine.
//
// A scenario seeds an in-memory SQLite user collection, drives the engine
// through a list of steps (query edits, push invalidations, health
// transitions, bulk runs, clock advances, fetch resolutions) and checks the
// decisions the engine reported along the way.
//
// # Scenario Format
//
//	name: push_during_fetch
//	description: "A push that lands while a fetch is outstanding yields one follow-up"
//	users: 30
//	steps:
//	  - push: USER_UPDATE
//	  - advance: 250ms
//	  - resolve: next
//	  - resolve: next
//	    fail: network
//	assertions:
//	  - type: trace_count
//	    kind: followup
//	    count: 1
//	  - type: trace_order
//	    kinds: [fetch_issued, coalesced, applied, followup]
//	  - type: final_state
//	    expect: { stale: false, fetching: false }
//
// The initial load of every path is issued before the first step, the way
// engine.Run does it.
//
// # Assertion Types
//
//   - trace_count: a decision kind (optionally narrowed by target and reason)
//     appears exactly count times
//   - trace_order: the listed kinds appear as a subsequence of the trace
//   - final_state: the published snapshot matches the expected fields
//     (subset match)
//
// # Deterministic Execution
//
// Every scenario runs on its own fake clock, starting at a fixed instant,
// with a manual executor: a fetch resolves only when a resolve step says so.
// The trace is therefore identical across runs and can be compared against
// a golden file with RunWithGolden.
package harness
