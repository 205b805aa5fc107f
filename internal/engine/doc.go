// Package engine implements the adminsync reconciliation engine.
//
// The engine keeps the admin user table and the dashboard stats consistent
// with the server while the operator types, pages, and runs bulk actions,
// and while the server pushes invalidations over a websocket.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All inputs are Events on one FIFO queue, processed by one goroutine. Query
// changes, debounce expiry, push invalidations, health transitions, fetch
// completions and bulk completions never race each other.
//
// Event Processing Flow:
//  1. Producers (UI calls, timers, push manager, health gate, executor
//     goroutines) enqueue events without blocking
//  2. Run dequeues one event at a time
//  3. process routes it to the users or stats reconciler
//  4. A reconciler issues, coalesces or pre-empts a fetch, or applies,
//     discards or follows up on a result
//  5. A fresh Snapshot is published to subscribers
//
// Fetches run off-loop on the Executor and come back as EventFetchCompleted.
//
// ORDERING:
//
// Every fetch and every invalidation takes the next value of a monotonic
// Sequence. A result is shown only if its query still equals the current
// query. An invalidation is forgotten only when a fetch issued after it
// succeeds.
package engine
