package testutil

import "sync"

// ManualExecutor captures submitted work instead of running it.
//
// Tests use it to control exactly when an in-flight fetch resolves, and in
// which order several outstanding fetches resolve.
type ManualExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

// NewManualExecutor creates an empty executor.
func NewManualExecutor() *ManualExecutor {
	return &ManualExecutor{}
}

// Go records f for later execution.
func (e *ManualExecutor) Go(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, f)
}

// Pending returns the number of captured tasks not yet run.
func (e *ManualExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// RunNext runs the oldest captured task. Returns false if none is pending.
func (e *ManualExecutor) RunNext() bool {
	return e.Run(0)
}

// RunLast runs the newest captured task. Returns false if none is pending.
func (e *ManualExecutor) RunLast() bool {
	e.mu.Lock()
	n := len(e.tasks)
	e.mu.Unlock()
	return e.Run(n - 1)
}

// Run runs and removes the task at index i (0 is oldest).
// Returns false if i is out of range.
func (e *ManualExecutor) Run(i int) bool {
	e.mu.Lock()
	if i < 0 || i >= len(e.tasks) {
		e.mu.Unlock()
		return false
	}
	f := e.tasks[i]
	e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
	e.mu.Unlock()

	f()
	return true
}

// RunAll runs captured tasks in FIFO order until none remain, including tasks
// submitted while running. Returns the number of tasks run.
func (e *ManualExecutor) RunAll() int {
	n := 0
	for e.RunNext() {
		n++
	}
	return n
}
