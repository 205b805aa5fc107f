package engine

// Executor runs fetches off the loop goroutine.
//
// The production executor starts one goroutine per fetch. Tests substitute
// testutil.ManualExecutor to decide when (and in which order) fetches resolve.
type Executor interface {
	Go(f func())
}

type goExecutor struct{}

func (goExecutor) Go(f func()) { go f() }
