package adminapi

import "time"

// attemptState is the retry state machine for one REST call:
//
//	Attempting(n) -> Succeeded | Retrying(n+1) | Failed
type attemptState int

const (
	attempting attemptState = iota
	retrying
	succeeded
	failed
)

func (s attemptState) String() string {
	switch s {
	case attempting:
		return "attempting"
	case retrying:
		return "retrying"
	case succeeded:
		return "succeeded"
	case failed:
		return "failed"
	default:
		return "unknown"
	}
}

// attempt tracks one call's progress. It holds no timers; the caller waits
// delay() between a retrying state and next().
type attempt struct {
	n     int
	max   int
	step  time.Duration
	state attemptState
	err   *FetchError
}

func newAttempt(max int, step time.Duration) *attempt {
	if max < 1 {
		max = 1
	}
	return &attempt{n: 1, max: max, step: step, state: attempting}
}

// record moves the machine according to the outcome of attempt n.
func (a *attempt) record(err *FetchError) attemptState {
	if err == nil {
		a.err = nil
		a.state = succeeded
		return a.state
	}
	a.err = err
	if err.Kind.Retryable() && a.n < a.max {
		a.state = retrying
	} else {
		a.state = failed
	}
	return a.state
}

// delay is the wait before the next attempt: attempt number × step.
func (a *attempt) delay() time.Duration {
	return time.Duration(a.n) * a.step
}

// next advances from retrying to the following attempt.
func (a *attempt) next() {
	a.n++
	a.state = attempting
}

// failure returns the final error stamped with the attempt count.
func (a *attempt) failure() *FetchError {
	if a.err == nil {
		return nil
	}
	out := *a.err
	out.Attempts = a.n
	return &out
}
