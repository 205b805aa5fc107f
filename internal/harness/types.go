package harness

import (
	"github.com/roach88/adminsync/internal/engine"
)

// TraceEvent is one engine decision as recorded by the harness.
// At is the offset from the scenario start in milliseconds.
type TraceEvent struct {
	Kind      string `json:"kind"`
	Target    string `json:"target"`
	Reason    string `json:"reason,omitempty"`
	RequestID int64  `json:"request_id,omitempty"`
	Query     string `json:"query,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	AtMS      int64  `json:"at_ms"`
}

func traceFromEngine(ev engine.TraceEvent) TraceEvent {
	return TraceEvent{
		Kind:      string(ev.Kind),
		Target:    string(ev.Target),
		Reason:    string(ev.Reason),
		RequestID: ev.RequestID,
		Query:     ev.Query,
		ErrorKind: ev.ErrorKind,
		AtMS:      ev.At.Sub(Epoch).Milliseconds(),
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every engine decision in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final snapshot flattened to named fields.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
