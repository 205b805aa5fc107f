package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] +%dms %s %s", i+1, ev.AtMS, ev.Target, ev.Kind)
			if ev.Reason != "" {
				fmt.Fprintf(&buf, " reason=%s", ev.Reason)
			}
			if ev.RequestID != 0 {
				fmt.Fprintf(&buf, " id=%d", ev.RequestID)
			}
			if ev.ErrorKind != "" {
				fmt.Fprintf(&buf, " error=%s", ev.ErrorKind)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

func matchesEvent(ev TraceEvent, a Assertion) bool {
	return ev.Kind == a.Kind &&
		(a.Target == "" || ev.Target == a.Target) &&
		(a.Reason == "" || ev.Reason == a.Reason)
}

// assertTraceCount checks the decision appears exactly the specified number
// of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchesEvent(ev, a) {
			count++
		}
	}

	if count != a.Count {
		what := a.Kind
		if a.Target != "" {
			what = a.Target + " " + what
		}
		if a.Reason != "" {
			what += " (reason " + a.Reason + ")"
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks the kinds appear as a subsequence of the trace.
// Decisions don't need to be consecutive (intervening decisions are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Kinds) && ev.Kind == a.Kinds[next] {
			next++
		}
	}
	if next == len(a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("decisions in order: %v", a.Kinds),
		Actual:   fmt.Sprintf("matched %v, then no %s", a.Kinds[:next], a.Kinds[next]),
		Trace:    trace,
	}
}

// assertFinalState compares expected fields against the flattened snapshot.
func assertFinalState(state map[string]any, a Assertion) error {
	var mismatches []string
	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		got, ok := state[key]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: missing", key))
			continue
		}
		if !stateValuesEqual(want, got) {
			mismatches = append(mismatches, fmt.Sprintf("%s: want %v, got %v", key, want, got))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%v", a.Expect),
		Actual:   strings.Join(mismatches, "; "),
	}
}

// stateValuesEqual compares a YAML-decoded expected value with a snapshot
// field. YAML integers decode as int; snapshot counters are int too, but
// int64 and float64 are accepted for hand-built expectations.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case bool:
		act, ok := actual.(bool)
		return ok && exp == act
	case int:
		act, ok := toInt64(actual)
		return ok && int64(exp) == act
	case int64:
		act, ok := toInt64(actual)
		return ok && exp == act
	case float64:
		act, ok := toInt64(actual)
		return ok && exp == float64(act)
	}

	return reflect.DeepEqual(expected, actual)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
