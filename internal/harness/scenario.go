package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/pushchannel"
)

// Scenario defines one deterministic engine run.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Users is the number of seeded records. Defaults to DefaultUsers.
	Users int `yaml:"users,omitempty"`

	// PageSize is the initial page size. Defaults to DefaultPageSize.
	PageSize int `yaml:"page_size,omitempty"`

	// Debounce is the quiet period for filter, search and sort edits.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// Stats enables the stats path.
	Stats bool `yaml:"stats,omitempty"`

	// Bulk enables bulk operations.
	Bulk bool `yaml:"bulk,omitempty"`

	// Steps run in order. The engine queue is drained after each one.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one input to the engine. Exactly one action field is set.
type Step struct {
	Search   *string       `yaml:"search,omitempty"`
	Filter   *FilterStep   `yaml:"filter,omitempty"`
	Sort     string        `yaml:"sort,omitempty"`
	Page     int           `yaml:"page,omitempty"`
	PageSize int           `yaml:"page_size,omitempty"`
	Advance  time.Duration `yaml:"advance,omitempty"`

	// Resolve runs outstanding fetches: "next" (oldest), "last" (newest)
	// or "all" (until none remain, including follow-ups).
	Resolve string `yaml:"resolve,omitempty"`
	// Fail makes the fetches run by this resolve step fail with that error
	// kind.
	Fail string `yaml:"fail,omitempty"`

	// Push delivers an invalidation for a topic (USER_UPDATE, STATS_UPDATE).
	Push string `yaml:"push,omitempty"`
	// PushState reports a push channel state: disconnected, connecting,
	// connected. PushError marks the transition as a failure.
	PushState string `yaml:"push_state,omitempty"`
	PushError string `yaml:"push_error,omitempty"`

	// Health moves the health gate: healthy, unhealthy.
	Health string `yaml:"health,omitempty"`

	// Refresh requests a manual refresh of users or stats.
	Refresh string `yaml:"refresh,omitempty"`

	Select []string  `yaml:"select,omitempty"`
	Bulk   *BulkStep `yaml:"bulk,omitempty"`
}

// FilterStep sets one filter. An empty value or "all" clears it.
type FilterStep struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// BulkStep runs a bulk action over ids, or over the selection when ids is
// empty.
type BulkStep struct {
	Action string   `yaml:"action"`
	IDs    []string `yaml:"ids,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_count": Check a decision kind appears exactly Count times
	// - "trace_order": Check kinds appear in order
	// - "final_state": Check snapshot fields
	Type string `yaml:"type"`

	// Kind is the decision kind (used by trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Target and Reason narrow trace_count when set.
	Target string `yaml:"target,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected decision order (used by trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Expect contains expected snapshot fields (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertFinalState = "final_state"
)

// Scenario defaults.
const (
	DefaultUsers    = 30
	DefaultPageSize = 20
	DefaultDebounce = time.Second
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML and applies defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	if scenario.Users == 0 {
		scenario.Users = DefaultUsers
	}
	if scenario.PageSize == 0 {
		scenario.PageSize = DefaultPageSize
	}
	if scenario.Debounce == 0 {
		scenario.Debounce = DefaultDebounce
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Users < 0 {
		return fmt.Errorf("users must be non-negative")
	}
	if s.PageSize < 0 {
		return fmt.Errorf("page_size must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], s.Bulk); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, bulkEnabled bool) error {
	actions := 0
	count := func(set bool) {
		if set {
			actions++
		}
	}
	count(st.Search != nil)
	count(st.Filter != nil)
	count(st.Sort != "")
	count(st.Page != 0)
	count(st.PageSize != 0)
	count(st.Advance != 0)
	count(st.Resolve != "")
	count(st.Push != "")
	count(st.PushState != "")
	count(st.Health != "")
	count(st.Refresh != "")
	count(st.Select != nil)
	count(st.Bulk != nil)
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, actions)
	}

	switch {
	case st.Fail != "" && st.Resolve == "":
		return fmt.Errorf("steps[%d]: fail is only valid with resolve", index)
	case st.PushError != "" && st.PushState == "":
		return fmt.Errorf("steps[%d]: push_error is only valid with push_state", index)
	case st.Advance < 0:
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	}

	if st.Resolve != "" {
		switch st.Resolve {
		case "next", "last", "all":
		default:
			return fmt.Errorf("steps[%d]: resolve must be next, last or all, got %q", index, st.Resolve)
		}
	}
	if st.Fail != "" {
		if _, ok := failKinds[adminapi.Kind(st.Fail)]; !ok {
			return fmt.Errorf("steps[%d]: unknown fail kind %q", index, st.Fail)
		}
	}
	if st.Push != "" {
		switch pushchannel.Topic(st.Push) {
		case pushchannel.TopicUsers, pushchannel.TopicStats:
		default:
			return fmt.Errorf("steps[%d]: unknown push topic %q", index, st.Push)
		}
	}
	if st.PushState != "" {
		if _, ok := pushStates[st.PushState]; !ok {
			return fmt.Errorf("steps[%d]: unknown push_state %q", index, st.PushState)
		}
	}
	if st.Health != "" && st.Health != "healthy" && st.Health != "unhealthy" {
		return fmt.Errorf("steps[%d]: health must be healthy or unhealthy, got %q", index, st.Health)
	}
	if st.Refresh != "" && st.Refresh != "users" && st.Refresh != "stats" {
		return fmt.Errorf("steps[%d]: refresh must be users or stats, got %q", index, st.Refresh)
	}
	if st.Filter != nil && st.Filter.Key == "" {
		return fmt.Errorf("steps[%d]: filter key is required", index)
	}
	if st.Bulk != nil {
		if !bulkEnabled {
			return fmt.Errorf("steps[%d]: bulk step requires bulk: true", index)
		}
		if _, err := adminapi.ParseBulkAction(st.Bulk.Action); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
