package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
)

// Scenario defines a sync scenario: the records a client starts with
// locally and remotely, the steps it takes and the assertions that must
// hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the configured user. Defaults to "u1".
	User string `yaml:"user,omitempty"`

	// IdleCapacity is the registry idle capacity. Zero closes a model as
	// soon as its last reference is released.
	IdleCapacity int `yaml:"idle_capacity,omitempty"`

	// Local is written to the local store before the client starts, as a
	// previous session would have left it.
	Local gateway.Seed `yaml:"local,omitempty"`

	// Remote is loaded into the in-memory backend.
	Remote gateway.Seed `yaml:"remote,omitempty"`

	// Steps run in order on one client.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of a scenario.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	Kind  entity.Kind `yaml:"kind,omitempty"`
	Scope string      `yaml:"scope,omitempty"`
	Op    entity.Op   `yaml:"op,omitempty"`

	// Records are the mutate payload, in wire field names.
	Records []map[string]any `yaml:"records,omitempty"`

	// Origin of a dispatched event. Defaults to "remote".
	Origin string `yaml:"origin,omitempty"`

	// Target and Status configure fail steps. Status 0 clears the failure.
	Target string `yaml:"target,omitempty"`
	Status int    `yaml:"status,omitempty"`

	// Expect is the error code the step must return; empty means success.
	Expect string `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionOpen     = "open"
	ActionRelease  = "release"
	ActionRefresh  = "refresh"
	ActionMutate   = "mutate"
	ActionDispatch = "dispatch"
	ActionFail     = "fail"
	ActionOverview = "overview"
)

// Fail targets.
const (
	TargetFetch  = "fetch"
	TargetMutate = "mutate"
)

// Assertion validates the final state or the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "snapshot": the open model of kind/scope has status and ids
	// - "stored_keys": the local store holds exactly keys for kind/scope
	// - "dispatched": count bus events matching kind, op and origin
	// - "fetches": count remote fetches of kind/scope
	// - "overview": the overview of the user matches tabs
	Type string `yaml:"type"`

	Kind   entity.Kind `yaml:"kind,omitempty"`
	Scope  string      `yaml:"scope,omitempty"`
	Op     entity.Op   `yaml:"op,omitempty"`
	Origin string      `yaml:"origin,omitempty"`

	// Status is the expected model status (snapshot).
	Status string `yaml:"status,omitempty"`

	// IDs are the expected active record ids in order (snapshot).
	IDs []string `yaml:"ids,omitempty"`

	// Pending is the expected number of in-flight mutations (snapshot).
	Pending *int `yaml:"pending,omitempty"`

	// Keys are the expected stored keys, sorted (stored_keys).
	Keys []string `yaml:"keys"`

	// Count is the expected number of matches (dispatched, fetches).
	Count *int `yaml:"count,omitempty"`

	// Tabs are the expected overview rows in order (overview).
	Tabs []TabExpect `yaml:"tabs,omitempty"`
}

// TabExpect is one expected overview row. Nil fields are not checked.
type TabExpect struct {
	ID         string         `yaml:"id"`
	LinkCount  *int           `yaml:"link_count,omitempty"`
	Categories map[string]int `yaml:"categories,omitempty"`
}

// Assertion type constants.
const (
	AssertSnapshot   = "snapshot"
	AssertStoredKeys = "stored_keys"
	AssertDispatched = "dispatched"
	AssertFetches    = "fetches"
	AssertOverview   = "overview"
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

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that all required fields are present.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.IdleCapacity < 0 {
		return fmt.Errorf("idle_capacity must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its action.
func validateStep(index int, s *Step) error {
	if s.Action == "" {
		return fmt.Errorf("steps[%d]: action is required", index)
	}
	if s.Action != ActionOverview && !s.Kind.Valid() {
		return fmt.Errorf("steps[%d]: unknown kind %q", index, s.Kind)
	}

	switch s.Action {
	case ActionOpen, ActionRelease, ActionRefresh:
		if s.Scope == "" {
			return fmt.Errorf("steps[%d]: scope is required for %s", index, s.Action)
		}
	case ActionMutate:
		if s.Scope == "" {
			return fmt.Errorf("steps[%d]: scope is required for mutate", index)
		}
		if !s.Op.Valid() {
			return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
		}
		if len(s.Records) == 0 {
			return fmt.Errorf("steps[%d]: records are required for mutate", index)
		}
	case ActionDispatch:
		if !s.Op.Valid() {
			return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
		}
	case ActionFail:
		if s.Target != TargetFetch && s.Target != TargetMutate {
			return fmt.Errorf("steps[%d]: target must be %q or %q", index, TargetFetch, TargetMutate)
		}
		if s.Status < 0 {
			return fmt.Errorf("steps[%d]: status must be non-negative", index)
		}
	case ActionOverview:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSnapshot:
		if !a.Kind.Valid() || a.Scope == "" {
			return fmt.Errorf("assertions[%d]: kind and scope are required for snapshot", index)
		}
	case AssertStoredKeys:
		if !a.Kind.Valid() || a.Scope == "" {
			return fmt.Errorf("assertions[%d]: kind and scope are required for stored_keys", index)
		}
		if a.Keys == nil {
			return fmt.Errorf("assertions[%d]: keys list is required for stored_keys (use [] for none)", index)
		}
	case AssertDispatched:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for dispatched", index)
		}
	case AssertFetches:
		if !a.Kind.Valid() || a.Scope == "" {
			return fmt.Errorf("assertions[%d]: kind and scope are required for fetches", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for fetches", index)
		}
	case AssertOverview:
		if a.Tabs == nil {
			return fmt.Errorf("assertions[%d]: tabs list is required for overview (use [] for none)", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
