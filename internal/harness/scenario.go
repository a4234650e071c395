package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a history scenario: a sequence of record mutations and
// reverts against declared types, followed by assertions on the recorded
// history and the live records.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Declarations lists CUE files or directories declaring the tracked
	// types. Relative paths are resolved against the scenario's directory.
	Declarations []string `yaml:"declarations"`

	// MaxRecords is the engine-wide retention default. 0 keeps everything.
	MaxRecords int `yaml:"max_records,omitempty"`

	// Steps run in order against a fresh in-memory database.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final history and live state.
	// Supported types: history_count, history_actions, history_actors,
	// live_values, absent
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on a record named by Ref.
type Step struct {
	// Op is one of create, update, destroy, revert.
	Op string `yaml:"op"`

	// Ref is the scenario-local name of the record. create binds it.
	Ref string `yaml:"ref"`

	// Type is the declared type name (create only).
	Type string `yaml:"type,omitempty"`

	// Values are assigned to the record before create or update.
	Values map[string]any `yaml:"values,omitempty"`

	// Actor is the actor id recorded on changes made by this step.
	Actor string `yaml:"actor,omitempty"`

	// Version selects the change to revert in Ref's history: 0 is the
	// oldest, negative values count back from the newest (-1).
	Version int `yaml:"version,omitempty"`

	// Untracked runs the step with tracking disabled.
	Untracked bool `yaml:"untracked,omitempty"`

	// ExpectError is the audit error code the step must fail with
	// (for example NOT_FOUND). Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDestroy = "destroy"
	OpRevert  = "revert"
)

// Assertion validates the history or live state of one record.
type Assertion struct {
	// Type specifies the assertion type:
	// - "history_count": Ref has exactly Count changes
	// - "history_actions": Ref's change actions, oldest first
	// - "history_actors": Ref's change actor ids, oldest first ("" for none)
	// - "live_values": the live record matches Expect (subset match)
	// - "absent": the live record does not exist
	Type string `yaml:"type"`

	// Ref names the record.
	Ref string `yaml:"ref"`

	// Count is the expected number of changes (history_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action sequence (history_actions).
	Actions []string `yaml:"actions,omitempty"`

	// Actors is the expected actor sequence (history_actors).
	Actors []string `yaml:"actors,omitempty"`

	// Expect contains expected field values (live_values).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertHistoryCount   = "history_count"
	AssertHistoryActions = "history_actions"
	AssertHistoryActors  = "history_actors"
	AssertLiveValues     = "live_values"
	AssertAbsent         = "absent"
)

// LoadScenario reads and parses a scenario YAML file.
// Declaration paths are resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving declaration paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, decl := range scenario.Declarations {
		if !filepath.IsAbs(decl) && basePath != "" {
			scenario.Declarations[i] = filepath.Join(basePath, decl)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML. Declaration paths are
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Declarations) == 0 {
		return fmt.Errorf("declarations list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	bound := make(map[string]bool)
	for i, step := range s.Steps {
		if step.Ref == "" {
			return fmt.Errorf("step %d: ref is required", i)
		}
		switch step.Op {
		case OpCreate:
			if step.Type == "" {
				return fmt.Errorf("step %d: create requires type", i)
			}
			if bound[step.Ref] {
				return fmt.Errorf("step %d: ref %q already bound", i, step.Ref)
			}
			bound[step.Ref] = true
		case OpUpdate, OpDestroy, OpRevert:
			if !bound[step.Ref] {
				return fmt.Errorf("step %d: ref %q used before create", i, step.Ref)
			}
		default:
			return fmt.Errorf("step %d: unknown op %q", i, step.Op)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, bound); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, bound map[string]bool) error {
	if !bound[a.Ref] {
		return fmt.Errorf("unknown ref %q", a.Ref)
	}
	switch a.Type {
	case AssertHistoryCount, AssertAbsent:
		return nil
	case AssertHistoryActions:
		if a.Actions == nil {
			return fmt.Errorf("history_actions requires actions")
		}
	case AssertHistoryActors:
		if a.Actors == nil {
			return fmt.Errorf("history_actors requires actors")
		}
	case AssertLiveValues:
		if len(a.Expect) == 0 {
			return fmt.Errorf("live_values requires expect")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
