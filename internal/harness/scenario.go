package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultProject is the project id used when a scenario names none.
const DefaultProject = "scenario"

// Scenario defines a canvas scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Project is the project id. Defaults to DefaultProject.
	Project string `yaml:"project,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Expect validates the final state.
	Expect []Expectation `yaml:"expect,omitempty"`
}

// Step is one action. Exactly one action field is set.
type Step struct {
	// Create adds one element, given in its wire form.
	Create map[string]any `yaml:"create,omitempty"`

	// Batch adds several elements as one undoable step.
	Batch []map[string]any `yaml:"batch,omitempty"`

	Update *UpdateStep `yaml:"update,omitempty"`
	Move   *MoveStep   `yaml:"move,omitempty"`

	// Delete removes elements by id together with their connectors.
	Delete []string `yaml:"delete,omitempty"`

	Undo bool `yaml:"undo,omitempty"`
	Redo bool `yaml:"redo,omitempty"`

	// Snapshot flushes the pending snapshot document.
	Snapshot bool `yaml:"snapshot,omitempty"`

	// Reopen closes the session and opens the project again.
	Reopen *ReopenStep `yaml:"reopen,omitempty"`

	// Realtime delivers one realtime message, given in its wire form.
	Realtime map[string]any `yaml:"realtime,omitempty"`

	// Outcome, when set, must equal the step's recorded outcome.
	Outcome string `yaml:"outcome,omitempty"`
}

// UpdateStep patches one element.
type UpdateStep struct {
	ID    string         `yaml:"id"`
	Patch map[string]any `yaml:"patch"`
}

// MoveStep moves one element by a relative offset.
type MoveStep struct {
	ID string  `yaml:"id"`
	DX float64 `yaml:"dx"`
	DY float64 `yaml:"dy"`
}

// ReopenStep controls how the project is closed before reopening.
type ReopenStep struct {
	// Abandon drops the pending snapshot instead of writing it, the way a
	// crashed client would.
	Abandon bool `yaml:"abandon,omitempty"`
}

// Action names the step's action.
func (s Step) Action() string {
	switch {
	case s.Create != nil:
		return "create"
	case s.Batch != nil:
		return "batch"
	case s.Update != nil:
		return "update"
	case s.Move != nil:
		return "move"
	case s.Delete != nil:
		return "delete"
	case s.Undo:
		return "undo"
	case s.Redo:
		return "redo"
	case s.Snapshot:
		return "snapshot"
	case s.Reopen != nil:
		return "reopen"
	case s.Realtime != nil:
		return "realtime"
	}
	return ""
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Create != nil, s.Batch != nil, s.Update != nil, s.Move != nil,
		s.Delete != nil, s.Undo, s.Redo, s.Snapshot, s.Reopen != nil, s.Realtime != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Expectation validates the final state. Exactly one check field is set.
type Expectation struct {
	// Element must exist; Fields is a subset match on its wire form.
	Element string         `yaml:"element,omitempty"`
	Fields  map[string]any `yaml:"fields,omitempty"`

	// Absent must not exist.
	Absent string `yaml:"absent,omitempty"`

	// Collection must hold exactly Count elements.
	Collection string `yaml:"collection,omitempty"`
	Count      *int   `yaml:"count,omitempty"`

	// Order lists element ids in expected stacking order within their
	// collections. Ids not listed are ignored.
	Order []string `yaml:"order,omitempty"`

	CanUndo *bool `yaml:"can_undo,omitempty"`
	CanRedo *bool `yaml:"can_redo,omitempty"`

	// StoredOps is the number of durable op log entries.
	StoredOps *int `yaml:"stored_ops,omitempty"`
}

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

// ParseScenario parses scenario YAML.
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
	if scenario.Project == "" {
		scenario.Project = DefaultProject
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch step.actions() {
		case 0:
			return fmt.Errorf("steps[%d]: no action", i)
		case 1:
		default:
			return fmt.Errorf("steps[%d]: more than one action", i)
		}
		if step.Update != nil && (step.Update.ID == "" || len(step.Update.Patch) == 0) {
			return fmt.Errorf("steps[%d].update: id and patch are required", i)
		}
		if step.Move != nil && step.Move.ID == "" {
			return fmt.Errorf("steps[%d].move: id is required", i)
		}
		if step.Delete != nil && len(step.Delete) == 0 {
			return fmt.Errorf("steps[%d].delete: ids are required", i)
		}
	}

	for i, e := range s.Expect {
		if err := validateExpectation(i, &e); err != nil {
			return err
		}
	}
	return nil
}

func validateExpectation(index int, e *Expectation) error {
	n := 0
	if e.Element != "" {
		n++
	}
	if e.Absent != "" {
		n++
	}
	if e.Collection != "" {
		n++
		if e.Count == nil {
			return fmt.Errorf("expect[%d]: collection requires count", index)
		}
	}
	if len(e.Order) > 0 {
		n++
	}
	for _, set := range []bool{e.CanUndo != nil, e.CanRedo != nil, e.StoredOps != nil} {
		if set {
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("expect[%d]: no check", index)
	}
	if n > 1 {
		return fmt.Errorf("expect[%d]: more than one check", index)
	}
	if e.Fields != nil && e.Element == "" {
		return fmt.Errorf("expect[%d]: fields requires element", index)
	}
	return nil
}
