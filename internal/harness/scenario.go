package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/conditions/internal/ir"
)

// Scenario defines one scripted timeline.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Classes is the directory of CUE class declarations, relative to the
	// scenario file.
	Classes string `yaml:"classes"`

	// Start is the clock's initial instant. Defaults to testutil.DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Subjects seeds the population: table name to subject key to row.
	Subjects map[string]map[string]map[string]any `yaml:"subjects,omitempty"`

	// Failing lists action names whose traced handler returns an error.
	Failing []string `yaml:"failing,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final instance state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one point of the timeline. Exactly one field is set.
type Step struct {
	// Advance moves the clock forward by a span such as "3d" or "12h".
	Advance string `yaml:"advance,omitempty"`

	// Set inserts a subject row, or merges fields into an existing one.
	Set *RowChange `yaml:"set,omitempty"`

	// Delete removes a subject from its table.
	Delete *RowChange `yaml:"delete,omitempty"`

	// End closes a subject's open instance at the current time, as an
	// explicit end would.
	End *EndStep `yaml:"end,omitempty"`

	// Run processes classes.
	Run *RunStep `yaml:"run,omitempty"`
}

// RowChange addresses one subject row.
type RowChange struct {
	Table string         `yaml:"table"`
	Key   string         `yaml:"key"`
	Row   map[string]any `yaml:"row,omitempty"`
}

// EndStep closes one subject's instance explicitly.
type EndStep struct {
	Class   string `yaml:"class"`
	Subject string `yaml:"subject"`
}

// RunStep mirrors the process command's options.
type RunStep struct {
	// Classes limits the run; empty runs every class.
	Classes []string `yaml:"classes,omitempty"`

	// Execute defaults to true.
	Execute *bool `yaml:"execute,omitempty"`
}

// ShouldExecute reports whether actions run in this step.
func (r RunStep) ShouldExecute() bool {
	return r.Execute == nil || *r.Execute
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of fired, fired_count, fired_order, open_subjects.
	Type string `yaml:"type"`

	Action  string `yaml:"action,omitempty"`
	Trigger string `yaml:"trigger,omitempty"`
	Subject string `yaml:"subject,omitempty"`

	// Count is the expected number of firings (fired_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected order of first firings (fired_order).
	Actions []string `yaml:"actions,omitempty"`

	// Class and Subjects are the expected open instances (open_subjects).
	Class    string   `yaml:"class,omitempty"`
	Subjects []string `yaml:"subjects,omitempty"`
}

// Assertion type constants.
const (
	AssertFired        = "fired"
	AssertFiredCount   = "fired_count"
	AssertFiredOrder   = "fired_order"
	AssertOpenSubjects = "open_subjects"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The classes directory is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Classes != "" && !filepath.IsAbs(scenario.Classes) {
		scenario.Classes = filepath.Join(filepath.Dir(path), scenario.Classes)
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
	if s.Classes == "" {
		return fmt.Errorf("classes directory is required")
	}
	if info, err := os.Stat(s.Classes); err != nil || !info.IsDir() {
		return fmt.Errorf("classes directory not found: %s", s.Classes)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for table, rows := range s.Subjects {
		if !ir.ValidIdentifier(table) {
			return fmt.Errorf("subjects: invalid table name %q", table)
		}
		for key, row := range rows {
			if _, err := toRow(row); err != nil {
				return fmt.Errorf("subjects.%s.%s: %w", table, key, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Advance != "" {
		set++
		span, err := ir.ParseSpan(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if !span.Positive() {
			return fmt.Errorf("advance: span %q must move time forward", step.Advance)
		}
	}
	if step.Set != nil {
		set++
		if step.Set.Table == "" || step.Set.Key == "" {
			return fmt.Errorf("set: table and key are required")
		}
		if _, err := toRow(step.Set.Row); err != nil {
			return fmt.Errorf("set: %w", err)
		}
	}
	if step.Delete != nil {
		set++
		if step.Delete.Table == "" || step.Delete.Key == "" {
			return fmt.Errorf("delete: table and key are required")
		}
	}
	if step.End != nil {
		set++
		if step.End.Class == "" || step.End.Subject == "" {
			return fmt.Errorf("end: class and subject are required")
		}
	}
	if step.Run != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of advance, set, delete, end or run is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFired:
		if a.Action == "" {
			return fmt.Errorf("fired: action is required")
		}
	case AssertFiredCount:
		if a.Action == "" {
			return fmt.Errorf("fired_count: action is required")
		}
		if a.Count < 0 {
			return fmt.Errorf("fired_count: count must be non-negative")
		}
	case AssertFiredOrder:
		if len(a.Actions) < 2 {
			return fmt.Errorf("fired_order: at least two actions are required")
		}
	case AssertOpenSubjects:
		if a.Class == "" {
			return fmt.Errorf("open_subjects: class is required")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Trigger != "" {
		if _, err := ir.ParseTrigger(a.Trigger); err != nil {
			return err
		}
	}
	return nil
}

// toRow converts decoded YAML values into an IR row.
func toRow(in map[string]any) (ir.Row, error) {
	row := make(ir.Row, len(in))
	for field, v := range in {
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		row[field] = val
	}
	return row, nil
}
