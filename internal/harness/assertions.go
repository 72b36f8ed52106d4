package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/conditions/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the fired events to help debug the failure.
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

	fired := 0
	for _, event := range e.Trace {
		if event.Type != EventFired {
			continue
		}
		if fired == 0 {
			fmt.Fprintf(&buf, "\nFired:\n")
		}
		fired++
		fmt.Fprintf(&buf, "  [%d] %s %s/%s %s %s\n",
			event.Seq, event.At, event.Class, event.Subject, event.Trigger, event.Action)
	}

	return buf.String()
}

// matches reports whether a fired event satisfies the assertion's action,
// subject and trigger filters.
func matches(event TraceEvent, a Assertion) bool {
	if event.Type != EventFired || event.Action != a.Action {
		return false
	}
	if a.Subject != "" && event.Subject != a.Subject {
		return false
	}
	if a.Trigger != "" {
		trigger, err := ir.ParseTrigger(a.Trigger)
		if err != nil || event.Trigger != string(trigger) {
			return false
		}
	}
	return true
}

func describe(a Assertion) string {
	desc := "action " + a.Action
	if a.Trigger != "" {
		desc += " (" + a.Trigger + ")"
	}
	if a.Subject != "" {
		desc += " for subject " + a.Subject
	}
	return desc
}

// assertFired checks that at least one matching firing exists.
func assertFired(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matches(event, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertFired,
		Expected: describe(a) + " fired",
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertFiredCount checks the exact number of matching firings.
func assertFiredCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertFiredCount,
			Expected: fmt.Sprintf("%d firings of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d firings", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFiredOrder checks that the first firing of each action appears in
// the given order. Intervening firings are allowed.
func assertFiredOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventFired {
			continue
		}
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = i + 1
		}
	}

	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertFiredOrder,
				Expected: fmt.Sprintf("all actions fired: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertFiredOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertOpenSubjects compares a class's open subjects after the last step.
// Order in the assertion does not matter.
func assertOpenSubjects(result *Result, a Assertion) error {
	class, err := ir.CanonicalName(a.Class)
	if err != nil {
		return fmt.Errorf("open_subjects: %w", err)
	}
	actual, ok := result.Open[class]
	if !ok {
		return &AssertionError{
			Type:     AssertOpenSubjects,
			Expected: fmt.Sprintf("class %s", class),
			Actual:   "class is not registered",
		}
	}

	expected := slices.Clone(a.Subjects)
	slices.Sort(expected)
	if !slices.Equal(expected, actual) {
		return &AssertionError{
			Type:     AssertOpenSubjects,
			Expected: fmt.Sprintf("open %s subjects %v", class, expected),
			Actual:   fmt.Sprintf("%v", actual),
			Trace:    result.Trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFired:
			err = assertFired(result.Trace, assertion)
		case AssertFiredCount:
			err = assertFiredCount(result.Trace, assertion)
		case AssertFiredOrder:
			err = assertFiredOrder(result.Trace, assertion)
		case AssertOpenSubjects:
			err = assertOpenSubjects(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
