package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/queryir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported value passed to Validate

	// ClassSpec errors (E101-E109)
	ErrClassSubjects     = "E101" // subjects table missing or not an identifier
	ErrClassKey          = "E102" // key column not an identifier
	ErrClassNoPredicate  = "E103" // class has no when clause
	ErrInvalidPredicate  = "E104" // when clause fails structural checks
	ErrDuplicateClass    = "E105" // class id declared twice
	ErrClassDescription  = "E106" // description has surrounding whitespace only
	ErrDuplicateAction   = "E107" // duplicate (trigger, name) within a class
	ErrActionTiming      = "E108" // missing, misplaced or non-positive span
	ErrActionKind        = "E109" // unknown kind or missing kind parameters
	ErrInvalidActionName = "E110" // action name empty or not canonical
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled classes against schema rules.
// Returns all errors found (does not fail-fast).
// Supports ClassSpec and []ClassSpec.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ClassSpec:
		return validateClassSpec(spec)
	case ClassSpec:
		return validateClassSpec(&spec)
	case []ClassSpec:
		return validateClassSet(spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

// Portability reports which classes use predicates outside the portable
// fragment. Such classes run against SQL stores but not in the in-memory
// gateway the scenario harness uses.
func Portability(specs []ClassSpec) map[string]queryir.ValidationResult {
	out := make(map[string]queryir.ValidationResult)
	for _, spec := range specs {
		if spec.When == nil {
			continue
		}
		if res := queryir.Validate(spec.When); !res.IsPortable {
			out[spec.ID] = res
		}
	}
	return out
}

func validateClassSet(specs []ClassSpec) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for i := range specs {
		spec := &specs[i]
		if seen[spec.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("class.%s", spec.ID),
				Message: fmt.Sprintf("class %q declared more than once", spec.ID),
				Code:    ErrDuplicateClass,
				Line:    spec.Pos.Line(),
			})
		}
		seen[spec.ID] = true
		errs = append(errs, validateClassSpec(spec)...)
	}
	return errs
}

// validateClassSpec validates a single class declaration.
func validateClassSpec(spec *ClassSpec) []ValidationError {
	var errs []ValidationError
	prefix := "class." + spec.ID

	// E101: subjects must be a plain identifier
	if !ir.ValidIdentifier(spec.Subjects) {
		errs = append(errs, ValidationError{
			Field:   prefix + ".subjects",
			Message: fmt.Sprintf("subjects %q must be a table name", spec.Subjects),
			Code:    ErrClassSubjects,
			Line:    spec.Pos.Line(),
		})
	}

	// E102: key must be a plain identifier
	if !ir.ValidIdentifier(spec.Key) {
		errs = append(errs, ValidationError{
			Field:   prefix + ".key",
			Message: fmt.Sprintf("key %q must be a column name", spec.Key),
			Code:    ErrClassKey,
			Line:    spec.Pos.Line(),
		})
	}

	// E103/E104: predicate present and well formed
	if spec.When == nil {
		errs = append(errs, ValidationError{
			Field:   prefix + ".when",
			Message: "class has no when clause; processing it fails with NO_PREDICATE",
			Code:    ErrClassNoPredicate,
			Line:    spec.Pos.Line(),
		})
	} else if err := queryir.Check(spec.When); err != nil {
		errs = append(errs, ValidationError{
			Field:   prefix + ".when",
			Message: err.Error(),
			Code:    ErrInvalidPredicate,
			Line:    spec.Pos.Line(),
		})
	}

	// E106
	if spec.Description != "" && strings.TrimSpace(spec.Description) == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".description",
			Message: "description must not be blank",
			Code:    ErrClassDescription,
			Line:    spec.Pos.Line(),
		})
	}

	type actionKey struct {
		trigger ir.Trigger
		name    string
	}
	seen := make(map[actionKey]bool)

	for i, action := range spec.Actions {
		field := fmt.Sprintf("%s.actions[%d]", prefix, i)
		line := action.Pos.Line()

		// E110: names are ledger keys and must be canonical
		if canonical, err := ir.CanonicalName(action.Name); err != nil || canonical != action.Name {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("action name %q is not in canonical form", action.Name),
				Code:    ErrInvalidActionName,
				Line:    line,
			})
		}

		// E107
		key := actionKey{action.Trigger, action.Name}
		if seen[key] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate %s action %q", action.Trigger, action.Name),
				Code:    ErrDuplicateAction,
				Line:    line,
			})
		}
		seen[key] = true

		errs = append(errs, validateTiming(action, field, line)...)
		errs = append(errs, validateKind(action, field, line)...)
	}

	return errs
}

// validateTiming checks E108: timed triggers carry a positive span and
// untimed triggers carry none.
func validateTiming(action ActionSpec, field string, line int) []ValidationError {
	if !action.Trigger.Valid() {
		return []ValidationError{{
			Field:   field + ".trigger",
			Message: fmt.Sprintf("unknown trigger %q", action.Trigger),
			Code:    ErrActionTiming,
			Line:    line,
		}}
	}
	if action.Trigger.Timed() && !action.Timing.Positive() {
		return []ValidationError{{
			Field:   field + ".timing",
			Message: fmt.Sprintf("%s action %q requires a positive span", action.Trigger, action.Name),
			Code:    ErrActionTiming,
			Line:    line,
		}}
	}
	if !action.Trigger.Timed() && !action.Timing.IsZero() {
		return []ValidationError{{
			Field:   field + ".timing",
			Message: fmt.Sprintf("%s action %q does not take a span", action.Trigger, action.Name),
			Code:    ErrActionTiming,
			Line:    line,
		}}
	}
	return nil
}

// validateKind checks E109: each kind has the parameters its handler needs.
func validateKind(action ActionSpec, field string, line int) []ValidationError {
	var msg string
	switch action.Kind {
	case KindLog:
	case KindExec:
		if len(action.Command) == 0 || strings.TrimSpace(action.Command[0]) == "" {
			msg = "exec action requires a command"
		}
	case KindSQL:
		if strings.TrimSpace(action.Statement) == "" {
			msg = "sql action requires a statement"
		}
	default:
		msg = fmt.Sprintf("unknown kind %q", action.Kind)
	}
	if msg == "" {
		return nil
	}
	return []ValidationError{{
		Field:   field + ".kind",
		Message: msg,
		Code:    ErrActionKind,
		Line:    line,
	}}
}
