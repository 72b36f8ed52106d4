package queryir

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// ValidationResult contains portability analysis of a predicate.
type ValidationResult struct {
	// IsPortable indicates the predicate uses only portable fragment
	// features, so both the SQL and the in-memory backend can run it.
	IsPortable bool

	// Warnings lists non-portable features used in the predicate.
	// Empty when IsPortable is true.
	Warnings []string
}

// Validate reports whether a predicate conforms to the portable fragment.
//
// Non-portable predicates are allowed and execute correctly with the SQL
// backend. Warnings inform authors that in-memory evaluation (and so the
// scenario harness) cannot run them.
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validatePredicate(p)

	return ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

// addWarning appends a warning message.
func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		return
	case Compare:
		if ir.IsNull(pred.Value) {
			v.addWarning("Field '%s' compared to NULL - use an is-null test instead", pred.Field)
		}
	case CompareNow, IsNull:
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Not:
		v.validatePredicate(pred.Predicate)
	case Raw:
		v.addWarning("Raw SQL fragment %q - only the SQL backend can evaluate it", pred.SQL)
	default:
		v.addWarning("Unknown predicate type: %T - portability cannot be verified", p)
	}
}

// Check returns an error when the predicate is structurally invalid: unknown
// operators or layouts, field names that are not plain identifiers, nil
// children or an empty raw fragment.
func Check(p Predicate) error {
	var errs []error
	check(p, &errs)
	return errors.Join(errs...)
}

func check(p Predicate, errs *[]error) {
	field := func(name string) {
		if !ir.ValidIdentifier(name) {
			*errs = append(*errs, fmt.Errorf("invalid field name %q", name))
		}
	}
	op := func(o Op) {
		if !o.Valid() {
			*errs = append(*errs, fmt.Errorf("unknown operator %q", o))
		}
	}

	switch pred := p.(type) {
	case nil:
		*errs = append(*errs, fmt.Errorf("nil predicate"))
	case Compare:
		field(pred.Field)
		op(pred.Op)
		if pred.Value == nil {
			*errs = append(*errs, fmt.Errorf("field %q: missing value", pred.Field))
		}
	case CompareNow:
		field(pred.Field)
		op(pred.Op)
		if _, err := pred.Layout.Value(time.Time{}); err != nil {
			*errs = append(*errs, fmt.Errorf("field %q: %w", pred.Field, err))
		}
	case IsNull:
		field(pred.Field)
	case And:
		for _, sub := range pred.Predicates {
			check(sub, errs)
		}
	case Or:
		for _, sub := range pred.Predicates {
			check(sub, errs)
		}
	case Not:
		check(pred.Predicate, errs)
	case Raw:
		if pred.SQL == "" {
			*errs = append(*errs, fmt.Errorf("empty raw SQL fragment"))
		}
	default:
		*errs = append(*errs, fmt.Errorf("unsupported predicate type: %T", p))
	}
}

// HasRaw reports whether the predicate contains a Raw fragment anywhere.
func HasRaw(p Predicate) bool {
	switch pred := p.(type) {
	case Raw:
		return true
	case And:
		for _, sub := range pred.Predicates {
			if HasRaw(sub) {
				return true
			}
		}
	case Or:
		for _, sub := range pred.Predicates {
			if HasRaw(sub) {
				return true
			}
		}
	case Not:
		return HasRaw(pred.Predicate)
	}
	return false
}
