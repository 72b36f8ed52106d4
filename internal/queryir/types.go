package queryir

import (
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// Predicate represents a filter over one subject row.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Valid reports whether the operator is known.
func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// holds applies the operator to a comparison result.
func (o Op) holds(cmp int) bool {
	switch o {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

// Compare represents a field-versus-literal comparison.
//
//	balance > 0
type Compare struct {
	Field string     // Column name
	Op    Op         // Comparison operator
	Value ir.IRValue // Literal value (constrained to IRValue types)
}

func (Compare) predicateNode() {}

// NowLayout selects how the run's current time is rendered for CompareNow.
type NowLayout string

const (
	// NowDate renders the current date as "2006-01-02".
	NowDate NowLayout = "date"

	// NowTime renders the current instant as RFC 3339 in UTC.
	NowTime NowLayout = "time"

	// NowUnix renders the current instant as integer Unix seconds.
	NowUnix NowLayout = "unix"
)

// Value renders now in the layout.
func (l NowLayout) Value(now time.Time) (ir.IRValue, error) {
	now = now.UTC()
	switch l {
	case NowDate:
		return ir.IRString(now.Format(time.DateOnly)), nil
	case NowTime:
		return ir.IRString(now.Format(time.RFC3339)), nil
	case NowUnix:
		return ir.IRInt(now.Unix()), nil
	default:
		return nil, fmt.Errorf("unknown now layout %q", l)
	}
}

// CompareNow compares a field against the run's current time.
//
// The time comes from the engine clock, not the database's own clock, so a
// run evaluated "as of" a given instant is reproducible.
//
//	due_date < <today>
type CompareNow struct {
	Field  string
	Op     Op
	Layout NowLayout
}

func (CompareNow) predicateNode() {}

// IsNull holds when the field is absent or NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// And holds when all predicates hold. An empty And always holds.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or holds when any predicate holds. An empty Or never holds.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate (unknown stays unknown).
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Raw is a backend-specific SQL boolean expression, inserted verbatim.
// It is outside the portable fragment: Eval cannot run it.
type Raw struct {
	SQL string
}

func (Raw) predicateNode() {}
