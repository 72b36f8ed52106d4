package queryir

import (
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// truth is a three-valued logic result.
type truth int8

const (
	unknown truth = iota
	falsy
	truthy
)

func not(t truth) truth {
	switch t {
	case truthy:
		return falsy
	case falsy:
		return truthy
	}
	return unknown
}

// Eval reports whether the predicate selects the row.
//
// A nil predicate selects every row. now is the run's current time and is
// used by CompareNow. Raw predicates cannot be evaluated in memory and
// return an error.
func Eval(p Predicate, row ir.Row, now time.Time) (bool, error) {
	if p == nil {
		return true, nil
	}
	t, err := eval(p, row, now)
	if err != nil {
		return false, err
	}
	return t == truthy, nil
}

func eval(p Predicate, row ir.Row, now time.Time) (truth, error) {
	switch pred := p.(type) {
	case Compare:
		return compare(row[pred.Field], pred.Op, pred.Value), nil
	case CompareNow:
		v, err := pred.Layout.Value(now)
		if err != nil {
			return unknown, err
		}
		return compare(row[pred.Field], pred.Op, v), nil
	case IsNull:
		if ir.IsNull(row[pred.Field]) {
			return truthy, nil
		}
		return falsy, nil
	case And:
		result := truthy
		for _, sub := range pred.Predicates {
			t, err := eval(sub, row, now)
			if err != nil {
				return unknown, err
			}
			if t == falsy {
				return falsy, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil
	case Or:
		result := falsy
		for _, sub := range pred.Predicates {
			t, err := eval(sub, row, now)
			if err != nil {
				return unknown, err
			}
			if t == truthy {
				return truthy, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil
	case Not:
		t, err := eval(pred.Predicate, row, now)
		if err != nil {
			return unknown, err
		}
		return not(t), nil
	case Raw:
		return unknown, fmt.Errorf("raw SQL predicate cannot be evaluated in memory: %q", pred.SQL)
	default:
		return unknown, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compare(field ir.IRValue, op Op, value ir.IRValue) truth {
	cmp, ok := ir.Compare(field, value)
	if !ok {
		return unknown
	}
	if op.holds(cmp) {
		return truthy
	}
	return falsy
}
