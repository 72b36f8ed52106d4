package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

// IRValue is a sealed interface representing constrained literal values.
// Only IRNull, IRString, IRInt and IRBool implement it.
// NO IRFloat - floats are forbidden, money and quantities are integers.
type IRValue interface {
	irValue() // Sealed - only these types implement it
}

// IRNull represents an absent column value.
type IRNull struct{}

func (IRNull) irValue() {}

// MarshalJSON implements json.Marshaler for IRNull.
func (IRNull) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// IRString represents a string value.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integer value. Always int64, never float64.
type IRInt int64

func (IRInt) irValue() {}

// IRBool represents a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// Row is one subject's column values, keyed by column name.
type Row map[string]IRValue

// SortedKeys returns the row's column names in byte order.
func (r Row) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MarshalJSON implements json.Marshaler with sorted keys.
func (r Row) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.SortedKeys() {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		vb, err := MarshalIRValue(r[k])
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", k, err)
		}
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// MarshalIRValue marshals an IRValue to JSON bytes.
func MarshalIRValue(v IRValue) ([]byte, error) {
	switch val := v.(type) {
	case nil, IRNull:
		return []byte("null"), nil
	case IRString:
		return json.Marshal(string(val))
	case IRInt:
		return json.Marshal(int64(val))
	case IRBool:
		return json.Marshal(bool(val))
	default:
		return nil, fmt.Errorf("unknown IRValue type: %T", v)
	}
}

// FromAny converts a decoded YAML, JSON or CUE scalar into an IRValue.
//
// Floats are accepted only when they hold an exact integer (YAML and JSON
// decoders produce float64 for plain numbers); anything with a fractional
// part is rejected.
func FromAny(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case bool:
		return IRBool(val), nil
	case int:
		return IRInt(val), nil
	case int32:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return IRInt(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden: %s", val)
		}
		return IRInt(n), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.IsNaN(val) {
			return nil, fmt.Errorf("floats are forbidden: %v", val)
		}
		return IRInt(int64(val)), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// ToDriver converts an IRValue into a database/sql argument.
func ToDriver(v IRValue) any {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return int64(val)
	case IRBool:
		return bool(val)
	default:
		return nil
	}
}

// Compare orders two values of the same kind.
//
// It returns ok=false when either side is null or the kinds differ; callers
// treat such comparisons as false, the way SQL treats comparisons with NULL.
// Booleans order false before true.
func Compare(a, b IRValue) (cmp int, ok bool) {
	switch av := a.(type) {
	case IRString:
		bv, isStr := b.(IRString)
		if !isStr {
			return 0, false
		}
		return strings.Compare(string(av), string(bv)), true
	case IRInt:
		bv, isInt := b.(IRInt)
		if !isInt {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case IRBool:
		bv, isBool := b.(IRBool)
		if !isBool {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !bool(av):
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}

// IsNull reports whether v is absent.
func IsNull(v IRValue) bool {
	if v == nil {
		return true
	}
	_, null := v.(IRNull)
	return null
}
