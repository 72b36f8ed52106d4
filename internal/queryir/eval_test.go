package queryir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/conditions/internal/ir"
)

var evalNow = time.Date(2024, time.March, 10, 15, 30, 0, 0, time.UTC)

func overdue() Predicate {
	return And{Predicates: []Predicate{
		Compare{Field: "balance", Op: OpGt, Value: ir.IRInt(0)},
		CompareNow{Field: "due_date", Op: OpLt, Layout: NowDate},
	}}
}

func TestEval_Overdue(t *testing.T) {
	tests := []struct {
		name string
		row  ir.Row
		want bool
	}{
		{"positive and past due", ir.Row{"balance": ir.IRInt(50), "due_date": ir.IRString("2024-03-01")}, true},
		{"paid", ir.Row{"balance": ir.IRInt(0), "due_date": ir.IRString("2024-03-01")}, false},
		{"due today", ir.Row{"balance": ir.IRInt(50), "due_date": ir.IRString("2024-03-10")}, false},
		{"missing due date", ir.Row{"balance": ir.IRInt(50)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(overdue(), tt.row, evalNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_ThreeValuedLogic(t *testing.T) {
	row := ir.Row{"status": ir.IRNull{}}

	// NOT (status = 'open') is unknown when status is NULL, just like SQL.
	got, err := Eval(Not{Predicate: Compare{Field: "status", Op: OpEq, Value: ir.IRString("open")}}, row, evalNow)
	require.NoError(t, err)
	assert.False(t, got)

	// unknown OR true is true
	got, err = Eval(Or{Predicates: []Predicate{
		Compare{Field: "status", Op: OpEq, Value: ir.IRString("open")},
		IsNull{Field: "status"},
	}}, row, evalNow)
	require.NoError(t, err)
	assert.True(t, got)

	// unknown AND false is false; NOT false is true
	got, err = Eval(Not{Predicate: And{Predicates: []Predicate{
		Compare{Field: "status", Op: OpEq, Value: ir.IRString("open")},
		Compare{Field: "missing", Op: OpEq, Value: ir.IRInt(1)},
		IsNull{Field: "other"},
		Not{Predicate: IsNull{Field: "status"}},
	}}}, row, evalNow)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_EmptyCombinators(t *testing.T) {
	got, err := Eval(And{}, ir.Row{}, evalNow)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(Or{}, ir.Row{}, evalNow)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Eval(nil, ir.Row{}, evalNow)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_NowLayouts(t *testing.T) {
	row := ir.Row{"at": ir.IRString("2024-03-10T15:00:00Z"), "ts": ir.IRInt(evalNow.Unix() - 1)}

	got, err := Eval(CompareNow{Field: "at", Op: OpLt, Layout: NowTime}, row, evalNow)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(CompareNow{Field: "ts", Op: OpLt, Layout: NowUnix}, row, evalNow)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_RawFails(t *testing.T) {
	_, err := Eval(Raw{SQL: "balance > 0"}, ir.Row{}, evalNow)
	assert.ErrorContains(t, err, "cannot be evaluated in memory")
}

func TestValidate(t *testing.T) {
	res := Validate(overdue())
	assert.True(t, res.IsPortable)
	assert.Empty(t, res.Warnings)

	res = Validate(Or{Predicates: []Predicate{
		Raw{SQL: "julianday('now') - julianday(due_date) > 30"},
		Compare{Field: "x", Op: OpEq, Value: ir.IRNull{}},
	}})
	assert.False(t, res.IsPortable)
	assert.Len(t, res.Warnings, 2)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(overdue()))

	err := Check(And{Predicates: []Predicate{
		Compare{Field: "bad name", Op: OpEq, Value: ir.IRInt(1)},
		Compare{Field: "ok", Op: "~", Value: ir.IRInt(1)},
		CompareNow{Field: "due", Op: OpLt, Layout: "week"},
		Not{},
		Raw{},
	}})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `invalid field name "bad name"`)
	assert.Contains(t, msg, `unknown operator "~"`)
	assert.Contains(t, msg, `unknown now layout "week"`)
	assert.Contains(t, msg, "nil predicate")
	assert.Contains(t, msg, "empty raw SQL fragment")
}
