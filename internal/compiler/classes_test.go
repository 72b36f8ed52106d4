package compiler

import (
	"errors"
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/queryir"
)

func compileOne(t *testing.T, src, path string) (*ClassSpec, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileClass(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileClassBasic(t *testing.T) {
	spec, err := compileOne(t, `
		class: Overdue: {
			description: "invoice has an unpaid overdue balance"
			subjects: "invoices"
			key: "id"
			when: all: [
				{field: "balance", op: ">", value: 0},
				{field: "due_date", op: "<", now: "date"},
			]
			actions: [
				{name: "notify_customer", trigger: "initial", kind: "log", message: "invoice overdue"},
				{name: "notify_manager", trigger: "delayed", after: "3d", kind: "exec", command: ["notify", "manager"]},
				{name: "reminder", trigger: "recurring", every: "1w", kind: "log"},
				{name: "close_ticket", trigger: "ending", kind: "sql", statement: "UPDATE invoices SET flagged = 0 WHERE id = ?"},
			]
		}
	`, "class.Overdue")
	require.NoError(t, err)

	assert.Equal(t, "Overdue", spec.ID)
	assert.Equal(t, "invoice has an unpaid overdue balance", spec.Description)
	assert.Equal(t, "invoices", spec.Subjects)
	assert.Equal(t, "id", spec.Key)

	assert.Equal(t, queryir.And{Predicates: []queryir.Predicate{
		queryir.Compare{Field: "balance", Op: queryir.OpGt, Value: ir.IRInt(0)},
		queryir.CompareNow{Field: "due_date", Op: queryir.OpLt, Layout: queryir.NowDate},
	}}, spec.When)

	require.Len(t, spec.Actions, 4)

	assert.Equal(t, "notify_customer", spec.Actions[0].Name)
	assert.Equal(t, ir.TriggerInitial, spec.Actions[0].Trigger)
	assert.Equal(t, KindLog, spec.Actions[0].Kind)
	assert.Equal(t, "invoice overdue", spec.Actions[0].Message)
	assert.True(t, spec.Actions[0].Timing.IsZero())

	assert.Equal(t, ir.TriggerDelayed, spec.Actions[1].Trigger)
	assert.Equal(t, ir.DaysSpan(3), spec.Actions[1].Timing)
	assert.Equal(t, KindExec, spec.Actions[1].Kind)
	assert.Equal(t, []string{"notify", "manager"}, spec.Actions[1].Command)

	assert.Equal(t, ir.TriggerRecurring, spec.Actions[2].Trigger)
	assert.Equal(t, ir.DaysSpan(7), spec.Actions[2].Timing)

	assert.Equal(t, ir.TriggerEnding, spec.Actions[3].Trigger)
	assert.Equal(t, KindSQL, spec.Actions[3].Kind)
	assert.Equal(t, "UPDATE invoices SET flagged = 0 WHERE id = ?", spec.Actions[3].Statement)
}

func TestCompileClassSingleComparison(t *testing.T) {
	spec, err := compileOne(t, `
		class: overdue: {
			subjects: "invoices"
			when: {field: "balance", op: ">", value: 0}
		}
	`, "class.overdue")
	require.NoError(t, err)
	assert.Equal(t, queryir.Compare{Field: "balance", Op: queryir.OpGt, Value: ir.IRInt(0)}, spec.When)
}

func TestCompileClassNullCheck(t *testing.T) {
	spec, err := compileOne(t, `class: C: {subjects: "t", when: {field: "owner", null: true}}`, "class.C")
	require.NoError(t, err)
	assert.Equal(t, queryir.IsNull{Field: "owner"}, spec.When)
}

func TestCompileClassDefaults(t *testing.T) {
	spec, err := compileOne(t, `
		class: Stale: {
			subjects: "tickets"
			when: {field: "closed_at", null: true}
			actions: [{name: "ping", trigger: "initial"}]
		}
	`, "class.Stale")
	require.NoError(t, err)

	assert.Equal(t, DefaultKey, spec.Key)
	assert.Equal(t, queryir.IsNull{Field: "closed_at"}, spec.When)
	require.Len(t, spec.Actions, 1)
	assert.Equal(t, KindLog, spec.Actions[0].Kind)
}

func TestCompileClassNoWhen(t *testing.T) {
	spec, err := compileOne(t, `
		class: Later: {
			subjects: "tickets"
			actions: [{name: "ping", trigger: "initial"}]
		}
	`, "class.Later")
	require.NoError(t, err)
	assert.Nil(t, spec.When, "missing when compiles to a nil predicate")
}

func TestCompileClassQuotedLabel(t *testing.T) {
	spec, err := compileOne(t, `
		class: "late payment": {
			subjects: "invoices"
		}
	`, `class."late payment"`)
	require.NoError(t, err)
	assert.Equal(t, "late payment", spec.ID)
}

func TestCompileClassPredicateForms(t *testing.T) {
	tests := []struct {
		name string
		when string
		want queryir.Predicate
	}{
		{
			name: "string value",
			when: `{field: "status", op: "=", value: "open"}`,
			want: queryir.Compare{Field: "status", Op: queryir.OpEq, Value: ir.IRString("open")},
		},
		{
			name: "bool value",
			when: `{field: "flagged", op: "!=", value: true}`,
			want: queryir.Compare{Field: "flagged", Op: queryir.OpNe, Value: ir.IRBool(true)},
		},
		{
			name: "not null",
			when: `{field: "owner", null: false}`,
			want: queryir.Not{Predicate: queryir.IsNull{Field: "owner"}},
		},
		{
			name: "any and not",
			when: `any: [{field: "a", op: ">=", value: 1}, {not: {field: "b", op: "<=", value: 2}}]`,
			want: queryir.Or{Predicates: []queryir.Predicate{
				queryir.Compare{Field: "a", Op: queryir.OpGe, Value: ir.IRInt(1)},
				queryir.Not{Predicate: queryir.Compare{Field: "b", Op: queryir.OpLe, Value: ir.IRInt(2)}},
			}},
		},
		{
			name: "raw sql",
			when: `sql: "balance > credit_limit"`,
			want: queryir.Raw{SQL: "balance > credit_limit"},
		},
		{
			name: "now time",
			when: `{field: "expires_at", op: "<", now: "time"}`,
			want: queryir.CompareNow{Field: "expires_at", Op: queryir.OpLt, Layout: queryir.NowTime},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := compileOne(t, `class: C: {subjects: "t", when: `+tt.when+`}`, "class.C")
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.When)
		})
	}
}

func TestCompileClassPredicateErrors(t *testing.T) {
	tests := []struct {
		name  string
		when  string
		field string
	}{
		{"two forms", `{field: "a", op: "=", value: 1, sql: "1 = 1"}`, "when"},
		{"no form", `{op: "=", value: 1}`, "when"},
		{"bad operator", `{field: "a", op: "~", value: 1}`, "when.op"},
		{"missing value", `{field: "a", op: "="}`, "when.value"},
		{"float value", `{field: "a", op: "=", value: 1.5}`, "when.value"},
		{"bad layout", `{field: "a", op: "<", now: "week"}`, "when.now"},
		{"bad field", `{field: "a; drop", op: "=", value: 1}`, "when.field"},
		{"empty sql", `sql: ""`, "when.sql"},
		{"nested", `all: [{field: "a", op: "=", value: 1}, {field: "b"}]`, "when.all[1].op"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, `class: C: {subjects: "t", when: `+tt.when+`}`, "class.C")
			require.Error(t, err)

			var compileErr *CompileError
			require.True(t, errors.As(err, &compileErr), "expected *CompileError, got %T", err)
			assert.Equal(t, tt.field, compileErr.Field)
		})
	}
}

func TestCompileClassMissingSubjects(t *testing.T) {
	_, err := compileOne(t, `class: C: {when: {field: "a", null: true}}`, "class.C")
	require.Error(t, err)

	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "subjects", compileErr.Field)
	assert.Contains(t, compileErr.Message, "subjects is required")
}

func TestCompileClassMissingTiming(t *testing.T) {
	tests := []struct {
		name   string
		action string
		field  string
	}{
		{"delayed without after", `{name: "a", trigger: "delayed"}`, "actions.after"},
		{"recurring without every", `{name: "a", trigger: "recurring"}`, "actions.every"},
		{"unparseable span", `{name: "a", trigger: "delayed", after: "soon"}`, "actions.after"},
		{"zero span", `{name: "a", trigger: "recurring", every: "0d"}`, "actions.every"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, `class: C: {subjects: "t", actions: [`+tt.action+`]}`, "class.C")
			require.Error(t, err)
			assert.True(t, engine.IsMissingTiming(err), "expected MISSING_TIMING, got %v", err)

			var compileErr *CompileError
			require.True(t, errors.As(err, &compileErr))
			assert.Equal(t, tt.field, compileErr.Field)
		})
	}
}

func TestCompileClassTimingConflicts(t *testing.T) {
	tests := []struct {
		name   string
		action string
	}{
		{"initial with after", `{name: "a", trigger: "initial", after: "1d"}`},
		{"ending with every", `{name: "a", trigger: "ending", every: "1d"}`},
		{"delayed with every", `{name: "a", trigger: "delayed", after: "1d", every: "1d"}`},
		{"recurring with after", `{name: "a", trigger: "recurring", every: "1d", after: "1d"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, `class: C: {subjects: "t", actions: [`+tt.action+`]}`, "class.C")
			require.Error(t, err)
			assert.False(t, engine.IsMissingTiming(err))
			assert.Contains(t, err.Error(), "does not take")
		})
	}
}

func TestCompileClassActionErrors(t *testing.T) {
	tests := []struct {
		name    string
		actions string
		field   string
	}{
		{"missing name", `[{trigger: "initial"}]`, "actions.name"},
		{"missing trigger", `[{name: "a"}]`, "actions.trigger"},
		{"unknown trigger", `[{name: "a", trigger: "sometimes"}]`, "actions.trigger"},
		{"unknown kind", `[{name: "a", trigger: "initial", kind: "email"}]`, "actions.kind"},
		{"exec without command", `[{name: "a", trigger: "initial", kind: "exec"}]`, "actions.command"},
		{"sql without statement", `[{name: "a", trigger: "initial", kind: "sql"}]`, "actions.statement"},
		{"duplicate", `[{name: "a", trigger: "initial"}, {name: "a", trigger: "initial"}]`, "actions.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, `class: C: {subjects: "t", actions: `+tt.actions+`}`, "class.C")
			require.Error(t, err)

			var compileErr *CompileError
			require.True(t, errors.As(err, &compileErr), "expected *CompileError, got %T", err)
			assert.Equal(t, tt.field, compileErr.Field)
		})
	}
}

func TestCompileClassSameNameDifferentTriggers(t *testing.T) {
	spec, err := compileOne(t, `
		class: C: {
			subjects: "t"
			actions: [
				{name: "notify", trigger: "initial"},
				{name: "notify", trigger: "ending"},
			]
		}
	`, "class.C")
	require.NoError(t, err)
	assert.Len(t, spec.Actions, 2)
}

func TestCompileClassCanonicalNames(t *testing.T) {
	spec, err := compileOne(t, "class: C: {subjects: \"t\", actions: [{name: \"notify_café\", trigger: \"initial\"}]}", "class.C")
	require.NoError(t, err)
	assert.Equal(t, "notify_café", spec.Actions[0].Name)
}

func TestCompileClassClockSpan(t *testing.T) {
	spec, err := compileOne(t, `
		class: C: {
			subjects: "t"
			actions: [{name: "poll", trigger: "recurring", every: "1d12h"}]
		}
	`, "class.C")
	require.NoError(t, err)
	assert.Equal(t, ir.Span{Days: 1, Clock: 12 * time.Hour}, spec.Actions[0].Timing)
}

func TestCompileClasses(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		class: A: {subjects: "t", when: {field: "x", null: true}}
		class: B: {subjects: "t", actions: [{name: "a", trigger: "delayed"}]}
		class: C: {subjects: "u", when: {field: "y", op: "=", value: 1}}
	`)
	require.NoError(t, v.Err())

	specs, errs := CompileClasses(v)
	require.Len(t, errs, 1)
	assert.True(t, engine.IsMissingTiming(errs[0]))

	require.Len(t, specs, 2)
	assert.Equal(t, "A", specs[0].ID)
	assert.Equal(t, "C", specs[1].ID)
}

func TestCompileClassesNone(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`other: 1`)
	require.NoError(t, v.Err())

	specs, errs := CompileClasses(v)
	assert.Empty(t, specs)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no class declarations found")
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "subjects", Message: "subjects is required"}
	assert.Equal(t, "subjects: subjects is required", err.Error())
}

func TestFormatCUEErrorNil(t *testing.T) {
	assert.NoError(t, formatCUEError(nil))
}
