package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventFired, Class: "overdue", Subject: "inv-1", Trigger: "initial", Action: "notify"},
		{Seq: 2, Type: EventRun, Class: "overdue", Opened: 1, Open: []string{"inv-1"}},
		{Seq: 3, Type: EventFired, Class: "overdue", Subject: "inv-1", Trigger: "recurring", Action: "remind"},
		{Seq: 4, Type: EventFired, Class: "overdue", Subject: "inv-2", Trigger: "initial", Action: "notify"},
		{Seq: 5, Type: EventFired, Class: "overdue", Subject: "inv-1", Trigger: "ending", Action: "close_out"},
	}
}

func TestAssertFired_Found(t *testing.T) {
	err := assertFired(sampleTrace(), Assertion{Type: AssertFired, Action: "remind"})
	assert.NoError(t, err)
}

func TestAssertFired_FiltersSubjectAndTrigger(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertFired(trace, Assertion{Type: AssertFired, Action: "notify", Subject: "inv-2"}))
	assert.NoError(t, assertFired(trace, Assertion{Type: AssertFired, Action: "remind", Trigger: "R"}))

	err := assertFired(trace, Assertion{Type: AssertFired, Action: "remind", Subject: "inv-2"})
	require.Error(t, err)

	err = assertFired(trace, Assertion{Type: AssertFired, Action: "notify", Trigger: "ending"})
	require.Error(t, err)
}

func TestAssertFired_NotFound(t *testing.T) {
	err := assertFired(sampleTrace(), Assertion{Type: AssertFired, Action: "escalate"})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, AssertFired, assertErr.Type)
	assert.Contains(t, assertErr.Expected, "escalate")
	assert.Equal(t, "not found in trace", assertErr.Actual)
}

func TestAssertFired_IgnoresRunEvents(t *testing.T) {
	trace := []TraceEvent{{Seq: 1, Type: EventRun, Class: "overdue", Action: "notify"}}
	require.Error(t, assertFired(trace, Assertion{Type: AssertFired, Action: "notify"}))
}

func TestAssertFiredCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertFiredCount(trace, Assertion{Type: AssertFiredCount, Action: "notify", Count: 2}))
	assert.NoError(t, assertFiredCount(trace, Assertion{Type: AssertFiredCount, Action: "notify", Subject: "inv-1", Count: 1}))
	assert.NoError(t, assertFiredCount(trace, Assertion{Type: AssertFiredCount, Action: "escalate", Count: 0}))

	err := assertFiredCount(trace, Assertion{Type: AssertFiredCount, Action: "notify", Count: 3})
	require.Error(t, err)
	assertErr := err.(*AssertionError)
	assert.Equal(t, "2 firings", assertErr.Actual)
}

func TestAssertFiredOrder_Correct(t *testing.T) {
	err := assertFiredOrder(sampleTrace(), Assertion{Type: AssertFiredOrder, Actions: []string{"notify", "remind", "close_out"}})
	assert.NoError(t, err)
}

func TestAssertFiredOrder_UsesFirstFiring(t *testing.T) {
	// notify fires again after remind; only its first firing counts.
	err := assertFiredOrder(sampleTrace(), Assertion{Type: AssertFiredOrder, Actions: []string{"remind", "notify"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remind (pos 3) should be before notify (pos 1)")
}

func TestAssertFiredOrder_Missing(t *testing.T) {
	err := assertFiredOrder(sampleTrace(), Assertion{Type: AssertFiredOrder, Actions: []string{"notify", "escalate"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: escalate")
}

func TestAssertOpenSubjects(t *testing.T) {
	result := NewResult()
	result.Open["overdue"] = []string{"inv-1", "inv-2"}
	result.Open["stale_ticket"] = []string{}

	assert.NoError(t, assertOpenSubjects(result, Assertion{Type: AssertOpenSubjects, Class: "overdue", Subjects: []string{"inv-2", "inv-1"}}))
	assert.NoError(t, assertOpenSubjects(result, Assertion{Type: AssertOpenSubjects, Class: "stale_ticket"}))

	err := assertOpenSubjects(result, Assertion{Type: AssertOpenSubjects, Class: "overdue", Subjects: []string{"inv-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[inv-1 inv-2]")

	err = assertOpenSubjects(result, Assertion{Type: AssertOpenSubjects, Class: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class is not registered")
}

func TestAssertionError_ListsFiredEvents(t *testing.T) {
	err := &AssertionError{
		Type:     AssertFired,
		Expected: "action escalate fired",
		Actual:   "not found in trace",
		Trace:    sampleTrace(),
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: fired")
	assert.Contains(t, msg, "Fired:")
	assert.Contains(t, msg, "overdue/inv-1 recurring remind")
	assert.NotContains(t, msg, "[2]", "run events are not listed")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()
	result.Open["overdue"] = []string{}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertFired, Action: "notify"},
		{Type: AssertFiredCount, Action: "remind", Count: 1},
		{Type: AssertOpenSubjects, Class: "overdue"},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertFired, Action: "escalate"},
		{Type: "final_state"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[1], `unknown assertion type "final_state"`)
}
