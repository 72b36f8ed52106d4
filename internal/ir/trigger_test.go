package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_Codes(t *testing.T) {
	codes := map[Trigger]string{
		TriggerInitial:   "I",
		TriggerDelayed:   "D",
		TriggerRecurring: "R",
		TriggerEnding:    "E",
	}
	for trig, code := range codes {
		assert.Equal(t, code, trig.Code())

		parsed, err := ParseTrigger(code)
		require.NoError(t, err)
		assert.Equal(t, trig, parsed)

		parsed, err = ParseTrigger(string(trig))
		require.NoError(t, err)
		assert.Equal(t, trig, parsed)
	}

	assert.False(t, Trigger("weekly").Valid())
	_, err := ParseTrigger("weekly")
	assert.Error(t, err)
}

func TestTrigger_Timed(t *testing.T) {
	assert.False(t, TriggerInitial.Timed())
	assert.True(t, TriggerDelayed.Timed())
	assert.True(t, TriggerRecurring.Timed())
	assert.False(t, TriggerEnding.Timed())
}
