package ir

import "fmt"

// Trigger is the lifecycle point an action is attached to.
type Trigger string

const (
	// TriggerInitial fires once when a condition instance opens.
	TriggerInitial Trigger = "initial"

	// TriggerDelayed fires once, a fixed span after the instance opened.
	TriggerDelayed Trigger = "delayed"

	// TriggerRecurring fires every span for as long as the instance is open.
	TriggerRecurring Trigger = "recurring"

	// TriggerEnding fires once when the instance closes.
	TriggerEnding Trigger = "ending"
)

// Triggers lists every trigger in lifecycle order.
var Triggers = []Trigger{TriggerInitial, TriggerDelayed, TriggerRecurring, TriggerEnding}

// Code returns the single-letter code persisted in the actions relation.
func (t Trigger) Code() string {
	switch t {
	case TriggerInitial:
		return "I"
	case TriggerDelayed:
		return "D"
	case TriggerRecurring:
		return "R"
	case TriggerEnding:
		return "E"
	default:
		return ""
	}
}

// Timed reports whether the trigger requires a timing span.
func (t Trigger) Timed() bool {
	return t == TriggerDelayed || t == TriggerRecurring
}

// Valid reports whether t is one of the four known triggers.
func (t Trigger) Valid() bool {
	return t.Code() != ""
}

// ParseTrigger accepts either the trigger name or its persisted code.
func ParseTrigger(s string) (Trigger, error) {
	switch s {
	case "initial", "I":
		return TriggerInitial, nil
	case "delayed", "D":
		return TriggerDelayed, nil
	case "recurring", "R":
		return TriggerRecurring, nil
	case "ending", "E":
		return TriggerEnding, nil
	default:
		return "", fmt.Errorf("unknown trigger %q", s)
	}
}
