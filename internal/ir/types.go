package ir

import "time"

// Instance is one occurrence of a condition class being true for one subject.
//
// Created is set once when the instance opens and never changes. Ended is nil
// while the instance is open. Closed instances are kept as history; a subject
// may open a new instance of the same class after an earlier one ended.
type Instance struct {
	ID      int64      `json:"id"`
	Class   string     `json:"class"`
	Subject string     `json:"subject"`
	Created time.Time  `json:"created"`
	Ended   *time.Time `json:"ended,omitempty"`
}

// Open reports whether the instance has not ended.
func (i Instance) Open() bool {
	return i.Ended == nil
}

// ActionRecord is the immutable ledger entry proving an action ran.
//
// Basis is the zero time for initial, delayed and ending records. For
// recurring records it is the baseline the firing was computed from (the
// previous firing, or the instance's creation), which makes each baseline
// fire at most once even when two runs race.
type ActionRecord struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	Trigger    Trigger   `json:"trigger"`
	Name       string    `json:"name"`
	Basis      time.Time `json:"basis,omitzero"`
	ExecutedAt time.Time `json:"executed_at"`
}

// ClassCount summarizes the stored instances of one class.
type ClassCount struct {
	Class   string `json:"class"`
	Open    int    `json:"open"`
	Closed  int    `json:"closed"`
	Actions int    `json:"actions"`
}
