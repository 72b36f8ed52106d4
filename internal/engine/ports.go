package engine

import (
	"context"
	"sort"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// SubjectSet is a set of subject keys.
type SubjectSet map[string]struct{}

// NewSubjectSet builds a set from keys.
func NewSubjectSet(keys ...string) SubjectSet {
	s := make(SubjectSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether key is in the set.
func (s SubjectSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Sorted returns the keys in ascending order.
func (s SubjectSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PredicateGateway answers which subjects currently satisfy one class's
// condition. A gateway is bound to its class at construction.
type PredicateGateway interface {
	// CurrentlyTrue returns every subject satisfying the condition now.
	CurrentlyTrue(ctx context.Context) (SubjectSet, error)

	// CurrentlyFalseButWasOpen returns the subset of open that no longer
	// satisfies the condition. Subjects missing from the population count
	// as no longer satisfying it.
	CurrentlyFalseButWasOpen(ctx context.Context, open []string) (SubjectSet, error)
}

// ConditionStore persists condition instances.
//
// Implementations guarantee at most one open instance per (class, subject).
// OpenInstance returns created=false when another writer opened the subject
// first; CloseInstance returns closed=false when the instance had already
// ended.
type ConditionStore interface {
	OpenSubjects(ctx context.Context, class string) ([]string, error)
	OpenInstances(ctx context.Context, class string) ([]ir.Instance, error)
	GetOpenInstance(ctx context.Context, class, subject string) (ir.Instance, bool, error)
	OpenInstance(ctx context.Context, class, subject string, at time.Time) (inst ir.Instance, created bool, err error)
	CloseInstance(ctx context.Context, id int64, at time.Time) (closed bool, err error)
	Instances(ctx context.Context, class, subject string) ([]ir.Instance, error)
}

// ExecutionLedger is the append-only record of action firings.
//
// Record is idempotent on (instance, trigger, name, basis): a second record
// with the same key returns inserted=false and the existing id.
type ExecutionLedger interface {
	Record(ctx context.Context, rec ir.ActionRecord) (id int64, inserted bool, err error)
	Exists(ctx context.Context, instanceID int64, trigger ir.Trigger, name string) (bool, error)
	Latest(ctx context.Context, instanceID int64, trigger ir.Trigger, name string) (time.Time, bool, error)
	Records(ctx context.Context, instanceID int64) ([]ir.ActionRecord, error)
}

// Store is the combined persistence surface the engine runs against.
type Store interface {
	ConditionStore
	ExecutionLedger
}
