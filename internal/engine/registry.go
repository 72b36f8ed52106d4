package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// Invocation is the argument every action body receives.
type Invocation struct {
	RunID    string
	Class    string
	Subject  string
	Instance ir.Instance
	Trigger  ir.Trigger
	Action   string

	// At is the engine time of the firing. For recurring actions Basis is the
	// baseline the firing was due from.
	At    time.Time
	Basis time.Time
}

// ActionFunc is an action body. A returned error is recorded as an action
// failure; the firing stays recorded in the ledger.
type ActionFunc func(ctx context.Context, inv Invocation) error

// ActionDefinition binds an action body to a trigger.
type ActionDefinition struct {
	Name    string
	Trigger ir.Trigger

	// Timing is the delay for delayed actions and the interval for recurring
	// ones. It must be zero for initial and ending actions.
	Timing ir.Span

	Invoke ActionFunc
}

// OnInitial declares an action that runs once when an instance opens.
func OnInitial(name string, fn ActionFunc) ActionDefinition {
	return ActionDefinition{Name: name, Trigger: ir.TriggerInitial, Invoke: fn}
}

// OnDelayed declares an action that runs once, after span has elapsed since
// the instance opened.
func OnDelayed(name string, after ir.Span, fn ActionFunc) ActionDefinition {
	return ActionDefinition{Name: name, Trigger: ir.TriggerDelayed, Timing: after, Invoke: fn}
}

// OnRecurring declares an action that runs every span while the instance
// stays open.
func OnRecurring(name string, every ir.Span, fn ActionFunc) ActionDefinition {
	return ActionDefinition{Name: name, Trigger: ir.TriggerRecurring, Timing: every, Invoke: fn}
}

// OnEnding declares an action that runs once when an instance closes.
func OnEnding(name string, fn ActionFunc) ActionDefinition {
	return ActionDefinition{Name: name, Trigger: ir.TriggerEnding, Invoke: fn}
}

// ClassDef declares a condition class.
//
// Predicate may be nil at registration; processing such a class fails with
// NO_PREDICATE for that class alone.
type ClassDef struct {
	ID        string
	Predicate PredicateGateway
	Actions   []ActionDefinition
}

// Registry holds the declared classes in registration order.
//
// Classes are registered during startup and the registry is frozen before
// the first run. Reads after Freeze are lock-free in practice and safe for
// the parallel class workers.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]ClassDef
	order   []string
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]ClassDef)}
}

// Register validates and adds a class.
//
// Names are canonicalized (NFC, trimmed). Delayed and recurring actions must
// carry a positive span; action names are unique per (class, trigger).
func (r *Registry) Register(def ClassDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return &Error{Code: ErrCodeRegistryFrozen, Message: "registry is frozen", Class: def.ID}
	}

	id, err := ir.CanonicalName(def.ID)
	if err != nil {
		return &Error{Code: ErrCodeInvalidDefinition, Message: "invalid class id", Class: def.ID, Err: err}
	}
	if _, dup := r.classes[id]; dup {
		return &Error{Code: ErrCodeDuplicateClass, Message: "class already registered", Class: id}
	}

	actions := make([]ActionDefinition, 0, len(def.Actions))
	seen := make(map[ir.Trigger]map[string]bool)
	for _, a := range def.Actions {
		checked, err := checkAction(id, a)
		if err != nil {
			return err
		}
		if seen[checked.Trigger] == nil {
			seen[checked.Trigger] = make(map[string]bool)
		}
		if seen[checked.Trigger][checked.Name] {
			return &Error{
				Code:    ErrCodeDuplicateAction,
				Message: "action name already used for this trigger",
				Class:   id,
				Action:  checked.Name,
				Trigger: checked.Trigger,
			}
		}
		seen[checked.Trigger][checked.Name] = true
		actions = append(actions, checked)
	}

	def.ID = id
	def.Actions = actions
	r.classes[id] = def
	r.order = append(r.order, id)
	return nil
}

// MustRegister is Register for static declarations; it panics on error.
func (r *Registry) MustRegister(def ClassDef) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func checkAction(class string, a ActionDefinition) (ActionDefinition, error) {
	name, err := ir.CanonicalName(a.Name)
	if err != nil {
		return a, &Error{Code: ErrCodeInvalidDefinition, Message: "invalid action name", Class: class, Action: a.Name, Trigger: a.Trigger, Err: err}
	}
	a.Name = name

	if !a.Trigger.Valid() {
		return a, &Error{Code: ErrCodeInvalidDefinition, Message: fmt.Sprintf("unknown trigger %q", a.Trigger), Class: class, Action: name}
	}
	if a.Invoke == nil {
		return a, &Error{Code: ErrCodeInvalidDefinition, Message: "action has no body", Class: class, Action: name, Trigger: a.Trigger}
	}

	switch {
	case a.Trigger.Timed() && !a.Timing.Positive():
		return a, &Error{
			Code:    ErrCodeMissingTiming,
			Message: fmt.Sprintf("%s action requires a positive span", a.Trigger),
			Class:   class,
			Action:  name,
			Trigger: a.Trigger,
		}
	case !a.Trigger.Timed() && !a.Timing.IsZero():
		return a, &Error{
			Code:    ErrCodeInvalidDefinition,
			Message: fmt.Sprintf("%s action does not take a span", a.Trigger),
			Class:   class,
			Action:  name,
			Trigger: a.Trigger,
		}
	}
	return a, nil
}

// Freeze rejects further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// ClassIDs returns class ids in registration order.
func (r *Registry) ClassIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Class returns the class registered under id.
func (r *Registry) Class(id string) (ClassDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.classes[id]
	return def, ok
}

// ActionsFor returns the class's actions for one trigger in declaration
// order. Unknown classes have no actions.
func (r *Registry) ActionsFor(id string, trigger ir.Trigger) []ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.classes[id]
	if !ok {
		return nil
	}
	var out []ActionDefinition
	for _, a := range def.Actions {
		if a.Trigger == trigger {
			out = append(out, a)
		}
	}
	return out
}
