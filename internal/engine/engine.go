package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/telemetry"
)

// DefaultWorkers is the default number of classes processed concurrently.
const DefaultWorkers = 4

// Engine runs the lifecycle and scheduling passes for registered classes
// against one store.
//
// Thread-safety model:
//   - Classes are independent; RunAll processes up to Workers of them in
//     parallel.
//   - Subjects within a class are processed sequentially.
//   - Cross-run safety comes from the store: the open-instance uniqueness
//     and the ledger's idempotent Record.
type Engine struct {
	store    Store
	registry *Registry
	clock    Clock
	runIDs   RunIDGenerator
	logger   *slog.Logger
	workers  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for every decision. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers sets how many classes run concurrently. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// New creates an Engine over store and registry.
func New(store Store, registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		clock:    SystemClock{},
		runIDs:   UUIDv7Generator{},
		logger:   slog.Default(),
		workers:  DefaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// Registry returns the engine's class registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) now() time.Time {
	return stamp(e.clock.Now())
}

// ActionFailure describes one action body that failed.
type ActionFailure struct {
	Subject string     `json:"subject"`
	Trigger ir.Trigger `json:"trigger"`
	Action  string     `json:"action"`
	Error   string     `json:"error"`
}

// Outcome counts what one pass did for one class.
type Outcome struct {
	Opened   int                `json:"opened"`
	Closed   int                `json:"closed"`
	Executed map[ir.Trigger]int `json:"executed"`
	Failures []ActionFailure    `json:"failures,omitempty"`
}

func newOutcome() Outcome {
	return Outcome{Executed: make(map[ir.Trigger]int)}
}

func (o *Outcome) merge(other Outcome) {
	o.Opened += other.Opened
	o.Closed += other.Closed
	if o.Executed == nil {
		o.Executed = make(map[ir.Trigger]int)
	}
	for t, n := range other.Executed {
		o.Executed[t] += n
	}
	o.Failures = append(o.Failures, other.Failures...)
}

// fire records one firing in the ledger and, if this call inserted it, runs
// the action body.
//
// Recording precedes invocation so a firing is never repeated: a crash or
// failing body after the record leaves it recorded, not retried.
func (e *Engine) fire(ctx context.Context, inst ir.Instance, def ActionDefinition, basis, at time.Time, out *Outcome) error {
	rec := ir.ActionRecord{
		InstanceID: inst.ID,
		Trigger:    def.Trigger,
		Name:       def.Name,
		Basis:      basis,
		ExecutedAt: at,
	}
	id, inserted, err := e.store.Record(ctx, rec)
	if err != nil {
		return &Error{
			Code:    ErrCodeStorage,
			Message: "record action",
			Class:   inst.Class,
			Subject: inst.Subject,
			Action:  def.Name,
			Trigger: def.Trigger,
			Err:     err,
		}
	}
	if !inserted {
		e.logger.Debug("action already recorded",
			"class", inst.Class,
			"subject", inst.Subject,
			"trigger", def.Trigger,
			"action", def.Name,
			"record_id", id,
		)
		return nil
	}

	inv := Invocation{
		RunID:    RunIDFrom(ctx),
		Class:    inst.Class,
		Subject:  inst.Subject,
		Instance: inst,
		Trigger:  def.Trigger,
		Action:   def.Name,
		At:       at,
		Basis:    basis,
	}
	out.Executed[def.Trigger]++

	invokeErr := invoke(ctx, def, inv)
	telemetry.RecordAction(ctx, inst.Class, string(def.Trigger), def.Name, invokeErr)
	if invokeErr != nil {
		e.logger.Warn("action failed",
			"class", inst.Class,
			"subject", inst.Subject,
			"trigger", def.Trigger,
			"action", def.Name,
			"error", invokeErr,
		)
		out.Failures = append(out.Failures, ActionFailure{
			Subject: inst.Subject,
			Trigger: def.Trigger,
			Action:  def.Name,
			Error:   failureMessage(invokeErr),
		})
		return nil
	}

	e.logger.Info("action executed",
		"class", inst.Class,
		"subject", inst.Subject,
		"trigger", def.Trigger,
		"action", def.Name,
		"record_id", id,
	)
	return nil
}

func invoke(ctx context.Context, def ActionDefinition, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{
				Code:    ErrCodeActionFailed,
				Message: fmt.Sprintf("action panicked: %v", r),
				Class:   inv.Class,
				Subject: inv.Subject,
				Action:  inv.Action,
				Trigger: inv.Trigger,
			}
		}
	}()
	if err := def.Invoke(ctx, inv); err != nil {
		return &Error{
			Code:    ErrCodeActionFailed,
			Message: "action returned an error",
			Class:   inv.Class,
			Subject: inv.Subject,
			Action:  inv.Action,
			Trigger: inv.Trigger,
			Err:     err,
		}
	}
	return nil
}

// failureMessage strips the attribution an ActionFailure already carries.
func failureMessage(err error) string {
	e, ok := err.(*Error)
	if !ok {
		return err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}
