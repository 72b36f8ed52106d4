package engine

import (
	"context"
	"time"

	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/telemetry"
)

// Reconcile brings the open instances of one class in line with its
// predicate.
//
// Both predicate reads happen before any write, so one pass acts on a single
// view of the population. A subject in the currently-true set is never
// closed by the same pass. New instances are opened first, then stale ones
// closed, each in ascending subject order.
//
// When execute is true, initial actions run for instances this call created
// and ending actions run before an instance is marked ended. Action failures
// are collected in the outcome; storage and predicate failures abort the
// class and are returned.
func (e *Engine) Reconcile(ctx context.Context, classID string, execute bool) (Outcome, error) {
	out := newOutcome()

	def, ok := e.registry.Class(classID)
	if !ok {
		return out, &Error{Code: ErrCodeUnknownClass, Message: "class is not registered", Class: classID}
	}
	if def.Predicate == nil {
		return out, &Error{Code: ErrCodeNoPredicate, Message: "class has no predicate", Class: classID}
	}

	trueSet, err := def.Predicate.CurrentlyTrue(ctx)
	if err != nil {
		return out, predicateError(classID, "evaluate currently true", err)
	}
	openSubjects, err := e.store.OpenSubjects(ctx, classID)
	if err != nil {
		return out, storageError(classID, "", "list open subjects", err)
	}
	openSet := NewSubjectSet(openSubjects...)

	var candidates []string
	for _, subject := range openSubjects {
		if !trueSet.Has(subject) {
			candidates = append(candidates, subject)
		}
	}
	staleSet := SubjectSet{}
	if len(candidates) > 0 {
		staleSet, err = def.Predicate.CurrentlyFalseButWasOpen(ctx, candidates)
		if err != nil {
			return out, predicateError(classID, "evaluate no longer true", err)
		}
	}

	now := e.now()
	log := e.logger.With("class", classID, "run_id", RunIDFrom(ctx))

	for _, subject := range trueSet.Sorted() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if openSet.Has(subject) {
			continue
		}
		if err := e.open(ctx, classID, subject, now, execute, &out); err != nil {
			return out, err
		}
	}

	for _, subject := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !staleSet.Has(subject) {
			log.Debug("open subject not confirmed stale, keeping open", "subject", subject)
			continue
		}
		if _, err := e.close(ctx, classID, subject, now, now, execute, &out); err != nil {
			return out, err
		}
	}

	log.Debug("reconciled",
		"true", len(trueSet),
		"was_open", len(openSubjects),
		"opened", out.Opened,
		"closed", out.Closed,
	)
	return out, nil
}

func (e *Engine) open(ctx context.Context, classID, subject string, now time.Time, execute bool, out *Outcome) error {
	inst, created, err := e.store.OpenInstance(ctx, classID, subject, now)
	if IsDuplicateOpen(err) || (err == nil && !created) {
		e.logger.Debug("subject opened by a concurrent run", "class", classID, "subject", subject)
		return nil
	}
	if err != nil {
		return storageError(classID, subject, "open instance", err)
	}

	out.Opened++
	telemetry.RecordTransition(ctx, classID, telemetry.TransitionOpened)
	e.logger.Info("condition opened", "class", classID, "subject", subject, "instance_id", inst.ID)

	if !execute {
		return nil
	}
	for _, def := range e.registry.ActionsFor(classID, ir.TriggerInitial) {
		if err := e.fire(ctx, inst, def, time.Time{}, now, out); err != nil {
			return err
		}
	}
	return nil
}

// close runs ending actions then marks the open instance ended at endedAt.
// It returns false when the subject had no open instance.
func (e *Engine) close(ctx context.Context, classID, subject string, endedAt, now time.Time, execute bool, out *Outcome) (bool, error) {
	inst, ok, err := e.store.GetOpenInstance(ctx, classID, subject)
	if err != nil {
		return false, storageError(classID, subject, "read open instance", err)
	}
	if !ok {
		e.logger.Debug("subject closed by a concurrent run", "class", classID, "subject", subject)
		return false, nil
	}

	if execute {
		for _, def := range e.registry.ActionsFor(classID, ir.TriggerEnding) {
			if err := e.fire(ctx, inst, def, time.Time{}, now, out); err != nil {
				return false, err
			}
		}
	}

	closed, err := e.store.CloseInstance(ctx, inst.ID, endedAt)
	if err != nil {
		return false, storageError(classID, subject, "close instance", err)
	}
	if !closed {
		return false, nil
	}

	out.Closed++
	telemetry.RecordTransition(ctx, classID, telemetry.TransitionClosed)
	e.logger.Info("condition closed", "class", classID, "subject", subject, "instance_id", inst.ID)
	return true, nil
}

// EndInstance closes the subject's open instance of a class outside the
// predicate, marking it ended at the given time. Ending actions run first
// when execute is true. It returns false when the subject had no open
// instance.
func (e *Engine) EndInstance(ctx context.Context, classID, subject string, endedAt time.Time, execute bool) (bool, Outcome, error) {
	out := newOutcome()
	if _, ok := e.registry.Class(classID); !ok {
		return false, out, &Error{Code: ErrCodeUnknownClass, Message: "class is not registered", Class: classID}
	}
	if endedAt.IsZero() {
		endedAt = e.now()
	}
	closed, err := e.close(ctx, classID, subject, stamp(endedAt), e.now(), execute, &out)
	return closed, out, err
}
