package engine

import (
	"context"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// RunDelayed fires every delayed action that has come due on an open
// instance of the class and has not fired for that instance before.
//
// An action is due once its span has elapsed since the instance opened.
// Instances are visited in creation order, actions in declaration order.
func (e *Engine) RunDelayed(ctx context.Context, classID string) (Outcome, error) {
	out := newOutcome()
	defs := e.registry.ActionsFor(classID, ir.TriggerDelayed)
	if len(defs) == 0 {
		return out, nil
	}

	instances, err := e.store.OpenInstances(ctx, classID)
	if err != nil {
		return out, storageError(classID, "", "list open instances", err)
	}

	now := e.now()
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, def := range defs {
			if now.Before(def.Timing.AddTo(inst.Created)) {
				continue
			}
			done, err := e.store.Exists(ctx, inst.ID, def.Trigger, def.Name)
			if err != nil {
				return out, storageError(classID, inst.Subject, "check delayed record", err)
			}
			if done {
				continue
			}
			if err := e.fire(ctx, inst, def, time.Time{}, now, &out); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// RunRecurring fires every recurring action whose interval has elapsed since
// its baseline on an open instance of the class.
//
// The baseline is the latest recorded firing of the action on the instance,
// or the instance's creation when it never fired. A pass fires at most once
// per (instance, action) even when several intervals have elapsed; missed
// intervals are not backfilled.
func (e *Engine) RunRecurring(ctx context.Context, classID string) (Outcome, error) {
	out := newOutcome()
	defs := e.registry.ActionsFor(classID, ir.TriggerRecurring)
	if len(defs) == 0 {
		return out, nil
	}

	instances, err := e.store.OpenInstances(ctx, classID)
	if err != nil {
		return out, storageError(classID, "", "list open instances", err)
	}

	now := e.now()
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, def := range defs {
			baseline := inst.Created
			last, ok, err := e.store.Latest(ctx, inst.ID, def.Trigger, def.Name)
			if err != nil {
				return out, storageError(classID, inst.Subject, "read recurring baseline", err)
			}
			if ok {
				baseline = last
			}
			if now.Before(def.Timing.AddTo(baseline)) {
				continue
			}
			if err := e.fire(ctx, inst, def, stamp(baseline), now, &out); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}
