package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/telemetry"
)

// RunOptions selects what RunAll processes.
type RunOptions struct {
	// Classes limits the run to these class ids. Empty means every
	// registered class.
	Classes []string

	// Execute runs action bodies. When false, lifecycle transitions are
	// still persisted but no action fires and nothing is recorded.
	Execute bool
}

// ClassResult is the outcome of processing one class.
type ClassResult struct {
	Class    string        `json:"class"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether the class aborted or any action failed.
func (r ClassResult) Failed() bool {
	return r.Err != nil || len(r.Outcome.Failures) > 0
}

// Summary reports one processing run across classes.
type Summary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Execute   bool          `json:"execute"`
	Classes   []ClassResult `json:"classes"`
}

// Totals sums the outcomes of every class.
func (s Summary) Totals() Outcome {
	total := newOutcome()
	for _, r := range s.Classes {
		total.merge(r.Outcome)
	}
	return total
}

// Failed reports whether any class aborted or any action failed.
func (s Summary) Failed() bool {
	for _, r := range s.Classes {
		if r.Failed() {
			return true
		}
	}
	return false
}

// ExitCode maps the summary to a process exit status: 0 when every class
// completed and every action succeeded, 1 otherwise.
func (s Summary) ExitCode() int {
	if s.Failed() {
		return 1
	}
	return 0
}

// RunAll processes the selected classes: reconcile, then (when executing)
// the delayed pass, then the recurring pass.
//
// Classes are processed concurrently, bounded by the engine's worker count;
// a failure in one class never stops the others. Results are reported in
// selection order. Unknown class ids fail the whole call before any work.
func (e *Engine) RunAll(ctx context.Context, opts RunOptions) (Summary, error) {
	e.registry.Freeze()

	classes, err := e.selectClasses(opts.Classes)
	if err != nil {
		return Summary{}, err
	}

	runID := e.runIDs.Generate()
	ctx = WithRunID(ctx, runID)
	summary := Summary{
		RunID:     runID,
		StartedAt: e.now(),
		Execute:   opts.Execute,
		Classes:   make([]ClassResult, len(classes)),
	}

	e.logger.Info("run started",
		"run_id", runID,
		"classes", len(classes),
		"execute", opts.Execute,
		"workers", e.workers,
	)

	if e.workers <= 1 {
		// Sequential runs keep firing order stable across classes.
		for i, classID := range classes {
			if err := ctx.Err(); err != nil {
				summary.Classes[i] = ClassResult{Class: classID, Outcome: newOutcome(), Err: err, Error: err.Error()}
				continue
			}
			summary.Classes[i] = e.runClass(ctx, classID, opts.Execute)
		}
		return e.finishRun(summary), nil
	}

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i, classID := range classes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				summary.Classes[i] = ClassResult{Class: classID, Outcome: newOutcome(), Err: ctx.Err(), Error: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()
			summary.Classes[i] = e.runClass(ctx, classID, opts.Execute)
		}()
	}
	wg.Wait()

	return e.finishRun(summary), nil
}

func (e *Engine) finishRun(summary Summary) Summary {
	totals := summary.Totals()
	e.logger.Info("run finished",
		"run_id", summary.RunID,
		"opened", totals.Opened,
		"closed", totals.Closed,
		"executed", executedCount(totals),
		"action_failures", len(totals.Failures),
		"failed", summary.Failed(),
	)
	return summary
}

func (e *Engine) runClass(ctx context.Context, classID string, execute bool) ClassResult {
	start := time.Now()
	result := ClassResult{Class: classID, Outcome: newOutcome()}

	err := e.processClass(ctx, classID, execute, &result.Outcome)
	result.Duration = time.Since(start)
	telemetry.RecordClassRun(ctx, classID, result.Duration, err)

	if err != nil {
		result.Err = err
		result.Error = err.Error()
		e.logger.Error("class failed",
			"run_id", RunIDFrom(ctx),
			"class", classID,
			"error", err,
		)
	}
	return result
}

func (e *Engine) processClass(ctx context.Context, classID string, execute bool, out *Outcome) error {
	reconciled, err := e.Reconcile(ctx, classID, execute)
	out.merge(reconciled)
	if err != nil || !execute {
		return err
	}

	delayed, err := e.RunDelayed(ctx, classID)
	out.merge(delayed)
	if err != nil {
		return err
	}

	recurring, err := e.RunRecurring(ctx, classID)
	out.merge(recurring)
	return err
}

func (e *Engine) selectClasses(requested []string) ([]string, error) {
	if len(requested) == 0 {
		all := e.registry.ClassIDs()
		if len(all) == 0 {
			return nil, fmt.Errorf("no classes registered")
		}
		return all, nil
	}

	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, raw := range requested {
		id, err := ir.CanonicalName(raw)
		if err != nil {
			return nil, &Error{Code: ErrCodeUnknownClass, Message: "invalid class id", Class: raw, Err: err}
		}
		if _, ok := e.registry.Class(id); !ok {
			return nil, &Error{Code: ErrCodeUnknownClass, Message: "class is not registered", Class: id}
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func executedCount(o Outcome) int {
	n := 0
	for _, c := range o.Executed {
		n += c
	}
	return n
}
