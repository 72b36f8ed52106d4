package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/roach88/conditions/internal/actions"
	"github.com/roach88/conditions/internal/compiler"
	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/predicate"
	"github.com/roach88/conditions/internal/store"
	"github.com/roach88/conditions/internal/testutil"
)

// TimeLayout formats every instant in a trace.
const TimeLayout = time.RFC3339

// errSimulated is returned by the traced handler of a failing action.
var errSimulated = errors.New("simulated failure")

// Harness is the test execution engine.
// It runs one scenario against a fresh store, a manual clock and an
// in-memory subject population.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *testutil.ManualClock
	classes []string
	failing map[string]bool

	// tables holds the population by table; gateways mirrors it per class.
	tables   map[string]map[string]ir.Row
	gateways map[string][]*predicate.MemoryGateway

	mu     sync.Mutex
	step   int
	seq    int64
	result *Result
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// An error is returned when the scenario cannot be executed at all (bad
// classes, unknown class in a step); failing assertions are reported in
// the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	loaded, errs := compiler.LoadDir(scenario.Classes)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load classes: %w", errors.Join(errs...))
	}

	h := &Harness{
		store:    st,
		clock:    testutil.NewManualClock(scenario.Start),
		failing:  make(map[string]bool, len(scenario.Failing)),
		tables:   make(map[string]map[string]ir.Row),
		gateways: make(map[string][]*predicate.MemoryGateway),
		result:   NewResult(),
	}
	for _, name := range scenario.Failing {
		h.failing[name] = true
	}
	for table, rows := range scenario.Subjects {
		h.tables[table] = make(map[string]ir.Row, len(rows))
		for key, raw := range rows {
			row, err := toRow(raw)
			if err != nil {
				return nil, fmt.Errorf("subjects.%s.%s: %w", table, key, err)
			}
			h.tables[table][key] = row
		}
	}

	binder := actions.Binder{
		Gateways: h.gateway,
		Handler:  h.handler,
	}
	reg := engine.NewRegistry()
	if err := binder.Register(reg, loaded.Classes); err != nil {
		return nil, fmt.Errorf("failed to register classes: %w", err)
	}
	h.classes = reg.ClassIDs()

	h.engine = engine.New(st, reg,
		engine.WithClock(h.clock),
		engine.WithRunIDGenerator(testutil.NewSequentialRunIDs("run")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithWorkers(1),
	)

	for i, step := range scenario.Steps {
		h.step = i
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, class := range h.classes {
		open, err := st.OpenSubjects(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("failed to read open subjects: %w", err)
		}
		h.result.Open[class] = open
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// gateway builds the in-memory population for one class, seeded from its
// subjects table.
func (h *Harness) gateway(spec compiler.ClassSpec) (engine.PredicateGateway, error) {
	gw, err := predicate.NewMemoryGateway(spec.When, h.clock)
	if err != nil {
		return nil, err
	}
	for key, row := range h.tables[spec.Subjects] {
		gw.Set(key, row)
	}
	h.gateways[spec.Subjects] = append(h.gateways[spec.Subjects], gw)
	return gw, nil
}

// handler replaces every declared action with one that records a fired
// event.
func (h *Harness) handler(class string, spec compiler.ActionSpec) engine.ActionFunc {
	return func(ctx context.Context, inv engine.Invocation) error {
		ev := TraceEvent{
			Type:    EventFired,
			At:      inv.At.UTC().Format(TimeLayout),
			Class:   class,
			Subject: inv.Subject,
			Trigger: string(inv.Trigger),
			Action:  inv.Action,
		}
		if !inv.Basis.IsZero() {
			ev.Basis = inv.Basis.UTC().Format(TimeLayout)
		}
		var err error
		if h.failing[spec.Name] {
			err = errSimulated
			ev.Error = err.Error()
		}
		h.emit(ev)
		return err
	}
}

func (h *Harness) emit(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev.Seq = h.seq
	ev.Step = h.step
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Advance != "":
		span, err := ir.ParseSpan(step.Advance)
		if err != nil {
			return err
		}
		h.clock.AdvanceSpan(span)

	case step.Set != nil:
		row, err := toRow(step.Set.Row)
		if err != nil {
			return err
		}
		h.setRow(step.Set.Table, step.Set.Key, row)

	case step.Delete != nil:
		delete(h.tables[step.Delete.Table], step.Delete.Key)
		for _, gw := range h.gateways[step.Delete.Table] {
			gw.Delete(step.Delete.Key)
		}

	case step.End != nil:
		class, err := ir.CanonicalName(step.End.Class)
		if err != nil {
			return err
		}
		_, out, err := h.engine.EndInstance(ctx, class, step.End.Subject, h.clock.Now(), true)
		if err != nil {
			return err
		}
		h.emit(TraceEvent{
			Type:    EventEnd,
			At:      h.clock.Now().Format(TimeLayout),
			Class:   class,
			Subject: step.End.Subject,
			Closed:  out.Closed,
		})

	case step.Run != nil:
		summary, err := h.engine.RunAll(ctx, engine.RunOptions{
			Classes: step.Run.Classes,
			Execute: step.Run.ShouldExecute(),
		})
		if err != nil {
			return err
		}
		for _, r := range summary.Classes {
			open, err := h.store.OpenSubjects(ctx, r.Class)
			if err != nil {
				return fmt.Errorf("read open subjects: %w", err)
			}
			h.emit(TraceEvent{
				Type:   EventRun,
				At:     h.clock.Now().Format(TimeLayout),
				Class:  r.Class,
				Opened: r.Outcome.Opened,
				Closed: r.Outcome.Closed,
				Open:   open,
				Error:  r.Error,
			})
		}
	}
	return nil
}

// setRow merges fields into a subject's row, creating it when absent.
func (h *Harness) setRow(table, key string, fields ir.Row) {
	rows, ok := h.tables[table]
	if !ok {
		rows = make(map[string]ir.Row)
		h.tables[table] = rows
	}
	merged := make(ir.Row, len(rows[key])+len(fields))
	maps.Copy(merged, rows[key])
	maps.Copy(merged, fields)
	rows[key] = merged
	for _, gw := range h.gateways[table] {
		gw.Set(key, merged)
	}
}
