package predicate

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/queryir"
)

// MemoryGateway evaluates a predicate over an in-memory subject population.
//
// Thread-safety: Rows may be changed with Set and Delete while runs are in
// flight; each read evaluates a consistent snapshot.
type MemoryGateway struct {
	mu    sync.RWMutex
	rows  map[string]ir.Row
	where queryir.Predicate
	clock engine.Clock
}

var _ engine.PredicateGateway = (*MemoryGateway)(nil)

// NewMemoryGateway validates the predicate and returns an empty gateway.
// A nil predicate matches every row. Raw SQL fragments are rejected.
func NewMemoryGateway(where queryir.Predicate, clock engine.Clock) (*MemoryGateway, error) {
	if where != nil {
		if err := queryir.Check(where); err != nil {
			return nil, fmt.Errorf("memory gateway: %w", err)
		}
	}
	if queryir.HasRaw(where) {
		return nil, fmt.Errorf("memory gateway: raw SQL fragments need a database")
	}
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &MemoryGateway{rows: make(map[string]ir.Row), where: where, clock: clock}, nil
}

// Set inserts or replaces a subject's row.
func (g *MemoryGateway) Set(key string, row ir.Row) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows[key] = row
}

// Delete removes a subject from the population.
func (g *MemoryGateway) Delete(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rows, key)
}

// Row returns a subject's row.
func (g *MemoryGateway) Row(key string) (ir.Row, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row, ok := g.rows[key]
	return row, ok
}

// CurrentlyTrue returns every subject whose row satisfies the predicate.
func (g *MemoryGateway) CurrentlyTrue(ctx context.Context) (engine.SubjectSet, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.clock.Now()
	out := engine.SubjectSet{}
	for key, row := range g.rows {
		ok, err := queryir.Eval(g.where, row, now)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", key, err)
		}
		if ok {
			out[key] = struct{}{}
		}
	}
	return out, nil
}

// CurrentlyFalseButWasOpen returns the open subjects whose row no longer
// satisfies the predicate or no longer exists.
func (g *MemoryGateway) CurrentlyFalseButWasOpen(ctx context.Context, open []string) (engine.SubjectSet, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.clock.Now()
	out := engine.SubjectSet{}
	for _, key := range open {
		row, exists := g.rows[key]
		if !exists {
			out[key] = struct{}{}
			continue
		}
		ok, err := queryir.Eval(g.where, row, now)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", key, err)
		}
		if !ok {
			out[key] = struct{}{}
		}
	}
	return out, nil
}
