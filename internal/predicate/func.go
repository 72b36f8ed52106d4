package predicate

import (
	"context"
	"fmt"

	"github.com/roach88/conditions/internal/engine"
)

// FuncGateway adapts plain functions to engine.PredicateGateway.
//
// StillTrue is optional: when nil, the open subjects are checked against a
// fresh call to True.
type FuncGateway struct {
	True      func(ctx context.Context) ([]string, error)
	StillTrue func(ctx context.Context, open []string) ([]string, error)
}

var _ engine.PredicateGateway = FuncGateway{}

// CurrentlyTrue calls True.
func (g FuncGateway) CurrentlyTrue(ctx context.Context) (engine.SubjectSet, error) {
	if g.True == nil {
		return nil, fmt.Errorf("func gateway: True is nil")
	}
	keys, err := g.True(ctx)
	if err != nil {
		return nil, err
	}
	return engine.NewSubjectSet(keys...), nil
}

// CurrentlyFalseButWasOpen returns the open subjects not reported as still
// true.
func (g FuncGateway) CurrentlyFalseButWasOpen(ctx context.Context, open []string) (engine.SubjectSet, error) {
	var (
		still []string
		err   error
	)
	switch {
	case g.StillTrue != nil:
		still, err = g.StillTrue(ctx, open)
	case g.True != nil:
		still, err = g.True(ctx)
	default:
		return nil, fmt.Errorf("func gateway: True is nil")
	}
	if err != nil {
		return nil, err
	}

	keep := engine.NewSubjectSet(still...)
	out := engine.SubjectSet{}
	for _, key := range open {
		if !keep.Has(key) {
			out[key] = struct{}{}
		}
	}
	return out, nil
}
