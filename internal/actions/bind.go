package actions

import (
	"database/sql"
	"fmt"

	"github.com/roach88/conditions/internal/compiler"
	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/predicate"
	"github.com/roach88/conditions/internal/querysql"
)

// GatewayFactory builds the predicate gateway for a class with a when clause.
type GatewayFactory func(spec compiler.ClassSpec) (engine.PredicateGateway, error)

// SQLGateways returns a factory that evaluates each class's predicate
// against its subjects table in db.
func SQLGateways(db *sql.DB, dialect querysql.Dialect, clock engine.Clock) GatewayFactory {
	return func(spec compiler.ClassSpec) (engine.PredicateGateway, error) {
		return predicate.NewSQLGateway(db, dialect, predicate.Source{Table: spec.Subjects, Key: spec.Key}, spec.When, clock)
	}
}

// Binder builds engine classes from compiled declarations.
type Binder struct {
	Env      Env
	Gateways GatewayFactory

	// Handler, when set, replaces the kind-based handler of every action.
	Handler func(class string, spec compiler.ActionSpec) engine.ActionFunc
}

// Bind converts one declaration.
//
// A class without a when clause binds with a nil predicate, so processing
// it fails with NO_PREDICATE while the other classes still run.
func (b Binder) Bind(spec compiler.ClassSpec) (engine.ClassDef, error) {
	def := engine.ClassDef{ID: spec.ID}

	if spec.When != nil {
		if b.Gateways == nil {
			return def, fmt.Errorf("class %s: no gateway factory", spec.ID)
		}
		gw, err := b.Gateways(spec)
		if err != nil {
			return def, fmt.Errorf("class %s: %w", spec.ID, err)
		}
		def.Predicate = gw
	}

	for _, a := range spec.Actions {
		var fn engine.ActionFunc
		if b.Handler != nil {
			fn = b.Handler(spec.ID, a)
		} else {
			var err error
			fn, err = Handler(a, b.Env)
			if err != nil {
				return def, fmt.Errorf("class %s: %w", spec.ID, err)
			}
		}
		def.Actions = append(def.Actions, engine.ActionDefinition{
			Name:    a.Name,
			Trigger: a.Trigger,
			Timing:  a.Timing,
			Invoke:  fn,
		})
	}
	return def, nil
}

// Register binds every declaration and adds it to reg, stopping at the
// first failure.
func (b Binder) Register(reg *engine.Registry, specs []compiler.ClassSpec) error {
	for _, spec := range specs {
		def, err := b.Bind(spec)
		if err != nil {
			return err
		}
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
