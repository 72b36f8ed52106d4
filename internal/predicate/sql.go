package predicate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/queryir"
	"github.com/roach88/conditions/internal/querysql"
)

// maxKeysPerQuery bounds the IN list of a re-check query; SQLite limits
// bound parameters per statement.
const maxKeysPerQuery = 500

// Source names the table holding a class's subject population and the
// column that identifies a subject.
type Source struct {
	Table string
	Key   string
}

// SQLGateway evaluates a predicate against a subjects table.
//
// Each read binds the engine clock's time at the moment it runs for
// CompareNow predicates, so the two reads of one reconcile pass may see
// different times. Reconcile only re-checks subjects missing from the true
// set, which keeps a subject from opening and closing in the same pass.
type SQLGateway struct {
	db      *sql.DB
	dialect querysql.Dialect
	source  Source
	where   queryir.Predicate
	clock   engine.Clock
}

var _ engine.PredicateGateway = (*SQLGateway)(nil)

// NewSQLGateway validates the predicate and source and returns a gateway.
// A nil predicate matches every row.
func NewSQLGateway(db *sql.DB, dialect querysql.Dialect, source Source, where queryir.Predicate, clock engine.Clock) (*SQLGateway, error) {
	if db == nil {
		return nil, fmt.Errorf("sql gateway: nil database")
	}
	if !ir.ValidIdentifier(source.Table) || !ir.ValidIdentifier(source.Key) {
		return nil, fmt.Errorf("sql gateway: invalid source %s.%s", source.Table, source.Key)
	}
	if where != nil {
		if err := queryir.Check(where); err != nil {
			return nil, fmt.Errorf("sql gateway: %w", err)
		}
	}
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &SQLGateway{db: db, dialect: dialect, source: source, where: where, clock: clock}, nil
}

// CurrentlyTrue returns every subject key whose row satisfies the predicate.
func (g *SQLGateway) CurrentlyTrue(ctx context.Context) (engine.SubjectSet, error) {
	compiler := querysql.NewSQLCompiler(g.dialect, g.clock.Now())
	query, args, err := compiler.SelectMatching(g.source.Table, g.source.Key, g.where)
	if err != nil {
		return nil, err
	}
	keys, err := g.queryKeys(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("currently true: %w", err)
	}
	return engine.NewSubjectSet(keys...), nil
}

// CurrentlyFalseButWasOpen re-checks only the given open subjects and returns
// those that no longer match, including subjects whose row is gone.
func (g *SQLGateway) CurrentlyFalseButWasOpen(ctx context.Context, open []string) (engine.SubjectSet, error) {
	stale := engine.NewSubjectSet(open...)
	now := g.clock.Now()

	for start := 0; start < len(open); start += maxKeysPerQuery {
		end := min(start+maxKeysPerQuery, len(open))

		compiler := querysql.NewSQLCompiler(g.dialect, now)
		query, args, err := compiler.SelectMatchingAmong(g.source.Table, g.source.Key, g.where, open[start:end])
		if err != nil {
			return nil, err
		}
		stillTrue, err := g.queryKeys(ctx, query, args)
		if err != nil {
			return nil, fmt.Errorf("currently false: %w", err)
		}
		for _, k := range stillTrue {
			delete(stale, k)
		}
	}
	return stale, nil
}

func (g *SQLGateway) queryKeys(ctx context.Context, query string, args []any) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan subject key: %w", err)
		}
		if key.Valid {
			keys = append(keys, key.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subject keys: %w", err)
	}
	return keys, nil
}
