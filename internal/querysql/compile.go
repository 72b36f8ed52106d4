// Package querysql compiles predicate IR into parameterized SQL.
package querysql

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/queryir"
)

// Dialect selects placeholder and array syntax.
type Dialect string

const (
	// SQLite uses ? placeholders and expands key sets into IN lists.
	SQLite Dialect = "sqlite"

	// Postgres uses $n placeholders and binds key sets as a text[] array.
	Postgres Dialect = "postgres"
)

// SQLCompiler compiles predicates to parameterized SQL.
//
// CRITICAL: Values are NEVER interpolated - always placeholders.
// CRITICAL: Identifiers are validated and quoted, never taken verbatim.
// CRITICAL: Every query has an ORDER BY on the key column so that subjects
// are visited in the same order on every run.
type SQLCompiler struct {
	Dialect Dialect

	// Now is bound for CompareNow predicates.
	Now time.Time

	params []any
}

// NewSQLCompiler creates a compiler for the dialect, binding now for
// CompareNow predicates.
func NewSQLCompiler(d Dialect, now time.Time) *SQLCompiler {
	return &SQLCompiler{Dialect: d, Now: now}
}

// Where compiles a predicate to a boolean SQL expression and its parameters.
// A nil predicate compiles to an always-true expression.
func (c *SQLCompiler) Where(p queryir.Predicate) (string, []any, error) {
	c.params = nil
	sql, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, err
	}
	return sql, c.params, nil
}

// SelectMatching compiles the query returning every key of table whose row
// satisfies p.
//
//	SELECT "id" FROM "invoices" WHERE (<p>) ORDER BY "id" ASC
func (c *SQLCompiler) SelectMatching(table, key string, p queryir.Predicate) (string, []any, error) {
	if err := checkIdentifiers(table, key); err != nil {
		return "", nil, err
	}
	c.params = nil

	where, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, fmt.Errorf("compile predicate: %w", err)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE (%s) ORDER BY %s ASC",
		quote(key), quote(table), where, quote(key))
	return sql, c.params, nil
}

// SelectMatchingAmong restricts SelectMatching to the given keys. Used to
// re-check only the subjects that currently have an open condition.
//
//	SELECT "id" FROM "invoices" WHERE "id" IN (?, ?) AND (<p>) ORDER BY "id" ASC
func (c *SQLCompiler) SelectMatchingAmong(table, key string, p queryir.Predicate, keys []string) (string, []any, error) {
	if err := checkIdentifiers(table, key); err != nil {
		return "", nil, err
	}
	if len(keys) == 0 {
		return "", nil, fmt.Errorf("empty key set")
	}
	c.params = nil

	var membership string
	switch c.Dialect {
	case Postgres:
		membership = fmt.Sprintf("CAST(%s AS TEXT) = ANY(%s)", quote(key), c.bind(pq.Array(keys)))
	default:
		holders := make([]string, len(keys))
		for i, k := range keys {
			holders[i] = c.bind(k)
		}
		membership = fmt.Sprintf("%s IN (%s)", quote(key), strings.Join(holders, ", "))
	}

	where, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, fmt.Errorf("compile predicate: %w", err)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s AND (%s) ORDER BY %s ASC",
		quote(key), quote(table), membership, where, quote(key))
	return sql, c.params, nil
}

// bind records a parameter and returns its placeholder.
func (c *SQLCompiler) bind(v any) string {
	c.params = append(c.params, v)
	if c.Dialect == Postgres {
		return fmt.Sprintf("$%d", len(c.params))
	}
	return "?"
}

// compilePredicate compiles a predicate to a SQL boolean expression.
// CRITICAL: Values NEVER interpolated - always placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil // Always true
	case queryir.Compare:
		return c.compileCompare(pred.Field, pred.Op, pred.Value)
	case queryir.CompareNow:
		v, err := pred.Layout.Value(c.Now)
		if err != nil {
			return "", err
		}
		return c.compileCompare(pred.Field, pred.Op, v)
	case queryir.IsNull:
		if !ir.ValidIdentifier(pred.Field) {
			return "", fmt.Errorf("invalid field name %q", pred.Field)
		}
		return quote(pred.Field) + " IS NULL", nil
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case queryir.Not:
		if pred.Predicate == nil {
			return "", fmt.Errorf("not: nil predicate")
		}
		inner, err := c.compilePredicate(pred.Predicate)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case queryir.Raw:
		if strings.TrimSpace(pred.SQL) == "" {
			return "", fmt.Errorf("empty raw SQL fragment")
		}
		return "(" + pred.SQL + ")", nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileCompare compiles "field <op> ?".
func (c *SQLCompiler) compileCompare(field string, op queryir.Op, value ir.IRValue) (string, error) {
	if !ir.ValidIdentifier(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	if !op.Valid() {
		return "", fmt.Errorf("unknown operator %q", op)
	}
	if ir.IsNull(value) {
		// NULL comparisons are unknown in SQL; keep that explicit.
		return "NULL", nil
	}

	sqlOp := string(op)
	if op == queryir.OpNe {
		sqlOp = "<>"
	}
	return fmt.Sprintf("%s %s %s", quote(field), sqlOp, c.bind(ir.ToDriver(value))), nil
}

// compileJunction joins sub-predicates, using empty for an empty list.
func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(preds))
	for _, sub := range preds {
		sql, err := c.compilePredicate(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func checkIdentifiers(names ...string) error {
	for _, n := range names {
		if !ir.ValidIdentifier(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

// quote double-quotes an identifier that has already passed ValidIdentifier.
func quote(name string) string {
	return `"` + name + `"`
}
