// Package postgres implements the condition store and execution ledger on
// PostgreSQL.
//
// The relations mirror the SQLite store: a partial unique index keeps one
// open instance per (class, subject) and the ledger is unique on
// (condition_id, trigger_code, name, basis). Writes use INSERT ... ON
// CONFLICT DO NOTHING RETURNING id, falling back to a select when the row
// already existed.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/roach88/conditions/internal/engine"
)

// Store provides PostgreSQL-backed condition storage.
type Store struct {
	db *sql.DB
}

var _ engine.Store = (*Store)(nil)

// Open connects to databaseURL, verifies the connection and runs pending
// migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an existing connection without migrating it.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
