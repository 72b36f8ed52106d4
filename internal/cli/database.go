package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/config"
	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/querysql"
	"github.com/roach88/conditions/internal/store"
	"github.com/roach88/conditions/internal/store/postgres"
)

// conditionStore is what the commands need from either backend.
type conditionStore interface {
	engine.Store
	ClassCounts(ctx context.Context) ([]ir.ClassCount, error)
	DB() *sql.DB
	Close() error
}

var (
	_ conditionStore = (*store.Store)(nil)
	_ conditionStore = (*postgres.Store)(nil)
)

// openStore opens the condition store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.Config) (conditionStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		st, err := store.Open(cfg.DB)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// subjectsDB is the database class predicates and sql actions query.
type subjectsDB struct {
	DB      *sql.DB
	Dialect querysql.Dialect
	owned   bool
}

// Close closes the connection unless it is shared with the store.
func (s subjectsDB) Close() error {
	if !s.owned {
		return nil
	}
	return s.DB.Close()
}

// openSubjects reuses the store connection when the subject tables live in
// the same database, and opens a second connection otherwise.
func openSubjects(ctx context.Context, cfg config.Config, st conditionStore) (subjectsDB, error) {
	dialect := querysql.SQLite
	driverName := "sqlite3"
	if cfg.Driver == config.DriverPostgres {
		dialect = querysql.Postgres
		driverName = "postgres"
	}

	if cfg.SubjectsDB == "" || cfg.SubjectsDB == cfg.DB {
		return subjectsDB{DB: st.DB(), Dialect: dialect}, nil
	}

	db, err := sql.Open(driverName, cfg.SubjectsDB)
	if err != nil {
		return subjectsDB{}, fmt.Errorf("open subjects database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return subjectsDB{}, fmt.Errorf("ping subjects database: %w", err)
	}
	return subjectsDB{DB: db, Dialect: dialect, owned: true}, nil
}
