package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
)

// OpenInstance opens an instance of class for subject created at the given
// time. Returns the instance and whether this call created it.
//
// Uses ON CONFLICT DO NOTHING against the partial unique index on open
// instances: when the subject is already open, the existing instance is
// returned with created=false.
func (s *Store) OpenInstance(ctx context.Context, class, subject string, at time.Time) (inst ir.Instance, created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Instance{}, false, fmt.Errorf("open instance: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO conditions (class_id, subject_key, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, class, subject, toNanos(at))
	if err != nil {
		return ir.Instance{}, false, fmt.Errorf("open instance: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ir.Instance{}, false, fmt.Errorf("open instance: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return ir.Instance{}, false, fmt.Errorf("open instance: last insert id: %w", err)
		}
		inst = ir.Instance{ID: id, Class: class, Subject: subject, Created: fromNanos(toNanos(at))}
		created = true
	} else {
		inst, err = getOpen(ctx, tx, class, subject)
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Instance{}, false, engine.NewDuplicateOpenError(class, subject)
		}
		if err != nil {
			return ir.Instance{}, false, fmt.Errorf("open instance: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ir.Instance{}, false, fmt.Errorf("open instance: commit: %w", err)
	}
	return inst, created, nil
}

// CloseInstance marks an open instance ended. Returns false if the instance
// had already ended.
func (s *Store) CloseInstance(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conditions SET ended_at = ?
		WHERE id = ? AND ended_at IS NULL
	`, toNanos(at), id)
	if err != nil {
		return false, fmt.Errorf("close instance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close instance: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetOpenInstance returns the open instance of class for subject, if any.
func (s *Store) GetOpenInstance(ctx context.Context, class, subject string) (ir.Instance, bool, error) {
	inst, err := getOpen(ctx, s.db, class, subject)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Instance{}, false, nil
	}
	if err != nil {
		return ir.Instance{}, false, fmt.Errorf("get open instance: %w", err)
	}
	return inst, true, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getOpen(ctx context.Context, q queryRower, class, subject string) (ir.Instance, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, class_id, subject_key, created_at, ended_at
		FROM conditions
		WHERE class_id = ? AND subject_key = ? AND ended_at IS NULL
	`, class, subject)
	return scanInstance(row)
}

// OpenSubjects returns the subject keys with an open instance of class,
// ordered by key.
func (s *Store) OpenSubjects(ctx context.Context, class string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_key FROM conditions
		WHERE class_id = ? AND ended_at IS NULL
		ORDER BY subject_key ASC
	`, class)
	if err != nil {
		return nil, fmt.Errorf("query open subjects: %w", err)
	}
	defer rows.Close()

	subjects := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan open subject: %w", err)
		}
		subjects = append(subjects, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open subjects: %w", err)
	}
	return subjects, nil
}

// OpenInstances returns the open instances of class ordered by creation.
func (s *Store) OpenInstances(ctx context.Context, class string) ([]ir.Instance, error) {
	return s.queryInstances(ctx, `
		SELECT id, class_id, subject_key, created_at, ended_at
		FROM conditions
		WHERE class_id = ? AND ended_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, class)
}

// Instances returns the history of class, open and ended, ordered by
// creation. An empty subject returns every subject's instances.
func (s *Store) Instances(ctx context.Context, class, subject string) ([]ir.Instance, error) {
	if subject == "" {
		return s.queryInstances(ctx, `
			SELECT id, class_id, subject_key, created_at, ended_at
			FROM conditions
			WHERE class_id = ?
			ORDER BY created_at ASC, id ASC
		`, class)
	}
	return s.queryInstances(ctx, `
		SELECT id, class_id, subject_key, created_at, ended_at
		FROM conditions
		WHERE class_id = ? AND subject_key = ?
		ORDER BY created_at ASC, id ASC
	`, class, subject)
}

// ClassCounts returns open, closed and recorded action counts per class,
// ordered by class id.
func (s *Store) ClassCounts(ctx context.Context) ([]ir.ClassCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.class_id,
		       SUM(CASE WHEN c.ended_at IS NULL THEN 1 ELSE 0 END),
		       SUM(CASE WHEN c.ended_at IS NULL THEN 0 ELSE 1 END),
		       (SELECT COUNT(*) FROM actions a
		          JOIN conditions c2 ON c2.id = a.condition_id
		         WHERE c2.class_id = c.class_id)
		FROM conditions c
		GROUP BY c.class_id
		ORDER BY c.class_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query class counts: %w", err)
	}
	defer rows.Close()

	counts := []ir.ClassCount{}
	for rows.Next() {
		var c ir.ClassCount
		if err := rows.Scan(&c.Class, &c.Open, &c.Closed, &c.Actions); err != nil {
			return nil, fmt.Errorf("scan class count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate class counts: %w", err)
	}
	return counts, nil
}

func (s *Store) queryInstances(ctx context.Context, query string, args ...any) ([]ir.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	instances := []ir.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return instances, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (ir.Instance, error) {
	var (
		inst    ir.Instance
		created int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&inst.ID, &inst.Class, &inst.Subject, &created, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Instance{}, err
		}
		return ir.Instance{}, fmt.Errorf("scan instance: %w", err)
	}
	inst.Created = fromNanos(created)
	if ended.Valid {
		t := fromNanos(ended.Int64)
		inst.Ended = &t
	}
	return inst, nil
}
