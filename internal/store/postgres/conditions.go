package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
)

const instanceColumns = `id, class_id, subject_key, created_at, ended_at`

// OpenInstance opens an instance of class for subject. When the subject is
// already open, the existing instance is returned with created=false.
func (s *Store) OpenInstance(ctx context.Context, class, subject string, at time.Time) (ir.Instance, bool, error) {
	at = utc(at)

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conditions (class_id, subject_key, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, class, subject, at).Scan(&id)
	if err == nil {
		return ir.Instance{ID: id, Class: class, Subject: subject, Created: at}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ir.Instance{}, false, fmt.Errorf("open instance %s/%s: %w", class, subject, err)
	}

	inst, ok, err := s.GetOpenInstance(ctx, class, subject)
	if err != nil {
		return ir.Instance{}, false, err
	}
	if !ok {
		return ir.Instance{}, false, engine.NewDuplicateOpenError(class, subject)
	}
	return inst, false, nil
}

// CloseInstance marks an open instance ended. Returns false if it had
// already ended.
func (s *Store) CloseInstance(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conditions SET ended_at = $1
		WHERE id = $2 AND ended_at IS NULL
	`, utc(at), id)
	if err != nil {
		return false, fmt.Errorf("close instance %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close instance %d: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// GetOpenInstance returns the open instance of class for subject, if any.
func (s *Store) GetOpenInstance(ctx context.Context, class, subject string) (ir.Instance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM conditions
		WHERE class_id = $1 AND subject_key = $2 AND ended_at IS NULL
	`, class, subject)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Instance{}, false, nil
	}
	if err != nil {
		return ir.Instance{}, false, fmt.Errorf("get open instance %s/%s: %w", class, subject, err)
	}
	return inst, true, nil
}

// OpenSubjects returns the subject keys with an open instance of class,
// ordered by key.
func (s *Store) OpenSubjects(ctx context.Context, class string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_key FROM conditions
		WHERE class_id = $1 AND ended_at IS NULL
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
	return subjects, rows.Err()
}

// OpenInstances returns the open instances of class ordered by creation.
func (s *Store) OpenInstances(ctx context.Context, class string) ([]ir.Instance, error) {
	return s.queryInstances(ctx, `
		SELECT `+instanceColumns+`
		FROM conditions
		WHERE class_id = $1 AND ended_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, class)
}

// Instances returns the history of class ordered by creation. An empty
// subject returns every subject's instances.
func (s *Store) Instances(ctx context.Context, class, subject string) ([]ir.Instance, error) {
	return s.queryInstances(ctx, `
		SELECT `+instanceColumns+`
		FROM conditions
		WHERE class_id = $1 AND ($2 = '' OR subject_key = $2)
		ORDER BY created_at ASC, id ASC
	`, class, subject)
}

// ClassCounts returns open, closed and recorded action counts per class.
func (s *Store) ClassCounts(ctx context.Context) ([]ir.ClassCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.class_id,
		       COUNT(*) FILTER (WHERE c.ended_at IS NULL),
		       COUNT(*) FILTER (WHERE c.ended_at IS NOT NULL),
		       COALESCE(SUM(a.n), 0)
		FROM conditions c
		LEFT JOIN (
			SELECT condition_id, COUNT(*) AS n FROM actions GROUP BY condition_id
		) a ON a.condition_id = c.id
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
	return counts, rows.Err()
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
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (ir.Instance, error) {
	var (
		inst  ir.Instance
		ended sql.NullTime
	)
	if err := row.Scan(&inst.ID, &inst.Class, &inst.Subject, &inst.Created, &ended); err != nil {
		return ir.Instance{}, err
	}
	inst.Created = utc(inst.Created)
	if ended.Valid {
		t := utc(ended.Time)
		inst.Ended = &t
	}
	return inst, nil
}
