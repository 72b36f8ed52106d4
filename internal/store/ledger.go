package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// Record appends an action firing to the ledger.
// Returns the ID and whether a new record was inserted.
//
// Uses ON CONFLICT(condition_id, trigger_code, name, basis) DO NOTHING: if
// the firing already exists, returns the existing ID and inserted=false.
// The caller must not run the action body in that case.
func (s *Store) Record(ctx context.Context, rec ir.ActionRecord) (id int64, inserted bool, err error) {
	if !rec.Trigger.Valid() {
		return 0, false, fmt.Errorf("record action: unknown trigger %q", rec.Trigger)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("record action: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO actions
		(condition_id, trigger_code, name, basis, executed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(condition_id, trigger_code, name, basis) DO NOTHING
	`,
		rec.InstanceID,
		rec.Trigger.Code(),
		rec.Name,
		toNanos(rec.Basis),
		toNanos(rec.ExecutedAt),
	)
	if err != nil {
		return 0, false, fmt.Errorf("record action: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("record action: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("record action: last insert id: %w", err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM actions
			WHERE condition_id = ? AND trigger_code = ? AND name = ? AND basis = ?
		`, rec.InstanceID, rec.Trigger.Code(), rec.Name, toNanos(rec.Basis)).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("record action: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("record action: commit: %w", err)
	}
	return id, inserted, nil
}

// Exists reports whether the action has any recorded firing for the instance.
func (s *Store) Exists(ctx context.Context, instanceID int64, trigger ir.Trigger, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM actions
		WHERE condition_id = ? AND trigger_code = ? AND name = ?
	`, instanceID, trigger.Code(), name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check action record: %w", err)
	}
	return count > 0, nil
}

// Latest returns the most recent execution time of the action for the
// instance. ok is false when the action never fired.
func (s *Store) Latest(ctx context.Context, instanceID int64, trigger ir.Trigger, name string) (time.Time, bool, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(executed_at) FROM actions
		WHERE condition_id = ? AND trigger_code = ? AND name = ?
	`, instanceID, trigger.Code(), name).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest action record: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(latest.Int64), true, nil
}

// Records returns the ledger of one instance ordered by execution time.
func (s *Store) Records(ctx context.Context, instanceID int64) ([]ir.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, condition_id, trigger_code, name, basis, executed_at
		FROM actions
		WHERE condition_id = ?
		ORDER BY executed_at ASC, id ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query action records: %w", err)
	}
	defer rows.Close()

	records := []ir.ActionRecord{}
	for rows.Next() {
		var (
			rec             ir.ActionRecord
			code            string
			basis, executed int64
		)
		if err := rows.Scan(&rec.ID, &rec.InstanceID, &code, &rec.Name, &basis, &executed); err != nil {
			return nil, fmt.Errorf("scan action record: %w", err)
		}
		trigger, err := ir.ParseTrigger(code)
		if err != nil {
			return nil, fmt.Errorf("scan action record %d: %w", rec.ID, err)
		}
		rec.Trigger = trigger
		rec.Basis = fromNanos(basis)
		rec.ExecutedAt = fromNanos(executed)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action records: %w", err)
	}
	return records, nil
}
