package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// Record appends an action firing. Returns the existing id and
// inserted=false when the firing was already recorded.
func (s *Store) Record(ctx context.Context, rec ir.ActionRecord) (int64, bool, error) {
	if !rec.Trigger.Valid() {
		return 0, false, fmt.Errorf("record action: unknown trigger %q", rec.Trigger)
	}
	code := rec.Trigger.Code()
	basis := utc(rec.Basis)

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO actions (condition_id, trigger_code, name, basis, executed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (condition_id, trigger_code, name, basis) DO NOTHING
		RETURNING id
	`, rec.InstanceID, code, rec.Name, basis, utc(rec.ExecutedAt)).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("record action: insert: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM actions
		WHERE condition_id = $1 AND trigger_code = $2 AND name = $3 AND basis = $4
	`, rec.InstanceID, code, rec.Name, basis).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("record action: select existing: %w", err)
	}
	return id, false, nil
}

// Exists reports whether the action has any recorded firing for the instance.
func (s *Store) Exists(ctx context.Context, instanceID int64, trigger ir.Trigger, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM actions
			WHERE condition_id = $1 AND trigger_code = $2 AND name = $3
		)
	`, instanceID, trigger.Code(), name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check action record: %w", err)
	}
	return exists, nil
}

// Latest returns the most recent execution time of the action for the
// instance.
func (s *Store) Latest(ctx context.Context, instanceID int64, trigger ir.Trigger, name string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(executed_at) FROM actions
		WHERE condition_id = $1 AND trigger_code = $2 AND name = $3
	`, instanceID, trigger.Code(), name).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest action record: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return utc(latest.Time), true, nil
}

// Records returns the ledger of one instance ordered by execution time.
func (s *Store) Records(ctx context.Context, instanceID int64) ([]ir.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, condition_id, trigger_code, name, basis, executed_at
		FROM actions
		WHERE condition_id = $1
		ORDER BY executed_at ASC, id ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query action records: %w", err)
	}
	defer rows.Close()

	records := []ir.ActionRecord{}
	for rows.Next() {
		var (
			rec  ir.ActionRecord
			code string
		)
		if err := rows.Scan(&rec.ID, &rec.InstanceID, &code, &rec.Name, &rec.Basis, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan action record: %w", err)
		}
		trigger, err := ir.ParseTrigger(code)
		if err != nil {
			return nil, fmt.Errorf("scan action record %d: %w", rec.ID, err)
		}
		rec.Trigger = trigger
		rec.Basis = utc(rec.Basis)
		rec.ExecutedAt = utc(rec.ExecutedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
