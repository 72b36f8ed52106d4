// Package store provides SQLite-backed storage for condition instances and
// the execution ledger.
//
// Two relations:
//   - conditions: one row per instance; a partial UNIQUE index on
//     (class_id, subject_key) WHERE ended_at IS NULL keeps at most one open
//     instance per subject
//   - actions: append-only firings, UNIQUE(condition_id, trigger_code,
//     name, basis)
//
// Writes are insert-or-select with ON CONFLICT DO NOTHING so concurrent runs
// converge instead of failing. Reads order by (created_at|executed_at, id)
// and return empty slices, never nil.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as UTC unix nanoseconds; the zero time is 0.
package store
