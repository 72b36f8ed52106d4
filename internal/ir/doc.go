// Package ir provides the shared value types of the condition engine.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float literals anywhere - predicate values are int64, string or bool
//   - Action names and class ids are canonical (NFC) before they reach storage,
//     because the ledger is keyed by them
//   - All timestamps are UTC
//   - All JSON tags use snake_case
package ir
