// Package predicate provides the engine's predicate gateways: the pieces
// that answer which subjects currently satisfy a class's condition.
//
//   - SQLGateway runs a compiled predicate against a table in a subjects
//     database (SQLite or Postgres)
//   - MemoryGateway evaluates the same predicate over in-memory rows; the
//     scenario harness drives it
//   - FuncGateway adapts plain functions, for classes declared in Go
package predicate
