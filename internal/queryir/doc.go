// Package queryir provides the predicate intermediate representation used by
// condition classes.
//
// A condition class declares when it holds for a subject as a Predicate over
// the subject's columns. The same Predicate is executed two ways:
//
//	[CUE when-clause] → [Predicate IR] → [SQL backend]      (querysql)
//	                                   → [in-memory rows]  (Eval)
//
// Both backends use SQL three-valued logic: a comparison involving NULL is
// unknown, NOT unknown is unknown, and only predicates that evaluate to true
// select a subject. This keeps an in-memory population and a database table
// classifying the same rows the same way.
//
// PORTABLE FRAGMENT:
//
// Compare, CompareNow, IsNull, And, Or and Not are portable: every backend
// implements them. Raw carries a backend-specific SQL fragment; it works
// with the SQL backend only and Validate reports it as a warning.
//
// SEALED INTERFACE:
//
// Predicate is sealed using the marker method pattern so backends can use
// exhaustive type switches.
//
// Values are ir.IRValue literals (no floats).
package queryir
