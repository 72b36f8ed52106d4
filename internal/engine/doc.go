// Package engine implements the condition lifecycle and action scheduling.
//
// A condition class pairs a predicate over a subject population with a set
// of actions. Each run of the engine does, per class:
//
//  1. Reconcile: open an instance for every subject that newly satisfies the
//     predicate, close the open instances whose subject no longer does.
//  2. Delayed pass: fire delayed actions whose span has elapsed since the
//     instance opened.
//  3. Recurring pass: fire recurring actions whose interval has elapsed
//     since their previous firing.
//
// EXECUTION LEDGER:
//
// Every firing is recorded before the action body runs. The ledger is keyed
// by (instance, trigger, action, basis) and Record is idempotent, so two
// overlapping runs cannot both fire the same initial, delayed or ending
// action, nor the same recurring interval. A failing body is reported and
// stays recorded; it is not retried.
//
// CONCURRENCY:
//
// Classes are independent and run on a bounded set of workers. Subjects
// within a class are handled sequentially in ascending key order, which
// keeps logs and test output deterministic.
package engine
