// Package harness runs condition classes through scripted timelines.
//
// A scenario loads a directory of CUE class declarations, seeds an
// in-memory subject population, and then walks a list of steps against a
// manual clock: advancing time, changing subject rows and running the
// engine. Actions are replaced by a tracing handler, so a scenario observes
// exactly which actions fired, for which subject, at what time.
//
// # Scenario Format
//
//	name: overdue_invoice
//	description: "Reminders stop once the invoice is paid"
//	classes: classes            # relative to the scenario file
//	start: 2024-03-01T09:00:00Z
//	subjects:
//	  invoices:
//	    inv-1: {balance: 100, due_date: "2024-02-20"}
//	steps:
//	  - run: {}
//	  - advance: 3d
//	  - set: {table: invoices, key: inv-1, row: {balance: 0}}
//	  - run: {classes: [overdue]}
//	assertions:
//	  - type: fired_count
//	    action: remind
//	    count: 1
//	  - type: open_subjects
//	    class: overdue
//	    subjects: []
//
// Assertion types:
//   - fired: an action fired (optionally for a subject and trigger)
//   - fired_count: an action fired exactly count times
//   - fired_order: actions first fired in the given order
//   - open_subjects: the open instances of a class after the last step
//
// # Golden Files
//
// The trace of a scenario is compared byte for byte against
// golden/<scenario>.golden next to the scenario file (see RunWithGolden
// for the go test form). Regenerate with `conditions test --update`.
//
// # Determinism
//
// Classes run one at a time, the clock only moves on advance steps and run
// ids come from a sequential generator, so the same scenario always
// produces the same trace.
package harness
