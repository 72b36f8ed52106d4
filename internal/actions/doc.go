// Package actions turns compiled class declarations into engine classes.
//
// Each declared action names a kind, and the kind selects the handler that
// runs when the engine fires it:
//
//   - log writes one structured log line per firing
//   - exec runs an external command with the firing described in CONDITION_*
//     environment variables
//   - sql runs a statement against the subjects database with the subject
//     key bound to its placeholders
//
// Binder pairs those handlers with a predicate gateway per class and
// registers the result.
package actions
