package compiler

import (
	"fmt"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/queryir"
)

// ActionKind selects the handler that runs a declared action.
type ActionKind string

const (
	// KindLog writes a structured log line.
	KindLog ActionKind = "log"

	// KindExec runs an external command.
	KindExec ActionKind = "exec"

	// KindSQL runs a statement against the subjects database.
	KindSQL ActionKind = "sql"
)

// Valid reports whether the kind is known.
func (k ActionKind) Valid() bool {
	switch k {
	case KindLog, KindExec, KindSQL:
		return true
	}
	return false
}

// DefaultKey is the subject key column used when a class omits key.
const DefaultKey = "id"

// ClassSpec is a compiled condition class declaration.
type ClassSpec struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`

	// Subjects is the table (or view) holding the subject population and
	// Key the column identifying one subject.
	Subjects string `json:"subjects"`
	Key      string `json:"key"`

	// When is nil when the declaration has no when clause.
	When queryir.Predicate `json:"-"`

	Actions []ActionSpec `json:"actions"`

	Pos token.Pos `json:"-"`
}

// ActionSpec is one declared action of a class.
type ActionSpec struct {
	Name    string     `json:"name"`
	Trigger ir.Trigger `json:"trigger"`

	// Timing is the "after" span of delayed actions and the "every" span of
	// recurring ones.
	Timing ir.Span `json:"timing,omitzero"`

	Kind      ActionKind `json:"kind"`
	Message   string     `json:"message,omitempty"`
	Command   []string   `json:"command,omitempty"`
	Statement string     `json:"statement,omitempty"`

	Pos token.Pos `json:"-"`
}

// CompileClasses compiles every field of the top-level "class" struct.
//
// Errors are collected rather than returned on the first failure so that
// validate can report every broken declaration in one pass. Classes that
// compiled are returned in declaration order.
func CompileClasses(root cue.Value) ([]ClassSpec, []error) {
	if err := root.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	classesVal := root.LookupPath(cue.ParsePath("class"))
	if !classesVal.Exists() {
		return nil, []error{&CompileError{
			Field:   "class",
			Message: "no class declarations found",
			Pos:     root.Pos(),
		}}
	}

	iter, err := classesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var specs []ClassSpec
	var errs []error
	for iter.Next() {
		spec, err := CompileClass(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, *spec)
	}
	return specs, errs
}

// CompileClass parses a CUE value into a ClassSpec.
//
// The CUE value should be the class struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`class: Overdue: { ... }`)
//	spec, err := CompileClass(v.LookupPath(cue.ParsePath("class.Overdue")))
func CompileClass(v cue.Value) (*ClassSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ClassSpec{Pos: v.Pos()}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		id, err := ir.CanonicalName(unquoteLabel(labels[len(labels)-1].String()))
		if err != nil {
			return nil, &CompileError{Field: "class", Message: err.Error(), Pos: v.Pos()}
		}
		spec.ID = id
	}
	if spec.ID == "" {
		return nil, &CompileError{Field: "class", Message: "class id is required", Pos: v.Pos()}
	}

	var err error
	if spec.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}

	subjects, err := optionalString(v, "subjects")
	if err != nil {
		return nil, err
	}
	if subjects == "" {
		return nil, &CompileError{
			Field:   "subjects",
			Message: fmt.Sprintf("class %s: subjects is required", spec.ID),
			Pos:     v.Pos(),
		}
	}
	spec.Subjects = subjects

	if spec.Key, err = optionalString(v, "key"); err != nil {
		return nil, err
	}
	if spec.Key == "" {
		spec.Key = DefaultKey
	}

	whenVal := v.LookupPath(cue.ParsePath("when"))
	if whenVal.Exists() {
		spec.When, err = parsePredicate(whenVal, "when")
		if err != nil {
			return nil, err
		}
	}

	spec.Actions, err = parseClassActions(v, spec.ID)
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// parseClassActions parses the actions list in declaration order.
func parseClassActions(v cue.Value, classID string) ([]ActionSpec, error) {
	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if !actionsVal.Exists() {
		return nil, nil
	}

	iter, err := actionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	type actionKey struct {
		trigger ir.Trigger
		name    string
	}
	seen := make(map[actionKey]bool)

	var actions []ActionSpec
	for iter.Next() {
		action, err := parseClassAction(iter.Value(), classID)
		if err != nil {
			return nil, err
		}
		key := actionKey{action.Trigger, action.Name}
		if seen[key] {
			return nil, &CompileError{
				Field:   "actions.name",
				Message: fmt.Sprintf("class %s: duplicate %s action %q", classID, action.Trigger, action.Name),
				Pos:     action.Pos,
			}
		}
		seen[key] = true
		actions = append(actions, action)
	}
	return actions, nil
}

func parseClassAction(v cue.Value, classID string) (ActionSpec, error) {
	action := ActionSpec{Pos: v.Pos()}

	rawName, err := optionalString(v, "name")
	if err != nil {
		return action, err
	}
	name, err := ir.CanonicalName(rawName)
	if err != nil {
		return action, &CompileError{
			Field:   "actions.name",
			Message: fmt.Sprintf("class %s: action name: %v", classID, err),
			Pos:     v.Pos(),
		}
	}
	action.Name = name

	rawTrigger, err := optionalString(v, "trigger")
	if err != nil {
		return action, err
	}
	if rawTrigger == "" {
		return action, &CompileError{
			Field:   "actions.trigger",
			Message: fmt.Sprintf("class %s: action %q: trigger is required", classID, name),
			Pos:     v.Pos(),
		}
	}
	if action.Trigger, err = ir.ParseTrigger(rawTrigger); err != nil {
		return action, &CompileError{
			Field:   "actions.trigger",
			Message: fmt.Sprintf("class %s: action %q: %v", classID, name, err),
			Pos:     v.LookupPath(cue.ParsePath("trigger")).Pos(),
		}
	}

	after, err := optionalString(v, "after")
	if err != nil {
		return action, err
	}
	every, err := optionalString(v, "every")
	if err != nil {
		return action, err
	}

	var timingField, timing string
	switch action.Trigger {
	case ir.TriggerDelayed:
		timingField, timing = "after", after
		if every != "" {
			return action, timingConflict(v, classID, action, "every")
		}
	case ir.TriggerRecurring:
		timingField, timing = "every", every
		if after != "" {
			return action, timingConflict(v, classID, action, "after")
		}
	default:
		if after != "" {
			return action, timingConflict(v, classID, action, "after")
		}
		if every != "" {
			return action, timingConflict(v, classID, action, "every")
		}
	}

	if action.Trigger.Timed() {
		if timing == "" {
			return action, missingTiming(v, classID, action, timingField, nil)
		}
		span, err := ir.ParseSpan(timing)
		if err != nil {
			return action, missingTiming(v, classID, action, timingField, err)
		}
		if !span.Positive() {
			return action, missingTiming(v, classID, action, timingField, fmt.Errorf("span %q is not positive", timing))
		}
		action.Timing = span
	}

	kind, err := optionalString(v, "kind")
	if err != nil {
		return action, err
	}
	if kind == "" {
		kind = string(KindLog)
	}
	action.Kind = ActionKind(kind)

	switch action.Kind {
	case KindLog:
		if action.Message, err = optionalString(v, "message"); err != nil {
			return action, err
		}
	case KindExec:
		if action.Command, err = stringList(v, "command"); err != nil {
			return action, err
		}
		if len(action.Command) == 0 {
			return action, &CompileError{
				Field:   "actions.command",
				Message: fmt.Sprintf("class %s: exec action %q requires a command", classID, name),
				Pos:     v.Pos(),
			}
		}
	case KindSQL:
		if action.Statement, err = optionalString(v, "statement"); err != nil {
			return action, err
		}
		if action.Statement == "" {
			return action, &CompileError{
				Field:   "actions.statement",
				Message: fmt.Sprintf("class %s: sql action %q requires a statement", classID, name),
				Pos:     v.Pos(),
			}
		}
	default:
		return action, &CompileError{
			Field:   "actions.kind",
			Message: fmt.Sprintf("class %s: action %q: unknown kind %q (expected log, exec or sql)", classID, name, kind),
			Pos:     v.LookupPath(cue.ParsePath("kind")).Pos(),
		}
	}

	return action, nil
}

func missingTiming(v cue.Value, classID string, action ActionSpec, field string, cause error) error {
	msg := fmt.Sprintf("class %s: %s action %q requires %s", classID, action.Trigger, action.Name, field)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &CompileError{
		Field:   "actions." + field,
		Message: msg,
		Pos:     v.Pos(),
		Err: &engine.Error{
			Code:    engine.ErrCodeMissingTiming,
			Message: "timed action requires a positive span",
			Class:   classID,
			Action:  action.Name,
			Trigger: action.Trigger,
			Err:     cause,
		},
	}
}

func timingConflict(v cue.Value, classID string, action ActionSpec, field string) error {
	return &CompileError{
		Field:   "actions." + field,
		Message: fmt.Sprintf("class %s: %s action %q does not take %s", classID, action.Trigger, action.Name, field),
		Pos:     v.LookupPath(cue.ParsePath(field)).Pos(),
	}
}

// parsePredicate parses one node of the when grammar:
//
//	{all: [...]} {any: [...]} {not: {...}} {sql: "..."}
//	{field: "f", op: ">", value: 0}
//	{field: "f", op: "<", now: "date"}
//	{field: "f", null: true}
func parsePredicate(v cue.Value, path string) (queryir.Predicate, error) {
	var forms []string
	for _, f := range []string{"all", "any", "not", "sql", "field"} {
		if v.LookupPath(cue.ParsePath(f)).Exists() {
			forms = append(forms, f)
		}
	}
	if len(forms) != 1 {
		return nil, &CompileError{
			Field:   path,
			Message: "predicate must have exactly one of all, any, not, sql or field",
			Pos:     v.Pos(),
		}
	}

	switch forms[0] {
	case "all", "any":
		children, err := parsePredicateList(v.LookupPath(cue.ParsePath(forms[0])), path+"."+forms[0])
		if err != nil {
			return nil, err
		}
		if forms[0] == "all" {
			return queryir.And{Predicates: children}, nil
		}
		return queryir.Or{Predicates: children}, nil

	case "not":
		inner, err := parsePredicate(v.LookupPath(cue.ParsePath("not")), path+".not")
		if err != nil {
			return nil, err
		}
		return queryir.Not{Predicate: inner}, nil

	case "sql":
		sql, err := v.LookupPath(cue.ParsePath("sql")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if sql == "" {
			return nil, &CompileError{Field: path + ".sql", Message: "sql fragment must not be empty", Pos: v.Pos()}
		}
		return queryir.Raw{SQL: sql}, nil
	}

	return parseComparison(v, path)
}

func parsePredicateList(v cue.Value, path string) ([]queryir.Predicate, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var preds []queryir.Predicate
	for i := 0; iter.Next(); i++ {
		p, err := parsePredicate(iter.Value(), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func parseComparison(v cue.Value, path string) (queryir.Predicate, error) {
	field, err := v.LookupPath(cue.ParsePath("field")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if !ir.ValidIdentifier(field) {
		return nil, &CompileError{
			Field:   path + ".field",
			Message: fmt.Sprintf("invalid field name %q", field),
			Pos:     v.Pos(),
		}
	}

	// null is a CUE keyword, so ParsePath cannot address the label.
	if nullVal := v.LookupPath(cue.MakePath(cue.Str("null"))); nullVal.Exists() {
		isNull, err := nullVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if isNull {
			return queryir.IsNull{Field: field}, nil
		}
		return queryir.Not{Predicate: queryir.IsNull{Field: field}}, nil
	}

	rawOp, err := optionalString(v, "op")
	if err != nil {
		return nil, err
	}
	op := queryir.Op(rawOp)
	if !op.Valid() {
		return nil, &CompileError{
			Field:   path + ".op",
			Message: fmt.Sprintf("unknown operator %q on field %s", rawOp, field),
			Pos:     v.Pos(),
		}
	}

	if nowVal := v.LookupPath(cue.ParsePath("now")); nowVal.Exists() {
		layout, err := nowVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch queryir.NowLayout(layout) {
		case queryir.NowDate, queryir.NowTime, queryir.NowUnix:
		default:
			return nil, &CompileError{
				Field:   path + ".now",
				Message: fmt.Sprintf("unknown now layout %q (expected date, time or unix)", layout),
				Pos:     nowVal.Pos(),
			}
		}
		return queryir.CompareNow{Field: field, Op: op, Layout: queryir.NowLayout(layout)}, nil
	}

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return nil, &CompileError{
			Field:   path + ".value",
			Message: fmt.Sprintf("comparison on field %s requires value or now", field),
			Pos:     v.Pos(),
		}
	}
	value, err := literal(valueVal, path+".value")
	if err != nil {
		return nil, err
	}
	return queryir.Compare{Field: field, Op: op, Value: value}, nil
}

// literal converts a concrete CUE scalar into an IRValue.
func literal(v cue.Value, path string) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.FloatKind:
		return nil, &CompileError{Field: path, Message: "floats are forbidden", Pos: v.Pos()}
	default:
		return nil, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("value must be a concrete string, int, bool or null, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// unquoteLabel strips the quotes CUE keeps on labels that are not
// identifiers, such as "late payment".
func unquoteLabel(label string) string {
	if s, err := strconv.Unquote(label); err == nil {
		return s
	}
	return label
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError reports a declaration that could not be compiled, with the
// CUE source position when one is known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos

	// Err is set for failures the engine also classifies, such as
	// MISSING_TIMING.
	Err error
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
