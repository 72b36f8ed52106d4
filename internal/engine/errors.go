package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/conditions/internal/ir"
)

// Error represents a failure detected while registering classes or running
// the lifecycle and scheduling passes.
//
// Error carries structured fields so the runner can attribute a failure to a
// class, a subject and an action without parsing messages.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Class identifies the affected condition class.
	Class string

	// Subject identifies the affected subject, if any.
	Subject string

	// Action and Trigger identify the affected action, if any.
	Action  string
	Trigger ir.Trigger

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNoPredicate indicates a class was processed without a predicate.
	ErrCodeNoPredicate ErrorCode = "NO_PREDICATE"

	// ErrCodeMissingTiming indicates a delayed or recurring action without a
	// positive span.
	ErrCodeMissingTiming ErrorCode = "MISSING_TIMING"

	// ErrCodeInvalidDefinition indicates a malformed class or action.
	ErrCodeInvalidDefinition ErrorCode = "INVALID_DEFINITION"

	// ErrCodeDuplicateClass indicates a class id registered twice.
	ErrCodeDuplicateClass ErrorCode = "DUPLICATE_CLASS"

	// ErrCodeDuplicateAction indicates two actions sharing a trigger and name.
	ErrCodeDuplicateAction ErrorCode = "DUPLICATE_ACTION"

	// ErrCodeRegistryFrozen indicates registration after the first run.
	ErrCodeRegistryFrozen ErrorCode = "REGISTRY_FROZEN"

	// ErrCodeUnknownClass indicates a requested class is not registered.
	ErrCodeUnknownClass ErrorCode = "UNKNOWN_CLASS"

	// ErrCodePredicateEvaluation indicates the predicate gateway failed.
	ErrCodePredicateEvaluation ErrorCode = "PREDICATE_EVALUATION"

	// ErrCodeDuplicateOpen indicates a second open instance was attempted for
	// a subject. The coordinator treats it as a lost race, not a failure.
	ErrCodeDuplicateOpen ErrorCode = "DUPLICATE_OPEN"

	// ErrCodeStorage indicates the instance store or ledger failed.
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeActionFailed indicates an action body returned an error or
	// panicked.
	ErrCodeActionFailed ErrorCode = "ACTION_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)

	var attrs []string
	if e.Class != "" {
		attrs = append(attrs, "class="+e.Class)
	}
	if e.Subject != "" {
		attrs = append(attrs, "subject="+e.Subject)
	}
	if e.Action != "" {
		attrs = append(attrs, fmt.Sprintf("action=%s/%s", e.Trigger, e.Action))
	}
	if len(attrs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(attrs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNoPredicate reports whether err is a missing predicate error.
func IsNoPredicate(err error) bool {
	return CodeOf(err) == ErrCodeNoPredicate
}

// IsMissingTiming reports whether err is a missing timing error.
func IsMissingTiming(err error) bool {
	return CodeOf(err) == ErrCodeMissingTiming
}

// IsDuplicateOpen reports whether err reports a lost open race.
func IsDuplicateOpen(err error) bool {
	return CodeOf(err) == ErrCodeDuplicateOpen
}

// IsUnknownClass reports whether err names an unregistered class.
func IsUnknownClass(err error) bool {
	return CodeOf(err) == ErrCodeUnknownClass
}

// IsActionFailed reports whether err is an action failure.
func IsActionFailed(err error) bool {
	return CodeOf(err) == ErrCodeActionFailed
}

// NewDuplicateOpenError is returned by stores when a subject already has an
// open instance that could not be read back.
func NewDuplicateOpenError(class, subject string) *Error {
	return &Error{
		Code:    ErrCodeDuplicateOpen,
		Message: "subject already has an open instance",
		Class:   class,
		Subject: subject,
	}
}

func storageError(class, subject, op string, err error) *Error {
	return &Error{
		Code:    ErrCodeStorage,
		Message: op,
		Class:   class,
		Subject: subject,
		Err:     err,
	}
}

func predicateError(class, op string, err error) *Error {
	return &Error{
		Code:    ErrCodePredicateEvaluation,
		Message: op,
		Class:   class,
		Err:     err,
	}
}
