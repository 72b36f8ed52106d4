package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/conditions/internal/compiler"
	"github.com/roach88/conditions/internal/engine"
)

// LoadMode controls how errors are handled during class loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadError represents an error that occurred during class loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadClasses loads and compiles the CUE class declarations in dir.
// If mode is LoadModeFailFast, only the first error is returned.
// If mode is LoadModeCollectAll, every compile error is returned.
//
// A nil result means the directory itself could not be loaded.
func LoadClasses(dir string, mode LoadMode) (*compiler.LoadResult, []error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("classes directory not found: %s", dir)}}
	}

	result, errs := compiler.LoadDir(dir)
	if result == nil {
		return nil, []error{convertLoadError(errs[0])}
	}

	var out []error
	for _, err := range errs {
		out = append(out, convertCompileError(err))
		if mode == LoadModeFailFast {
			break
		}
	}
	return result, out
}

// convertLoadError maps a directory-level failure to a CLI error code.
func convertLoadError(err error) *LoadError {
	var loadErr *compiler.LoadError
	if !errors.As(err, &loadErr) {
		return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	code := ErrCodeLoadFailed
	switch {
	case strings.HasPrefix(loadErr.Message, "no CUE files"):
		code = ErrCodeNoFiles
	case strings.HasPrefix(loadErr.Message, "scanning"):
		code = ErrCodeScanError
	case strings.HasPrefix(loadErr.Message, "building"):
		code = ErrCodeBuildFailed
	case strings.HasPrefix(loadErr.Message, "not a directory"),
		strings.HasPrefix(loadErr.Message, "classes directory"):
		code = ErrCodeNotFound
	}
	msg := loadErr.Message
	if loadErr.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, loadErr.Err)
	}
	if code == ErrCodeNoFiles {
		msg = fmt.Sprintf("no CUE files found in %s", loadErr.Dir)
	}
	return &LoadError{Code: code, Message: msg}
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		code := MapFieldToErrorCode(compileErr.Field)
		if engine.IsMissingTiming(err) {
			code = ErrCodeMissingTiming
		}
		return &LoadError{
			Code:    code,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: err.Error(),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeDatabase    = "E007" // Store unavailable
	ErrCodeLockHeld    = "E008" // Another process run holds the lock

	// Class declaration errors share the compiler's validation codes.
	ErrCodeClassSubjects   = compiler.ErrClassSubjects
	ErrCodeClassKey        = compiler.ErrClassKey
	ErrCodeInvalidWhen     = compiler.ErrInvalidPredicate
	ErrCodeDuplicateAction = compiler.ErrDuplicateAction
	ErrCodeMissingTiming   = compiler.ErrActionTiming
	ErrCodeActionKind      = compiler.ErrActionKind
	ErrCodeActionName      = compiler.ErrInvalidActionName
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "subjects":
		return ErrCodeClassSubjects
	case field == "key":
		return ErrCodeClassKey
	case strings.HasPrefix(field, "when"):
		return ErrCodeInvalidWhen
	case field == "actions.after", field == "actions.every":
		return ErrCodeMissingTiming
	case field == "actions.kind", field == "actions.trigger",
		field == "actions.command", field == "actions.statement":
		return ErrCodeActionKind
	case field == "actions.name":
		return ErrCodeDuplicateAction
	case strings.HasPrefix(field, "actions"):
		return ErrCodeActionName
	case field == "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}
