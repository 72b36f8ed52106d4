package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/conditions/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Classes  int                        `json:"classes"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings map[string][]string        `json:"warnings,omitempty"` // class id -> non-portable predicate features
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [classes-dir]",
		Short: "Check class declarations without touching any database",
		Long: `Compile and validate the CUE class declarations.

Reports structural errors (bad subjects table, malformed when clause,
duplicate actions, missing or misplaced timing) and warns about predicates
that only SQL stores can evaluate.

The directory defaults to the configured classes directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	cmd.Flags().String("classes", "", "directory of CUE class declarations")

	return cmd
}

func runValidate(opts *RootOptions, classesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if classesDir == "" {
		cfg, err := loadConfig(opts, cmd)
		if err != nil {
			return err
		}
		classesDir = cfg.Classes
	}

	loadResult, loadErrors := LoadClasses(classesDir, LoadModeCollectAll)
	if loadResult == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return formatter.CommandError(loadErr.Code, loadErr.Message, nil)
		}
		return formatter.CommandError(ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, classesDir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			})
		}
	}
	for _, spec := range loadResult.Classes {
		formatter.VerboseLog("Validating class: %s", spec.ID)
	}
	validationErrors = append(validationErrors, compiler.Validate(loadResult.Classes)...)

	warnings := make(map[string][]string)
	for id, res := range compiler.Portability(loadResult.Classes) {
		warnings[id] = res.Warnings
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	return outputValidateSuccess(formatter, len(loadResult.Classes), warnings)
}

// lineOf extracts the line number of a load error, 0 when unknown.
func lineOf(err *LoadError) int {
	if err.Pos.IsValid() {
		return err.Pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, classes int, warnings map[string][]string) error {
	result := ValidationResult{Valid: true, Classes: classes}
	if len(warnings) > 0 {
		result.Warnings = warnings
	}
	return formatter.Result("", result, func(w io.Writer) error {
		ids := make([]string, 0, len(warnings))
		for id := range warnings {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, warning := range warnings[id] {
				fmt.Fprintf(w, "! %s: %s\n", id, warning)
			}
		}
		fmt.Fprintf(w, "✓ %d class(es) valid\n", classes)
		return nil
	})
}

// outputValidationErrors outputs every validation error; the response code
// is the first error's.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	message := fmt.Sprintf("validation failed with %d error(s)", len(errs))
	return formatter.Failure("", errs[0].Code, message, ValidationResult{Valid: false, Errors: errs}, func(w io.Writer) error {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, err := range errs {
			if err.Line > 0 {
				fmt.Fprintf(w, "line %d\n", err.Line)
			}
			fmt.Fprintf(w, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
		}
		return nil
	})
}
