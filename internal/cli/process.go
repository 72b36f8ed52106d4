package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/roach88/conditions/internal/actions"
	"github.com/roach88/conditions/internal/config"
	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/telemetry"
)

// ProcessOptions holds flags for the process command.
type ProcessOptions struct {
	*RootOptions
	Classes    []string
	AllClasses bool
	NoExecute  bool

	// RunIDGenerator allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGenerator engine.RunIDGenerator

	// Clock allows overriding the engine clock (for testing).
	Clock engine.Clock
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Reconcile conditions and fire due actions",
		Long: `Run one processing pass over the declared condition classes.

For every selected class the pass opens conditions for subjects that now
satisfy the predicate, closes conditions whose subjects no longer do, and
fires initial, delayed, recurring and ending actions that are due. Each
action is recorded before it runs, so repeated passes never fire it twice.

Only one process run per database holds the run lock at a time; a second
run exits with code 2.

Example:
  conditions process --db ./conditions.db --classes ./classes
  conditions process --class overdue_invoice --no-execute
  conditions process --driver postgres --db postgres://localhost/app?sslmode=disable`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(opts, cmd)
		},
	}

	cmd.Flags().String("classes", "", "directory of CUE class declarations")
	cmd.Flags().String("db", "", "condition store: SQLite path or Postgres URL")
	cmd.Flags().String("driver", "", "condition store driver (sqlite|postgres)")
	cmd.Flags().String("subjects-db", "", "database holding the subject tables (defaults to --db)")
	cmd.Flags().Int("workers", config.DefaultWorkers, "classes processed in parallel")
	cmd.Flags().String("lock", "", "run lock file (defaults to <db>.lock)")
	cmd.Flags().String("log-level", "", "log level (debug|info|warn|error)")
	cmd.Flags().String("metrics-endpoint", "", "OTLP/HTTP metrics endpoint URL")
	cmd.Flags().StringArrayVar(&opts.Classes, "class", nil, "class id to process (repeatable)")
	cmd.Flags().BoolVar(&opts.AllClasses, "all-classes", false, "process every registered class (default when no --class is given)")
	cmd.Flags().BoolVar(&opts.NoExecute, "no-execute", false, "open and close conditions without running actions")

	return cmd
}

func runProcess(opts *ProcessOptions, cmd *cobra.Command) error {
	if opts.AllClasses && len(opts.Classes) > 0 {
		return NewExitError(ExitCommandError, "--all-classes and --class are mutually exclusive")
	}

	cfg, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	// Compile classes before touching the database.
	logger.Info("compiling classes", "dir", cfg.Classes)
	loadResult, loadErrors := LoadClasses(cfg.Classes, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load classes", loadErrors[0])
	}
	logger.Info("classes compiled", "classes", len(loadResult.Classes))

	lock := flock.New(cfg.Lock)
	locked, err := lock.TryLock()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to take run lock", err)
	}
	if !locked {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: another process run holds %s", ErrCodeLockHeld, cfg.Lock))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Error("error releasing run lock", "error", err)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("opening database", "driver", cfg.Driver)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: database unavailable", ErrCodeDatabase), err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	subjects, err := openSubjects(ctx, cfg, st)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: subjects database unavailable", ErrCodeDatabase), err)
	}
	defer subjects.Close()

	shutdown, err := telemetry.Init(ctx, cfg.MetricsEndpoint)
	if err != nil {
		logger.Warn("metrics export disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("metrics flush failed", "error", err)
		}
	}()

	clock := opts.Clock
	if clock == nil {
		clock = engine.SystemClock{}
	}
	runIDs := opts.RunIDGenerator
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}

	reg := engine.NewRegistry()
	binder := actions.Binder{
		Env: actions.Env{
			Logger:  logger,
			DB:      subjects.DB,
			Dialect: subjects.Dialect,
		},
		Gateways: actions.SQLGateways(subjects.DB, subjects.Dialect, clock),
	}
	if err := binder.Register(reg, loadResult.Classes); err != nil {
		return WrapExitError(ExitCommandError, "failed to register classes", err)
	}

	eng := engine.New(st, reg,
		engine.WithClock(clock),
		engine.WithRunIDGenerator(runIDs),
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Workers),
	)

	summary, err := eng.RunAll(ctx, engine.RunOptions{
		Classes: opts.Classes,
		Execute: !opts.NoExecute,
	})
	if err != nil {
		var engErr *engine.Error
		if errors.As(err, &engErr) {
			return WrapExitError(ExitCommandError, string(engErr.Code), err)
		}
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	out := newFormatter(opts.RootOptions, cmd)
	text := func(w io.Writer) error {
		outputProcessText(w, summary)
		return nil
	}
	if summary.ExitCode() != ExitSuccess {
		logger.Warn("run finished with failures", slog.String("run_id", summary.RunID))
		return out.Failure(summary.RunID, "E_RUN_FAILED",
			fmt.Sprintf("%d class(es) failed", failedClasses(summary)), summary, text)
	}
	return out.Result(summary.RunID, summary, text)
}

// outputProcessText writes one line per class followed by totals.
func outputProcessText(w io.Writer, summary engine.Summary) {
	for _, r := range summary.Classes {
		mark := "✓"
		if r.Failed() {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: opened %d, closed %d, executed %s (%s)\n",
			mark, r.Class, r.Outcome.Opened, r.Outcome.Closed, formatExecuted(r.Outcome.Executed),
			r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
		for _, f := range r.Outcome.Failures {
			fmt.Fprintf(w, "  %s %s %s: %s\n", f.Subject, f.Trigger, f.Action, f.Error)
		}
	}

	total := summary.Totals()
	mode := ""
	if !summary.Execute {
		mode = " (actions not executed)"
	}
	fmt.Fprintf(w, "\nRun %s: %d class(es), opened %d, closed %d, executed %s%s\n",
		summary.RunID, len(summary.Classes), total.Opened, total.Closed, formatExecuted(total.Executed), mode)
}

// formatExecuted renders per-trigger counts in lifecycle order, e.g.
// "initial=2 recurring=1", or "0" when nothing fired.
func formatExecuted(executed map[ir.Trigger]int) string {
	triggers := make([]ir.Trigger, 0, len(executed))
	for t, n := range executed {
		if n > 0 {
			triggers = append(triggers, t)
		}
	}
	if len(triggers) == 0 {
		return "0"
	}
	sort.Slice(triggers, func(i, j int) bool {
		return triggerRank(triggers[i]) < triggerRank(triggers[j])
	})
	parts := make([]string, len(triggers))
	for i, t := range triggers {
		parts[i] = fmt.Sprintf("%s=%d", t, executed[t])
	}
	return strings.Join(parts, " ")
}

func triggerRank(t ir.Trigger) int {
	switch t {
	case ir.TriggerInitial:
		return 0
	case ir.TriggerDelayed:
		return 1
	case ir.TriggerRecurring:
		return 2
	case ir.TriggerEnding:
		return 3
	default:
		return 4
	}
}

func failedClasses(summary engine.Summary) int {
	n := 0
	for _, r := range summary.Classes {
		if r.Failed() {
			n++
		}
	}
	return n
}
