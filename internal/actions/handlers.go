package actions

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/roach88/conditions/internal/compiler"
	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/querysql"
)

// DefaultExecTimeout bounds one exec action when Env.ExecTimeout is zero.
const DefaultExecTimeout = time.Minute

// maxOutputInError caps how much command output an exec failure carries.
const maxOutputInError = 512

// Env holds what the handlers need at run time.
type Env struct {
	Logger *slog.Logger

	// DB is the subjects database sql actions run against.
	DB      *sql.DB
	Dialect querysql.Dialect

	ExecTimeout time.Duration
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Handler returns the action body for a declared action.
func Handler(spec compiler.ActionSpec, env Env) (engine.ActionFunc, error) {
	switch spec.Kind {
	case compiler.KindLog, "":
		return logHandler(spec, env), nil
	case compiler.KindExec:
		if len(spec.Command) == 0 {
			return nil, fmt.Errorf("exec action %q: empty command", spec.Name)
		}
		return execHandler(spec, env), nil
	case compiler.KindSQL:
		if env.DB == nil {
			return nil, fmt.Errorf("sql action %q: no subjects database configured", spec.Name)
		}
		return sqlHandler(spec, env), nil
	default:
		return nil, fmt.Errorf("action %q: unknown kind %q", spec.Name, spec.Kind)
	}
}

func invocationAttrs(inv engine.Invocation) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("run_id", inv.RunID),
		slog.String("class", inv.Class),
		slog.String("subject", inv.Subject),
		slog.String("trigger", string(inv.Trigger)),
		slog.String("action", inv.Action),
		slog.Int64("instance_id", inv.Instance.ID),
		slog.Time("opened_at", inv.Instance.Created),
	}
	if !inv.Basis.IsZero() {
		attrs = append(attrs, slog.Time("basis", inv.Basis))
	}
	return attrs
}

func logHandler(spec compiler.ActionSpec, env Env) engine.ActionFunc {
	msg := spec.Message
	if msg == "" {
		msg = "condition action"
	}
	logger := env.logger()
	return func(ctx context.Context, inv engine.Invocation) error {
		logger.LogAttrs(ctx, slog.LevelInfo, msg, invocationAttrs(inv)...)
		return nil
	}
}

// commandEnv describes the firing to an exec action.
func commandEnv(inv engine.Invocation) []string {
	env := []string{
		"CONDITION_RUN_ID=" + inv.RunID,
		"CONDITION_CLASS=" + inv.Class,
		"CONDITION_SUBJECT=" + inv.Subject,
		"CONDITION_TRIGGER=" + string(inv.Trigger),
		"CONDITION_ACTION=" + inv.Action,
		fmt.Sprintf("CONDITION_INSTANCE_ID=%d", inv.Instance.ID),
		"CONDITION_OPENED_AT=" + inv.Instance.Created.UTC().Format(time.RFC3339Nano),
		"CONDITION_AT=" + inv.At.UTC().Format(time.RFC3339Nano),
	}
	if !inv.Basis.IsZero() {
		env = append(env, "CONDITION_BASIS="+inv.Basis.UTC().Format(time.RFC3339Nano))
	}
	return env
}

func execHandler(spec compiler.ActionSpec, env Env) engine.ActionFunc {
	timeout := env.ExecTimeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	logger := env.logger()
	argv := append([]string(nil), spec.Command...)

	return func(ctx context.Context, inv engine.Invocation) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = append(os.Environ(), commandEnv(inv)...)

		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("exec %s: %w%s", argv[0], err, outputSuffix(out))
		}
		logger.DebugContext(ctx, "exec action finished",
			"class", inv.Class, "subject", inv.Subject, "action", inv.Action,
			"output", strings.TrimSpace(string(out)))
		return nil
	}
}

func outputSuffix(out []byte) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return ""
	}
	if len(s) > maxOutputInError {
		s = s[:maxOutputInError] + "..."
	}
	return ": " + s
}

// statementArgs binds the subject key to every placeholder of the
// statement: each ? for SQLite, $1 for Postgres.
func statementArgs(dialect querysql.Dialect, statement, subject string) []any {
	if dialect == querysql.Postgres {
		if strings.Contains(statement, "$1") {
			return []any{subject}
		}
		return nil
	}
	n := strings.Count(statement, "?")
	args := make([]any, n)
	for i := range args {
		args[i] = subject
	}
	return args
}

func sqlHandler(spec compiler.ActionSpec, env Env) engine.ActionFunc {
	statement := spec.Statement
	db := env.DB
	dialect := env.Dialect
	logger := env.logger()

	return func(ctx context.Context, inv engine.Invocation) error {
		res, err := db.ExecContext(ctx, statement, statementArgs(dialect, statement, inv.Subject)...)
		if err != nil {
			return fmt.Errorf("sql action %s: %w", inv.Action, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			logger.DebugContext(ctx, "sql action finished",
				"class", inv.Class, "subject", inv.Subject, "action", inv.Action, "rows", n)
		}
		return nil
	}
}
