package actions

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/conditions/internal/compiler"
	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/querysql"
)

var opened = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testInvocation() engine.Invocation {
	return engine.Invocation{
		RunID:    "run-0001",
		Class:    "overdue",
		Subject:  "inv-1",
		Instance: ir.Instance{ID: 7, Class: "overdue", Subject: "inv-1", Created: opened},
		Trigger:  ir.TriggerInitial,
		Action:   "notify",
		At:       opened,
	}
}

func setupSubjectsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "subjects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE invoices (id TEXT PRIMARY KEY, balance INTEGER, flagged INTEGER DEFAULT 0);
		INSERT INTO invoices (id, balance) VALUES ('inv-1', 100), ('inv-2', 0);
	`)
	require.NoError(t, err)
	return db
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec handler tests use sh")
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	env := Env{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	fn, err := Handler(compiler.ActionSpec{Name: "notify", Kind: compiler.KindLog, Message: "invoice overdue"}, env)
	require.NoError(t, err)
	require.NoError(t, fn(context.Background(), testInvocation()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "invoice overdue", line["msg"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "run-0001", line["run_id"])
	assert.Equal(t, "overdue", line["class"])
	assert.Equal(t, "inv-1", line["subject"])
	assert.Equal(t, "initial", line["trigger"])
	assert.Equal(t, "notify", line["action"])
	assert.EqualValues(t, 7, line["instance_id"])
	assert.NotContains(t, line, "basis")
}

func TestLogHandlerDefaultMessage(t *testing.T) {
	var buf bytes.Buffer
	env := Env{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	fn, err := Handler(compiler.ActionSpec{Name: "notify"}, env)
	require.NoError(t, err)

	inv := testInvocation()
	inv.Trigger = ir.TriggerRecurring
	inv.Basis = opened
	require.NoError(t, fn(context.Background(), inv))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "condition action", line["msg"])
	assert.Contains(t, line, "basis")
}

func TestExecHandlerEnvironment(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	fn, err := Handler(compiler.ActionSpec{
		Name:    "notify",
		Kind:    compiler.KindExec,
		Command: []string{"sh", "-c", `printf '%s|%s|%s|%s|%s' "$CONDITION_CLASS" "$CONDITION_SUBJECT" "$CONDITION_TRIGGER" "$CONDITION_ACTION" "$CONDITION_INSTANCE_ID" > "$0"`, out},
	}, Env{})
	require.NoError(t, err)
	require.NoError(t, fn(context.Background(), testInvocation()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "overdue|inv-1|initial|notify|7", string(data))
}

func TestExecHandlerFailureCarriesOutput(t *testing.T) {
	requireShell(t)

	fn, err := Handler(compiler.ActionSpec{
		Name:    "notify",
		Kind:    compiler.KindExec,
		Command: []string{"sh", "-c", "echo mail server down; exit 3"},
	}, Env{})
	require.NoError(t, err)

	err = fn(context.Background(), testInvocation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "mail server down")
}

func TestExecHandlerTimeout(t *testing.T) {
	requireShell(t)

	fn, err := Handler(compiler.ActionSpec{
		Name:    "slow",
		Kind:    compiler.KindExec,
		Command: []string{"sleep", "5"},
	}, Env{ExecTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	require.Error(t, fn(context.Background(), testInvocation()))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestSQLHandler(t *testing.T) {
	db := setupSubjectsDB(t)

	fn, err := Handler(compiler.ActionSpec{
		Name:      "flag",
		Kind:      compiler.KindSQL,
		Statement: "UPDATE invoices SET flagged = 1 WHERE id = ?",
	}, Env{DB: db, Dialect: querysql.SQLite})
	require.NoError(t, err)
	require.NoError(t, fn(context.Background(), testInvocation()))

	var flagged int
	require.NoError(t, db.QueryRow(`SELECT flagged FROM invoices WHERE id = 'inv-1'`).Scan(&flagged))
	assert.Equal(t, 1, flagged)
	require.NoError(t, db.QueryRow(`SELECT flagged FROM invoices WHERE id = 'inv-2'`).Scan(&flagged))
	assert.Equal(t, 0, flagged)
}

func TestSQLHandlerError(t *testing.T) {
	db := setupSubjectsDB(t)

	fn, err := Handler(compiler.ActionSpec{
		Name:      "flag",
		Kind:      compiler.KindSQL,
		Statement: "UPDATE missing_table SET x = 1 WHERE id = ?",
	}, Env{DB: db, Dialect: querysql.SQLite})
	require.NoError(t, err)

	err = fn(context.Background(), testInvocation())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "sql action notify:"))
}

func TestHandlerErrors(t *testing.T) {
	_, err := Handler(compiler.ActionSpec{Name: "a", Kind: compiler.KindExec}, Env{})
	assert.ErrorContains(t, err, "empty command")

	_, err = Handler(compiler.ActionSpec{Name: "a", Kind: compiler.KindSQL, Statement: "SELECT 1"}, Env{})
	assert.ErrorContains(t, err, "no subjects database")

	_, err = Handler(compiler.ActionSpec{Name: "a", Kind: "email"}, Env{})
	assert.ErrorContains(t, err, "unknown kind")
}

func TestStatementArgs(t *testing.T) {
	assert.Equal(t, []any{"s"}, statementArgs(querysql.SQLite, "DELETE FROM t WHERE id = ?", "s"))
	assert.Equal(t, []any{"s", "s"}, statementArgs(querysql.SQLite, "UPDATE t SET a = ? WHERE id = ?", "s"))
	assert.Empty(t, statementArgs(querysql.SQLite, "DELETE FROM t", "s"))
	assert.Equal(t, []any{"s"}, statementArgs(querysql.Postgres, "DELETE FROM t WHERE id = $1", "s"))
	assert.Nil(t, statementArgs(querysql.Postgres, "DELETE FROM t", "s"))
}

func TestOutputSuffix(t *testing.T) {
	assert.Equal(t, "", outputSuffix([]byte("  \n")))
	assert.Equal(t, ": boom", outputSuffix([]byte("boom\n")))

	long := outputSuffix(bytes.Repeat([]byte("x"), maxOutputInError+10))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Len(t, long, len(": ")+maxOutputInError+len("..."))
}
