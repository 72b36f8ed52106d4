package predicate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/conditions/internal/engine"
	"github.com/roach88/conditions/internal/ir"
	"github.com/roach88/conditions/internal/queryir"
	"github.com/roach88/conditions/internal/querysql"
	"github.com/roach88/conditions/internal/testutil"
)

// overdue is "balance > 0 AND due_date < today".
var overdue = queryir.And{Predicates: []queryir.Predicate{
	queryir.Compare{Field: "balance", Op: queryir.OpGt, Value: ir.IRInt(0)},
	queryir.CompareNow{Field: "due_date", Op: queryir.OpLt, Layout: queryir.NowDate},
}}

func setupSubjectsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "subjects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE invoices (id TEXT PRIMARY KEY, balance INTEGER, due_date TEXT);
		INSERT INTO invoices VALUES
			('inv-1', 100, '2024-03-01'),
			('inv-2', 0,   '2024-03-01'),
			('inv-3', 50,  '2024-04-01'),
			('inv-4', 75,  NULL),
			('inv-5', 20,  '2024-02-15');
	`)
	require.NoError(t, err)
	return db
}

func newClock() *testutil.ManualClock {
	return testutil.NewManualClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
}

func TestSQLGateway_CurrentlyTrue(t *testing.T) {
	db := setupSubjectsDB(t)
	gw, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices", Key: "id"}, overdue, newClock())
	require.NoError(t, err)

	got, err := gw.CurrentlyTrue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1", "inv-5"}, got.Sorted())
}

func TestSQLGateway_ClockDrivesNow(t *testing.T) {
	db := setupSubjectsDB(t)
	clock := newClock()
	gw, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices", Key: "id"}, overdue, clock)
	require.NoError(t, err)

	clock.Set(time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))
	got, err := gw.CurrentlyTrue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1", "inv-3", "inv-5"}, got.Sorted())
}

func TestSQLGateway_CurrentlyFalseButWasOpen(t *testing.T) {
	db := setupSubjectsDB(t)
	gw, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices", Key: "id"}, overdue, newClock())
	require.NoError(t, err)

	// inv-1 still matches, inv-2 is paid, inv-9 no longer exists.
	got, err := gw.CurrentlyFalseButWasOpen(context.Background(), []string{"inv-1", "inv-2", "inv-9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-2", "inv-9"}, got.Sorted())
}

func TestSQLGateway_EachReadUsesCurrentClock(t *testing.T) {
	db := setupSubjectsDB(t)
	clock := newClock()
	gw, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices", Key: "id"}, overdue, clock)
	require.NoError(t, err)

	got, err := gw.CurrentlyTrue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1", "inv-5"}, got.Sorted())

	// inv-3 falls due between the two reads.
	clock.Set(time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))
	stale, err := gw.CurrentlyFalseButWasOpen(context.Background(), []string{"inv-1", "inv-3"})
	require.NoError(t, err)
	assert.Empty(t, stale.Sorted())
}

func TestSQLGateway_ManyOpenKeysBatched(t *testing.T) {
	db := setupSubjectsDB(t)
	gw, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices", Key: "id"}, overdue, newClock())
	require.NoError(t, err)

	open := []string{"inv-1"}
	for i := 0; i < maxKeysPerQuery+10; i++ {
		open = append(open, "gone-"+strconv.Itoa(i))
	}
	got, err := gw.CurrentlyFalseButWasOpen(context.Background(), open)
	require.NoError(t, err)
	assert.Len(t, got, len(open)-1)
	assert.False(t, got.Has("inv-1"))
}

func TestSQLGateway_InvalidSource(t *testing.T) {
	db := setupSubjectsDB(t)
	_, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices; DROP TABLE x", Key: "id"}, overdue, nil)
	assert.Error(t, err)
}

func TestSQLGateway_InvalidPredicate(t *testing.T) {
	db := setupSubjectsDB(t)
	bad := queryir.Compare{Field: "balance", Op: "~", Value: ir.IRInt(0)}
	_, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices", Key: "id"}, bad, nil)
	assert.Error(t, err)
}

func TestSQLGateway_RawFragment(t *testing.T) {
	db := setupSubjectsDB(t)
	gw, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "invoices", Key: "id"}, queryir.Raw{SQL: `"balance" >= 75`}, nil)
	require.NoError(t, err)

	got, err := gw.CurrentlyTrue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1", "inv-4"}, got.Sorted())
}

func TestSQLGateway_QueryError(t *testing.T) {
	db := setupSubjectsDB(t)
	gw, err := NewSQLGateway(db, querysql.SQLite, Source{Table: "missing", Key: "id"}, overdue, newClock())
	require.NoError(t, err)

	_, err = gw.CurrentlyTrue(context.Background())
	assert.Error(t, err)
}

func TestMemoryGateway_MatchesSQLGateway(t *testing.T) {
	gw, err := NewMemoryGateway(overdue, newClock())
	require.NoError(t, err)

	gw.Set("inv-1", ir.Row{"balance": ir.IRInt(100), "due_date": ir.IRString("2024-03-01")})
	gw.Set("inv-2", ir.Row{"balance": ir.IRInt(0), "due_date": ir.IRString("2024-03-01")})
	gw.Set("inv-3", ir.Row{"balance": ir.IRInt(50), "due_date": ir.IRString("2024-04-01")})
	gw.Set("inv-4", ir.Row{"balance": ir.IRInt(75), "due_date": ir.IRNull{}})
	gw.Set("inv-5", ir.Row{"balance": ir.IRInt(20), "due_date": ir.IRString("2024-02-15")})

	got, err := gw.CurrentlyTrue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1", "inv-5"}, got.Sorted())
}

func TestMemoryGateway_DeletedSubjectIsStale(t *testing.T) {
	gw, err := NewMemoryGateway(overdue, newClock())
	require.NoError(t, err)

	gw.Set("inv-1", ir.Row{"balance": ir.IRInt(100), "due_date": ir.IRString("2024-03-01")})
	gw.Set("inv-2", ir.Row{"balance": ir.IRInt(100), "due_date": ir.IRString("2024-03-01")})
	gw.Delete("inv-2")

	got, err := gw.CurrentlyFalseButWasOpen(context.Background(), []string{"inv-1", "inv-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-2"}, got.Sorted())

	_, ok := gw.Row("inv-2")
	assert.False(t, ok)
}

func TestMemoryGateway_RejectsRaw(t *testing.T) {
	_, err := NewMemoryGateway(queryir.Not{Predicate: queryir.Raw{SQL: "1 = 1"}}, nil)
	assert.Error(t, err)
}

func TestMemoryGateway_NilMatchesAll(t *testing.T) {
	gw, err := NewMemoryGateway(nil, nil)
	require.NoError(t, err)
	gw.Set("a", ir.Row{})

	got, err := gw.CurrentlyTrue(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Has("a"))
}

func TestFuncGateway(t *testing.T) {
	gw := FuncGateway{
		True: func(context.Context) ([]string, error) { return []string{"b", "a"}, nil },
	}

	got, err := gw.CurrentlyTrue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Sorted())

	stale, err := gw.CurrentlyFalseButWasOpen(context.Background(), []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, stale.Sorted())
}

func TestFuncGateway_StillTrue(t *testing.T) {
	var asked []string
	gw := FuncGateway{
		True: func(context.Context) ([]string, error) { return nil, errors.New("not used") },
		StillTrue: func(_ context.Context, open []string) ([]string, error) {
			asked = open
			return []string{"a"}, nil
		},
	}

	stale, err := gw.CurrentlyFalseButWasOpen(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, stale.Sorted())
	assert.Equal(t, []string{"a", "b"}, asked)
}

func TestFuncGateway_Errors(t *testing.T) {
	boom := errors.New("boom")
	gw := FuncGateway{True: func(context.Context) ([]string, error) { return nil, boom }}

	_, err := gw.CurrentlyTrue(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = FuncGateway{}.CurrentlyTrue(context.Background())
	assert.Error(t, err)
}

var _ engine.PredicateGateway = FuncGateway{}
