package execute

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/guard"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/schema"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

func testDB(t *testing.T, customers int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, state TEXT NOT NULL)`)
	require.NoError(t, err)

	states := []string{"CA", "TX", "FL", "NY"}
	for i := 0; i < customers; i++ {
		_, err := db.Exec(`INSERT INTO customers (name, state) VALUES (?, ?)`,
			fmt.Sprintf("customer-%d", i), states[i%len(states)])
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	return path
}

func certified(text string) types.SqlStatement {
	return types.SqlStatement{Text: text, Kind: types.StatementSelect, Certified: true}
}

func TestExecute_HappyPath(t *testing.T) {
	path := testDB(t, 8)
	e := New(path, 100, 5*time.Second)

	result, err := e.Execute(context.Background(), certified(
		"SELECT state, COUNT(*) AS cnt FROM customers GROUP BY state ORDER BY state"))
	require.NoError(t, err)

	assert.Equal(t, []string{"state", "cnt"}, result.Columns)
	assert.Equal(t, 4, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, "CA", result.Rows[0]["state"])
	assert.Equal(t, int64(2), result.Rows[0]["cnt"])
}

func TestExecute_TruncatesAtRowLimit(t *testing.T) {
	path := testDB(t, 20)
	e := New(path, 5, 5*time.Second)

	result, err := e.Execute(context.Background(), certified("SELECT name FROM customers"))
	require.NoError(t, err)

	assert.Equal(t, 5, result.RowCount)
	assert.Len(t, result.Rows, 5)
	assert.True(t, result.Truncated, "truncation flag must be set when the cursor had more rows")
}

func TestExecute_TruncatesWithCertifiedLimit(t *testing.T) {
	path := testDB(t, 20)
	catalog, err := schema.Load(path)
	require.NoError(t, err)

	// The full path: the guard injects its limit, the executor detects the
	// overflow row and flags the truncation.
	g := guard.New(catalog, 5)
	stmt, err := g.Validate(types.SqlStatement{
		Text: "SELECT name FROM customers",
		Kind: types.StatementSelect,
	})
	require.NoError(t, err)

	result, err := New(path, 5, 5*time.Second).Execute(context.Background(), stmt)
	require.NoError(t, err)

	assert.Equal(t, 5, result.RowCount)
	assert.True(t, result.Truncated, "the table has more rows than the limit; the flag must be set")
}

func TestExecute_NoTruncationWithCertifiedLimitExhausted(t *testing.T) {
	path := testDB(t, 5)
	catalog, err := schema.Load(path)
	require.NoError(t, err)

	g := guard.New(catalog, 5)
	stmt, err := g.Validate(types.SqlStatement{
		Text: "SELECT name FROM customers",
		Kind: types.StatementSelect,
	})
	require.NoError(t, err)

	result, err := New(path, 5, 5*time.Second).Execute(context.Background(), stmt)
	require.NoError(t, err)

	assert.Equal(t, 5, result.RowCount)
	assert.False(t, result.Truncated, "the source was exhausted exactly at the limit")
}

func TestExecute_NoTruncationWhenExhausted(t *testing.T) {
	path := testDB(t, 5)
	e := New(path, 5, 5*time.Second)

	result, err := e.Execute(context.Background(), certified("SELECT name FROM customers"))
	require.NoError(t, err)

	assert.Equal(t, 5, result.RowCount)
	assert.False(t, result.Truncated)
}

func TestExecute_MissingDatabase(t *testing.T) {
	e := New(filepath.Join(t.TempDir(), "nope.db"), 100, 5*time.Second)

	_, err := e.Execute(context.Background(), certified("SELECT 1"))

	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, KindNotFound, eerr.Kind)
}

func TestExecute_EngineRejectsStatement(t *testing.T) {
	path := testDB(t, 1)
	e := New(path, 100, 5*time.Second)

	// Passed the guard in form but the engine still refuses it.
	_, err := e.Execute(context.Background(), certified("SELECT FROM WHERE"))

	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, KindSyntaxRejected, eerr.Kind)
}

func TestExecute_RefusesUncertifiedStatement(t *testing.T) {
	path := testDB(t, 1)
	e := New(path, 100, 5*time.Second)

	_, err := e.Execute(context.Background(), types.SqlStatement{
		Text: "SELECT name FROM customers",
		Kind: types.StatementSelect,
	})

	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, KindInternal, eerr.Kind)
	assert.Contains(t, eerr.Error(), "certified")
}

func TestExecute_NullValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nulls.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE t (a TEXT, b INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (a, b) VALUES (NULL, 7)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	e := New(path, 100, 5*time.Second)
	result, err := e.Execute(context.Background(), certified("SELECT a, b FROM t"))
	require.NoError(t, err)

	assert.Nil(t, result.Rows[0]["a"])
	assert.Equal(t, int64(7), result.Rows[0]["b"])
}
