// Package execute runs certified statements against the embedded SQLite
// database. The connection is scoped to one run and released on every exit
// path; results are materialized up to the configured row limit with an
// explicit truncation flag.
package execute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// Kind classifies an execution failure.
type Kind string

const (
	KindNotFound       Kind = "not_found"       // database file missing
	KindSyntaxRejected Kind = "syntax_rejected" // engine rejected the statement
	KindTimeout        Kind = "timeout"         // execution exceeded the deadline
	KindInternal       Kind = "internal"        // anything else
)

// ExecutionError wraps a database failure with its kind.
type ExecutionError struct {
	Kind Kind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Executor runs statements against one database file.
type Executor struct {
	dbPath   string
	rowLimit int
	timeout  time.Duration
}

// New creates an Executor.
func New(dbPath string, rowLimit int, timeout time.Duration) *Executor {
	return &Executor{dbPath: dbPath, rowLimit: rowLimit, timeout: timeout}
}

// Execute runs a certified statement and materializes up to rowLimit rows.
// Statements that never passed the guard are refused outright.
func (e *Executor) Execute(ctx context.Context, stmt types.SqlStatement) (types.QueryResult, error) {
	timer := logging.StartTimer(logging.CategoryExecute, "Execute")
	defer timer.Stop()

	var result types.QueryResult

	if !stmt.Certified {
		return result, &ExecutionError{Kind: KindInternal, Err: fmt.Errorf("statement was not certified by the guard")}
	}

	if _, err := os.Stat(e.dbPath); err != nil {
		logging.ExecuteError("database missing at %s: %v", e.dbPath, err)
		return result, &ExecutionError{Kind: KindNotFound, Err: err}
	}

	db, err := sql.Open("sqlite", "file:"+e.dbPath+"?mode=ro")
	if err != nil {
		return result, &ExecutionError{Kind: KindInternal, Err: err}
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logging.ExecuteDebug("running: %s", stmt.Text)
	rows, err := db.QueryContext(ctx, stmt.Text)
	if err != nil {
		return result, classify(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return result, &ExecutionError{Kind: KindInternal, Err: err}
	}
	result.Columns = cols

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if len(result.Rows) >= e.rowLimit {
			// The guard's LIMIT normally prevents this, but the flag must be
			// set whenever the cursor has more rows than we keep.
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return types.QueryResult{}, &ExecutionError{Kind: KindInternal, Err: err}
		}
		row := make(types.Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(raw[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return types.QueryResult{}, classify(ctx, err)
	}

	result.RowCount = len(result.Rows)
	logging.Execute("returned %d rows (truncated=%t)", result.RowCount, result.Truncated)
	return result, nil
}

// normalize maps driver values onto the payload scalar set: string, int64,
// float64, bool or nil.
func normalize(v any) any {
	switch typed := v.(type) {
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return v
	}
}

func classify(ctx context.Context, err error) *ExecutionError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{Kind: KindTimeout, Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such function") {
		return &ExecutionError{Kind: KindSyntaxRejected, Err: err}
	}
	return &ExecutionError{Kind: KindInternal, Err: err}
}
