package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/execute"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/guard"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/pipeline"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/report"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/schema"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/summarize"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/translate"
)

type cannedLLM struct {
	statement string
}

func (c *cannedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *cannedLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if strings.Contains(user, "CREATE TABLE") {
		return c.statement, nil
	}
	return "A brief summary of the result.", nil
}

func testServer(t *testing.T, statement string) *Server {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sample.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, state TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO customers (name, state) VALUES ('alice', 'CA'), ('bob', 'TX')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	catalog, err := schema.Load(dbPath)
	require.NoError(t, err)

	client := &cannedLLM{statement: statement}
	runner := pipeline.NewRunner(
		catalog,
		translate.New(client, catalog),
		guard.New(catalog, 1000),
		execute.New(dbPath, 1000, 10*time.Second),
		summarize.New(client, summarize.Options{MaxAttempts: 1, InitialBackoff: time.Millisecond}),
		report.New(report.Options{}),
		pipeline.Options{OutputPath: filepath.Join(dir, "reports", "report.pdf")},
	)
	return New(runner, time.Minute)
}

func postAsk(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAsk_Success(t *testing.T) {
	srv := testServer(t, "SELECT state, COUNT(*) AS cnt FROM customers GROUP BY state")

	rec := postAsk(t, srv.Handler(), `{"question": "How many customers per state?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Report)
	assert.Nil(t, resp.Failure)
	assert.Equal(t, 2, resp.Report.RowCount)
	assert.FileExists(t, resp.Report.Path)
}

func TestAsk_PipelineFailure(t *testing.T) {
	srv := testServer(t, "SELECT secret FROM credentials")

	rec := postAsk(t, srv.Handler(), `{"question": "Show secrets"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Failure)
	assert.Nil(t, resp.Report)
	assert.Equal(t, "validating", resp.Failure.Stage)
	assert.NotEmpty(t, resp.Failure.Cause)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	srv := testServer(t, "SELECT 1")

	rec := postAsk(t, srv.Handler(), `{"question": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk_MalformedBody(t *testing.T) {
	srv := testServer(t, "SELECT 1")

	rec := postAsk(t, srv.Handler(), `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk_MethodNotAllowed(t *testing.T) {
	srv := testServer(t, "SELECT 1")

	req := httptest.NewRequest(http.MethodGet, "/ask", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, "SELECT 1")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}
