package translate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/schema"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// stubClient returns canned completions.
type stubClient struct {
	response string
	err      error
	lastUser string
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.lastUser = userPrompt
	return s.response, s.err
}

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, state TEXT NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	catalog, err := schema.Load(path)
	require.NoError(t, err)
	return catalog
}

func TestTranslate_HappyPath(t *testing.T) {
	client := &stubClient{response: "SELECT state, COUNT(*) FROM customers GROUP BY state"}
	tr := New(client, testCatalog(t))

	stmt, err := tr.Translate(context.Background(), types.Question{Text: "Customer count by state"})
	require.NoError(t, err)

	assert.Equal(t, types.StatementSelect, stmt.Kind)
	assert.False(t, stmt.Certified, "translator output must not be pre-certified")
	assert.Contains(t, stmt.Text, "GROUP BY state")
}

func TestTranslate_PromptEmbedsSchemaAndQuestion(t *testing.T) {
	client := &stubClient{response: "SELECT 1 FROM customers"}
	tr := New(client, testCatalog(t))

	_, err := tr.Translate(context.Background(), types.Question{Text: "how many customers?"})
	require.NoError(t, err)

	assert.Contains(t, client.lastUser, "CREATE TABLE customers")
	assert.Contains(t, client.lastUser, "how many customers?")
}

func TestTranslate_ProviderFailure(t *testing.T) {
	client := &stubClient{err: fmt.Errorf("rate limit exceeded (429)")}
	tr := New(client, testCatalog(t))

	_, err := tr.Translate(context.Background(), types.Question{Text: "anything"})

	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonProviderFailure, terr.Reason)
	assert.True(t, errors.Is(err, client.err) || terr.Err != nil)
}

func TestExtractStatement(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		failure Reason
	}{
		{
			name: "bare statement",
			raw:  "SELECT state FROM customers",
			want: "SELECT state FROM customers",
		},
		{
			name: "trailing semicolon is one statement",
			raw:  "SELECT state FROM customers;",
			want: "SELECT state FROM customers",
		},
		{
			name: "sql fenced block",
			raw:  "Here is the query:\n```sql\nSELECT state FROM customers\n```\nEnjoy!",
			want: "SELECT state FROM customers",
		},
		{
			name: "plain fenced block",
			raw:  "```\nSELECT state FROM customers\n```",
			want: "SELECT state FROM customers",
		},
		{
			name:    "empty response",
			raw:     "   \n",
			failure: ReasonNoStatement,
		},
		{
			name:    "prose only fence tag",
			raw:     "```sql\n```",
			failure: ReasonNoStatement,
		},
		{
			name:    "multiple statements",
			raw:     "SELECT 1; SELECT 2",
			failure: ReasonMultipleStatements,
		},
		{
			name:    "mutation",
			raw:     "DELETE FROM customers",
			failure: ReasonNotSelect,
		},
		{
			name:    "cte is not a plain select",
			raw:     "WITH t AS (SELECT 1) SELECT * FROM t",
			failure: ReasonNotSelect,
		},
		{
			name: "semicolon inside string literal",
			raw:  "SELECT state FROM customers WHERE state = 'a;b'",
			want: "SELECT state FROM customers WHERE state = 'a;b'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, terr := ExtractStatement(tt.raw)
			if tt.failure != "" {
				require.NotNil(t, terr)
				assert.Equal(t, tt.failure, terr.Reason)
				return
			}
			require.Nil(t, terr)
			assert.Equal(t, tt.want, stmt.Text)
			assert.Equal(t, types.StatementSelect, stmt.Kind)
		})
	}
}
