// Package translate turns a natural-language question plus the schema
// catalog into a single SQL statement. The model's output is untrusted; the
// extracted statement still has to pass the guard before execution.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/schema"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// Reason classifies why a translation failed.
type Reason string

const (
	ReasonProviderFailure    Reason = "provider_failure"
	ReasonNoStatement        Reason = "no_statement"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonNotSelect          Reason = "not_select"
)

// TranslationError indicates the model response contained no usable
// statement or the provider call failed.
type TranslationError struct {
	Reason Reason
	Raw    string
	Err    error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("translation failed (%s)", e.Reason)
}

func (e *TranslationError) Unwrap() error { return e.Err }

const systemPrompt = `You are a SQL generator for a SQLite database.
Rules:
- Output exactly ONE SQL statement and nothing else.
- The statement must be a read-only SELECT. Never write INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, ATTACH or PRAGMA.
- Only use tables and columns from the provided schema.
- Do not explain the query. Do not wrap it in prose.`

// Translator converts questions to SQL statements via the LLM.
type Translator struct {
	client  types.LLMClient
	catalog *schema.Catalog
}

// New creates a Translator bound to a client and a catalog.
func New(client types.LLMClient, catalog *schema.Catalog) *Translator {
	return &Translator{client: client, catalog: catalog}
}

// Translate asks the model for a SQL statement answering the question.
// The returned statement is NOT certified; it must pass the guard first.
func (t *Translator) Translate(ctx context.Context, q types.Question) (types.SqlStatement, error) {
	timer := logging.StartTimer(logging.CategoryTranslate, "Translate")
	defer timer.Stop()

	prompt := t.buildPrompt(q)
	logging.TranslateDebug("question=%q prompt_len=%d", q.Text, len(prompt))

	raw, err := t.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		logging.TranslateError("provider call failed: %v", err)
		return types.SqlStatement{}, &TranslationError{Reason: ReasonProviderFailure, Err: err}
	}

	stmt, terr := ExtractStatement(raw)
	if terr != nil {
		logging.TranslateError("no usable statement in response (%d bytes): %v", len(raw), terr)
		return types.SqlStatement{}, terr
	}

	logging.Translate("question=%q -> %q", q.Text, stmt.Text)
	return stmt, nil
}

func (t *Translator) buildPrompt(q types.Question) string {
	var b strings.Builder
	b.WriteString("Database schema:\n\n")
	b.WriteString(t.catalog.PromptDDL())
	b.WriteString("\nQuestion: ")
	b.WriteString(q.Text)
	b.WriteString("\n\nSQL:")
	return b.String()
}

// ExtractStatement pulls a single SELECT statement out of free-form model
// output. It tolerates markdown code fences and a trailing semicolon, and
// rejects everything else: empty output, multiple statements, non-SELECT
// statements.
func ExtractStatement(raw string) (types.SqlStatement, *TranslationError) {
	text := stripFences(raw)
	text = strings.TrimSpace(text)
	if text == "" {
		return types.SqlStatement{}, &TranslationError{Reason: ReasonNoStatement, Raw: raw}
	}

	statements := splitStatements(text)
	if len(statements) == 0 {
		return types.SqlStatement{}, &TranslationError{Reason: ReasonNoStatement, Raw: raw}
	}
	if len(statements) > 1 {
		return types.SqlStatement{}, &TranslationError{Reason: ReasonMultipleStatements, Raw: raw}
	}

	stmt := strings.TrimSpace(statements[0])
	kind := classify(stmt)
	if kind != types.StatementSelect {
		return types.SqlStatement{}, &TranslationError{Reason: ReasonNotSelect, Raw: raw}
	}

	return types.SqlStatement{Text: stmt, Kind: kind}, nil
}

// stripFences removes markdown code fences. If fenced blocks exist, only
// their contents are kept; a leading "sql" language tag is dropped.
func stripFences(raw string) string {
	if !strings.Contains(raw, "```") {
		return raw
	}

	var blocks []string
	rest := raw
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]
		end := strings.Index(rest, "```")
		if end < 0 {
			// Unterminated fence: take the remainder.
			blocks = append(blocks, rest)
			break
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+3:]
	}

	var b strings.Builder
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		lower := strings.ToLower(block)
		if strings.HasPrefix(lower, "sql\n") {
			block = block[4:]
		} else if lower == "sql" {
			continue
		} else if strings.HasPrefix(lower, "sqlite\n") {
			block = block[7:]
		}
		b.WriteString(block)
		b.WriteString("\n")
	}
	return b.String()
}

// splitStatements splits on semicolons outside string literals and drops
// empty fragments, so "SELECT 1;" is one statement but
// "SELECT 1; SELECT 2" is two.
func splitStatements(text string) []string {
	var statements []string
	var current strings.Builder
	inString := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case ch == '\'':
			// SQL escapes a quote inside a string by doubling it.
			if inString && i+1 < len(text) && text[i+1] == '\'' {
				current.WriteByte(ch)
				current.WriteByte(text[i+1])
				i++
				continue
			}
			inString = !inString
			current.WriteByte(ch)
		case ch == ';' && !inString:
			if s := strings.TrimSpace(current.String()); s != "" {
				statements = append(statements, s)
			}
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		statements = append(statements, s)
	}
	return statements
}

func classify(stmt string) types.StatementKind {
	fields := strings.Fields(strings.ToUpper(stmt))
	if len(fields) == 0 {
		return types.StatementUnknown
	}
	if fields[0] == "SELECT" {
		return types.StatementSelect
	}
	return types.StatementUnknown
}
