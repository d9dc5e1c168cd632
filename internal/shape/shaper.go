// Package shape converts a query result into the structured payload that
// the summarizer consumes and the report embeds. Shaping is a pure
// transformation; serialization is canonical (RFC 8785) so the same result
// always produces the same bytes and the same content hash.
package shape

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// Shape projects a QueryResult into a StructuredPayload. The only failure
// mode is an internal invariant violation: a row carrying a column the
// result's column list does not declare. That indicates an executor bug,
// not bad user input.
func Shape(result types.QueryResult, question types.Question, stmt types.SqlStatement) (types.StructuredPayload, error) {
	declared := make(map[string]bool, len(result.Columns))
	for _, c := range result.Columns {
		declared[c] = true
	}
	for i, row := range result.Rows {
		for col := range row {
			if !declared[col] {
				return types.StructuredPayload{}, fmt.Errorf(
					"internal: row %d has undeclared column %q", i, col)
			}
		}
	}

	rows := result.Rows
	if rows == nil {
		rows = []types.Row{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}

	payload := types.StructuredPayload{
		Question:    question.Text,
		Statement:   stmt.Text,
		Columns:     columns,
		Rows:        rows,
		RowCount:    result.RowCount,
		ColumnCount: len(columns),
		Truncated:   result.Truncated,
	}
	logging.ShapeDebug("shaped payload: %d rows x %d cols (truncated=%t)",
		payload.RowCount, payload.ColumnCount, payload.Truncated)
	return payload, nil
}

// Canonical serializes a payload in RFC 8785 canonical form: sorted object
// keys, normalized numbers. Repeated calls over the same payload yield
// identical bytes.
func Canonical(payload types.StructuredPayload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canonical, nil
}

// Hash returns the hex SHA-256 of the canonical payload serialization.
// Narratives are tagged with this hash so staleness is detectable.
func Hash(payload types.StructuredPayload) (string, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
