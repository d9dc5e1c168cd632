// Package types holds the data model shared by the pipeline stages.
// Every stage consumes the previous stage's output type; nothing here is
// mutated after construction except where a field is documented as a stamp
// (SqlStatement.Certified).
package types

import "time"

// Question is a single user request. A Question never outlives one
// pipeline run.
type Question struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// StatementKind tags what kind of SQL statement the translator produced.
type StatementKind string

const (
	StatementSelect  StatementKind = "select"
	StatementUnknown StatementKind = "unknown"
)

// SqlStatement is a translated query. Certified is stamped by the guard and
// checked by the executor; a statement that never passed the guard must not
// reach execution.
type SqlStatement struct {
	Text string        `json:"text"`
	Kind StatementKind `json:"kind"`

	// SchemaFingerprint identifies the catalog version the statement was
	// validated against.
	SchemaFingerprint string `json:"schema_fingerprint,omitempty"`

	// Certified is true only after the guard accepted the statement.
	Certified bool `json:"certified"`
}

// Row maps column name to a scalar value (string, int64, float64, bool or nil).
type Row map[string]any

// QueryResult is the materialized output of one executed statement.
// RowCount is always len(Rows) and never exceeds the configured row limit;
// Truncated is set whenever the underlying cursor had more rows available.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      []Row    `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// StructuredPayload is the JSON-serializable projection of a QueryResult plus
// metadata. It is the contract handed to the summarizer and embedded in the
// report, and must serialize identically on repeated calls (canonical form).
type StructuredPayload struct {
	Question    string   `json:"question"`
	Statement   string   `json:"statement"`
	Columns     []string `json:"columns"`
	Rows        []Row    `json:"rows"`
	RowCount    int      `json:"row_count"`
	ColumnCount int      `json:"column_count"`
	Truncated   bool     `json:"truncated"`
}

// Narrative is the prose summary of a payload. PayloadHash ties it to the
// exact payload it summarizes so staleness is detectable.
type Narrative struct {
	Text        string `json:"text"`
	PayloadHash string `json:"payload_hash"`
	Degraded    bool   `json:"degraded"`
	Attempts    int    `json:"attempts"`
}

// Report is the final artifact of a pipeline run.
type Report struct {
	Path        string    `json:"path"`
	Question    string    `json:"question"`
	PayloadHash string    `json:"payload_hash"`
	RowCount    int       `json:"row_count"`
	Truncated   bool      `json:"truncated"`
	Degraded    bool      `json:"degraded"`
	GeneratedAt time.Time `json:"generated_at"`
}
