// Package summarize produces the prose narrative for a structured payload
// by calling the LLM with a bounded-size prompt. Transient provider
// failures are retried with exponential backoff; malformed responses are
// not. On exhaustion the caller decides whether to degrade.
package summarize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/llm"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/shape"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// SummarizationError indicates the provider failed after the retry budget
// was exhausted, or returned an unusable response.
type SummarizationError struct {
	Attempts int
	Err      error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarization failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// Options bounds the summarizer's retry policy and prompt size.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxPromptRows  int
}

const systemPrompt = `You are a data analyst. You receive a question and the
query result that answers it, as JSON. Write a short prose summary (one or
two paragraphs) of what the data shows: the headline numbers, notable
extremes, and anything an analyst would call out. Plain text only, no
markdown, no code.`

// Summarizer turns payloads into narratives.
type Summarizer struct {
	client types.LLMClient
	opts   Options
}

// New creates a Summarizer.
func New(client types.LLMClient, opts Options) *Summarizer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxPromptRows <= 0 {
		opts.MaxPromptRows = 50
	}
	return &Summarizer{client: client, opts: opts}
}

// Summarize asks the model for a narrative over the payload. The returned
// narrative carries the payload's content hash so a caller can detect
// staleness if the payload changes after narration.
func (s *Summarizer) Summarize(ctx context.Context, payload types.StructuredPayload) (types.Narrative, error) {
	timer := logging.StartTimer(logging.CategorySummarize, "Summarize")
	defer timer.Stop()

	hash, err := shape.Hash(payload)
	if err != nil {
		return types.Narrative{}, &SummarizationError{Attempts: 0, Err: err}
	}

	prompt := s.buildPrompt(payload)
	logging.SummarizeDebug("prompt_len=%d rows=%d", len(prompt), payload.RowCount)

	backoff := s.opts.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			logging.SummarizeWarn("attempt %d/%d after transient failure: %v", attempt, s.opts.MaxAttempts, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return types.Narrative{}, &SummarizationError{Attempts: attempt - 1, Err: ctx.Err()}
			}
			backoff *= 2
		}

		text, err := s.client.CompleteWithSystem(ctx, systemPrompt, prompt)
		if err != nil {
			lastErr = err
			if llm.IsTransient(err) {
				continue
			}
			// Non-transient errors burn no further attempts.
			return types.Narrative{}, &SummarizationError{Attempts: attempt, Err: err}
		}

		text = strings.TrimSpace(text)
		if text == "" {
			// An empty completion is malformed output, not a provider
			// hiccup; retrying the same prompt is pointless.
			return types.Narrative{}, &SummarizationError{Attempts: attempt, Err: fmt.Errorf("empty narrative")}
		}

		logging.Summarize("narrative produced on attempt %d (%d bytes)", attempt, len(text))
		return types.Narrative{
			Text:        text,
			PayloadHash: hash,
			Attempts:    attempt,
		}, nil
	}

	return types.Narrative{}, &SummarizationError{Attempts: s.opts.MaxAttempts, Err: lastErr}
}

// Placeholder builds the degraded-mode narrative for a payload. The
// orchestrator uses it when retries are exhausted so the report can still
// be produced, explicitly flagged.
func Placeholder(text string, payload types.StructuredPayload, attempts int) (types.Narrative, error) {
	hash, err := shape.Hash(payload)
	if err != nil {
		return types.Narrative{}, err
	}
	return types.Narrative{
		Text:        text,
		PayloadHash: hash,
		Degraded:    true,
		Attempts:    attempts,
	}, nil
}

// buildPrompt renders the payload for the model. Small results are
// enumerated row by row; large results are described statistically so the
// prompt stays bounded regardless of the query.
func (s *Summarizer) buildPrompt(payload types.StructuredPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", payload.Question)
	fmt.Fprintf(&b, "SQL: %s\n", payload.Statement)
	fmt.Fprintf(&b, "Result: %d rows, %d columns", payload.RowCount, payload.ColumnCount)
	if payload.Truncated {
		b.WriteString(" (truncated at the row limit)")
	}
	b.WriteString("\n\n")

	if payload.RowCount <= s.opts.MaxPromptRows {
		b.WriteString("Rows:\n")
		canonical, err := shape.Canonical(payload)
		if err == nil {
			b.Write(canonical)
			b.WriteString("\n")
			return b.String()
		}
		// Fall through to the statistical rendering if canonicalization
		// failed; the summarizer should not be the stage that aborts a run.
	}

	b.WriteString("The result is too large to enumerate. Column statistics:\n")
	for _, col := range payload.Columns {
		b.WriteString(describeColumn(col, payload.Rows))
		b.WriteString("\n")
	}
	return b.String()
}

const maxDistinctTracked = 1000

// describeColumn computes bounded per-column aggregates: numeric min/max/avg
// or distinct counts with a few sample values.
func describeColumn(col string, rows []types.Row) string {
	var (
		numeric      int
		sum, min, mx float64
		distinct     = make(map[string]struct{})
	)

	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		if f, isNum := asFloat(v); isNum {
			if numeric == 0 {
				min, mx = f, f
			}
			if f < min {
				min = f
			}
			if f > mx {
				mx = f
			}
			sum += f
			numeric++
			continue
		}
		if len(distinct) < maxDistinctTracked {
			distinct[fmt.Sprint(v)] = struct{}{}
		}
	}

	if numeric > 0 {
		return fmt.Sprintf("- %s: numeric, min=%.4g max=%.4g avg=%.4g over %d values",
			col, min, mx, sum/float64(numeric), numeric)
	}

	samples := make([]string, 0, len(distinct))
	for v := range distinct {
		samples = append(samples, v)
	}
	sort.Strings(samples)
	if len(samples) > 5 {
		samples = samples[:5]
	}
	return fmt.Sprintf("- %s: %d distinct values, e.g. %s", col, len(distinct), strings.Join(samples, ", "))
}

func asFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case int64:
		return float64(typed), true
	case int:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}
