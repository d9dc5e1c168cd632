// Package pipeline sequences the stages from question to report. Each run
// walks Translating -> Validating -> Executing -> Shaping -> Summarizing ->
// Rendering -> Done; any failure short-circuits to Failed with the stage
// and cause, except an exhausted summarizer, which degrades the run
// instead of aborting it. Runs are independent: concurrent runs share only
// the read-only catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/execute"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/guard"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/report"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/schema"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/shape"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/summarize"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/translate"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// Stage names the pipeline states.
type Stage string

const (
	StageTranslating Stage = "translating"
	StageValidating  Stage = "validating"
	StageExecuting   Stage = "executing"
	StageShaping     Stage = "shaping"
	StageSummarizing Stage = "summarizing"
	StageRendering   Stage = "rendering"
	StageDone        Stage = "done"
)

// StageFailure is the terminal Failed state: which stage failed and why.
// No partial output accompanies it.
type StageFailure struct {
	Stage Stage
	Cause error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Cause)
}

func (e *StageFailure) Unwrap() error { return e.Cause }

// AsStageFailure extracts a StageFailure from err, if present.
func AsStageFailure(err error) (*StageFailure, bool) {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf, true
	}
	return nil, false
}

// Runner wires the stages together. Construct once; Run may be called
// concurrently, each call owning its own per-run state.
type Runner struct {
	catalog    *schema.Catalog
	translator *translate.Translator
	guard      *guard.Guard
	executor   *execute.Executor
	summarizer *summarize.Summarizer
	renderer   *report.Renderer

	outputPath  string
	placeholder string
}

// Options configures a Runner.
type Options struct {
	OutputPath  string
	Placeholder string // degraded-mode narrative text
}

// NewRunner assembles the pipeline.
func NewRunner(
	catalog *schema.Catalog,
	translator *translate.Translator,
	g *guard.Guard,
	executor *execute.Executor,
	summarizer *summarize.Summarizer,
	renderer *report.Renderer,
	opts Options,
) *Runner {
	placeholder := opts.Placeholder
	if placeholder == "" {
		placeholder = "Summary unavailable."
	}
	return &Runner{
		catalog:     catalog,
		translator:  translator,
		guard:       g,
		executor:    executor,
		summarizer:  summarizer,
		renderer:    renderer,
		outputPath:  opts.OutputPath,
		placeholder: placeholder,
	}
}

// Run executes the full pipeline for one question. It returns either a
// complete Report or a *StageFailure; there is no partial success other
// than the explicit degraded-narrative case, which still yields a complete
// Report with Degraded set.
func (r *Runner) Run(ctx context.Context, question types.Question) (types.Report, error) {
	return r.RunTo(ctx, question, r.outputPath)
}

// RunTo is Run with an explicit report path, used when several questions
// are answered concurrently and each needs its own file.
func (r *Runner) RunTo(ctx context.Context, question types.Question, outputPath string) (types.Report, error) {
	runID := uuid.NewString()[:8]
	timer := logging.StartTimer(logging.CategoryPipeline, "Run "+runID)
	defer timer.StopWithInfo()

	logging.Pipeline("[%s] question=%q", runID, question.Text)

	// Translating
	stmt, err := r.translator.Translate(ctx, question)
	if err != nil {
		return r.fail(runID, StageTranslating, err)
	}

	// Validating
	certified, err := r.guard.Validate(stmt)
	if err != nil {
		return r.fail(runID, StageValidating, err)
	}

	// Executing
	result, err := r.executor.Execute(ctx, certified)
	if err != nil {
		return r.fail(runID, StageExecuting, err)
	}

	// Shaping
	payload, err := shape.Shape(result, question, certified)
	if err != nil {
		return r.fail(runID, StageShaping, err)
	}

	// Summarizing: the one stage allowed to degrade instead of aborting.
	narrative, err := r.summarizer.Summarize(ctx, payload)
	if err != nil {
		// Degraded mode covers provider failure, not a caller that gave up:
		// a cancelled run aborts without writing anything.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return r.fail(runID, StageSummarizing, err)
		}
		var serr *summarize.SummarizationError
		attempts := 0
		if errors.As(err, &serr) {
			attempts = serr.Attempts
		}
		logging.PipelineWarn("[%s] summarizer exhausted (%v); degrading", runID, err)
		narrative, err = summarize.Placeholder(r.placeholder, payload, attempts)
		if err != nil {
			return r.fail(runID, StageSummarizing, err)
		}
	}

	// Rendering
	rep, err := r.renderer.Render(question, payload, narrative, outputPath)
	if err != nil {
		return r.fail(runID, StageRendering, err)
	}

	logging.Pipeline("[%s] done: %s (degraded=%t)", runID, rep.Path, rep.Degraded)
	return rep, nil
}

func (r *Runner) fail(runID string, stage Stage, cause error) (types.Report, error) {
	logging.PipelineError("[%s] failed at %s: %v", runID, stage, cause)
	return types.Report{}, &StageFailure{Stage: stage, Cause: cause}
}
