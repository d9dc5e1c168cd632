// Package report composes question, payload and narrative into a paginated
// PDF. Rendering is deterministic for identical inputs: the PDF creation
// date is pinned and the file is written atomically, so a re-run with the
// same inputs overwrites the same path with the same bytes and a failed
// render never leaves a partial file behind.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/shape"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// RenderError indicates the output path was not writable or PDF generation
// failed.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed for %q: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Options bounds the rendered table. MaxTableRows is distinct from the
// query row limit: the payload may carry more rows than the PDF shows.
type Options struct {
	MaxTableRows int
}

// Renderer writes reports.
type Renderer struct {
	opts Options
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	if opts.MaxTableRows <= 0 {
		opts.MaxTableRows = 50
	}
	return &Renderer{opts: opts}
}

const maxCellRunes = 40

// Render writes the report PDF to outputPath and returns the Report
// metadata. Sections are fixed: title/question, data table, narrative.
func (r *Renderer) Render(question types.Question, payload types.StructuredPayload, narrative types.Narrative, outputPath string) (types.Report, error) {
	timer := logging.StartTimer(logging.CategoryRender, "Render")
	defer timer.Stop()

	hash, err := shape.Hash(payload)
	if err != nil {
		return types.Report{}, &RenderError{Path: outputPath, Err: err}
	}
	if narrative.PayloadHash != "" && narrative.PayloadHash != hash {
		return types.Report{}, &RenderError{Path: outputPath,
			Err: fmt.Errorf("narrative is stale: payload hash %s != %s", narrative.PayloadHash, hash)}
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	// Pinned so identical inputs produce identical bytes.
	pdf.SetCreationDate(time.Unix(0, 0).UTC())
	pdf.SetTitle("reportflow report", false)
	pdf.AddPage()

	// Core fonts are cp1252; model output and data values are UTF-8.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	r.renderHeader(pdf, tr, question)
	r.renderTable(pdf, tr, payload)
	r.renderNarrative(pdf, tr, narrative)
	r.renderFooter(pdf, tr, payload, hash)

	if err := pdf.Error(); err != nil {
		return types.Report{}, &RenderError{Path: outputPath, Err: err}
	}

	if err := writeAtomic(pdf, outputPath); err != nil {
		logging.Get(logging.CategoryRender).Error("write failed: %v", err)
		return types.Report{}, &RenderError{Path: outputPath, Err: err}
	}

	logging.Render("wrote %s (%d rows, degraded=%t)", outputPath, payload.RowCount, narrative.Degraded)
	return types.Report{
		Path:        outputPath,
		Question:    question.Text,
		PayloadHash: hash,
		RowCount:    payload.RowCount,
		Truncated:   payload.Truncated,
		Degraded:    narrative.Degraded,
		GeneratedAt: time.Now(),
	}, nil
}

func (r *Renderer) renderHeader(pdf *fpdf.Fpdf, tr func(string) string, question types.Question) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, "Data Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, tr("Question: "+question.Text), "", "L", false)
	pdf.Ln(4)
}

func (r *Renderer) renderTable(pdf *fpdf.Fpdf, tr func(string) string, payload types.StructuredPayload) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Data", "", 1, "L", false, 0, "")

	if payload.ColumnCount == 0 || payload.RowCount == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 6, "The query returned no rows.", "", 1, "L", false, 0, "")
		pdf.Ln(4)
		return
	}

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(payload.ColumnCount)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range payload.Columns {
		pdf.CellFormat(colWidth, 7, tr(clip(col)), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	shown := payload.RowCount
	if shown > r.opts.MaxTableRows {
		shown = r.opts.MaxTableRows
	}
	for i := 0; i < shown; i++ {
		row := payload.Rows[i]
		for _, col := range payload.Columns {
			pdf.CellFormat(colWidth, 6, tr(clip(formatValue(row[col]))), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Helvetica", "I", 8)
	if shown < payload.RowCount {
		pdf.CellFormat(0, 5, fmt.Sprintf("Showing %d of %d rows.", shown, payload.RowCount), "", 1, "L", false, 0, "")
	}
	if payload.Truncated {
		pdf.CellFormat(0, 5, "Result set was truncated at the row limit.", "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func (r *Renderer) renderNarrative(pdf *fpdf.Fpdf, tr func(string) string, narrative types.Narrative) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")

	if narrative.Degraded {
		pdf.SetFont("Helvetica", "BI", 10)
		pdf.CellFormat(0, 6, "Automatic summarization was unavailable for this report.", "", 1, "L", false, 0, "")
	}
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5.5, tr(narrative.Text), "", "L", false)
	pdf.Ln(4)
}

func (r *Renderer) renderFooter(pdf *fpdf.Fpdf, tr func(string) string, payload types.StructuredPayload, hash string) {
	pdf.SetFont("Helvetica", "", 7)
	pdf.SetTextColor(120, 120, 120)
	pdf.MultiCell(0, 4, tr("Statement: "+payload.Statement), "", "L", false)
	pdf.CellFormat(0, 4, fmt.Sprintf("Payload: %d rows x %d columns, sha256 %s", payload.RowCount, payload.ColumnCount, hash), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 4, "Generated by reportflow", "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

// writeAtomic renders to a temp file in the target directory and renames it
// into place, so a crash mid-write cannot leave a partial PDF at the
// report path.
func writeAtomic(pdf *fpdf.Fpdf, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.pdf.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := pdf.Output(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	switch typed := v.(type) {
	case float64:
		return fmt.Sprintf("%.4g", typed)
	default:
		return fmt.Sprint(v)
	}
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= maxCellRunes {
		return s
	}
	return string(runes[:maxCellRunes-3]) + "..."
}
