// Package reporting renders run summaries for operators.
package reporting

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/seccorpus/certmap/internal/core/domain"
)

// PDFExporter renders run-log records to PDF.
type PDFExporter struct{}

// NewPDFExporter creates a new PDF exporter instance.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// ExportRunSummary generates a one-page PDF summary of a pipeline run.
func (e *PDFExporter) ExportRunSummary(run *domain.RunRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	e.addHeader(pdf, run)
	e.addOutcome(pdf, run)
	e.addStats(pdf, run)
	e.addStates(pdf, run)
	e.addFooter(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, run *domain.RunRecord) {
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 14, fmt.Sprintf("Dataset run: %s", run.Dataset), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 6, fmt.Sprintf("Run %s", run.RunID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Started %s, finished %s",
		run.StartTime.Format(time.RFC3339), run.EndTime.Format(time.RFC3339)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Tool version %s", run.ToolVersion), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func (e *PDFExporter) addOutcome(pdf *gofpdf.Fpdf, run *domain.RunRecord) {
	pdf.SetFont("Arial", "B", 14)
	if run.OK {
		pdf.SetTextColor(0, 128, 0)
		pdf.CellFormat(0, 10, "OK", "", 1, "L", false, 0, "")
	} else {
		pdf.SetTextColor(178, 34, 34)
		pdf.CellFormat(0, 10, "FAILED", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, run.Error, "", "L", false)
	}
	pdf.Ln(4)
}

func (e *PDFExporter) addStats(pdf *gofpdf.Fpdf, run *domain.RunRecord) {
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Reconciliation", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)

	rows := [][2]string{
		{"Population size", fmt.Sprintf("%d", run.Length)},
		{"New records", fmt.Sprintf("%d", run.Stats.NewCerts)},
		{"Records compared", fmt.Sprintf("%d", run.Stats.UpdatedIDs)},
		{"Records changed", fmt.Sprintf("%d", run.Stats.ChangedIDs)},
		{"Records removed", fmt.Sprintf("%d", run.Stats.RemovedIDs)},
	}
	for _, row := range rows {
		pdf.CellFormat(60, 6, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, row[1], "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)
}

func (e *PDFExporter) addStates(pdf *gofpdf.Fpdf, run *domain.RunRecord) {
	if len(run.Stats.CertStates) == 0 {
		return
	}
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Document states", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)

	flags := make([]string, 0, len(run.Stats.CertStates))
	for flag := range run.Stats.CertStates {
		flags = append(flags, flag)
	}
	sort.Strings(flags)
	for _, flag := range flags {
		pdf.CellFormat(60, 6, flag, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", run.Stats.CertStates[flag]), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)
}

func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf) {
	pdf.SetY(-20)
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(150, 150, 150)
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated %s by certmap", time.Now().UTC().Format(time.RFC3339)), "", 1, "C", false, 0, "")
}
