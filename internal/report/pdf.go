package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/auditlane/auditlane/internal/compliance"
	"github.com/auditlane/auditlane/pkg/errors"
)

// WritePDF renders the auditor-facing PDF and returns its path.
func (w *Writer) WritePDF(report *Report) (string, error) {
	data, err := renderPDF(report)
	if err != nil {
		return "", err
	}

	path, err := w.write(report, "pdf", data)
	if err != nil {
		return "", err
	}
	w.logger.WithComponent("report").Info("wrote PDF report", "path", path, "bytes", len(data))
	return path, nil
}

func renderPDF(report *Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Compliance Evidence Report")
	pdf.Ln(15)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 6, fmt.Sprintf("Repository: %s", report.Repository))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Commit: %s", report.CommitSHA))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Run ID: %s", report.RunID))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Frameworks: %s", joinFrameworks(report.Frameworks)))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 6, fmt.Sprintf("Controls Evaluated: %d", report.Summary.Total))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Passed: %d", report.Summary.Passed))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Failed: %d", report.Summary.Failed))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Evidence Errors: %d", report.Summary.Errors))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Control Details")
	pdf.Ln(10)

	for i, control := range report.Controls {
		if i > 0 {
			pdf.Ln(4)
		}

		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(40, 6, fmt.Sprintf("%s [%s]", control.ID, control.Status))
		pdf.Ln(6)

		pdf.SetFont("Arial", "", 9)
		pdf.Cell(40, 5, fmt.Sprintf("Framework: %s", control.Framework))
		pdf.Ln(5)
		pdf.MultiCell(0, 4, fmt.Sprintf("%s: %s", control.Title, control.Detail), "", "", false)

		if pdf.GetY() > 250 {
			pdf.AddPage()
		}
	}

	if len(report.PIIFindings) > 0 {
		pdf.Ln(8)
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 10, "Personal Data Findings")
		pdf.Ln(10)

		pdf.SetFont("Arial", "", 9)
		for _, finding := range report.PIIFindings {
			pdf.Cell(40, 5, fmt.Sprintf("%s at %s: %s", finding.Type, finding.Location, finding.Redacted))
			pdf.Ln(5)
		}
	}

	if report.Remediation != "" {
		pdf.Ln(8)
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 10, "Suggested Remediations")
		pdf.Ln(10)

		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 4, report.Remediation, "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.NewReportGenerationError("pdf", "failed to render PDF").WithCause(err)
	}
	return buf.Bytes(), nil
}

func joinFrameworks(frameworks []compliance.Framework) string {
	names := make([]string, len(frameworks))
	for i, f := range frameworks {
		names[i] = strings.ToUpper(string(f))
	}
	return strings.Join(names, ", ")
}
