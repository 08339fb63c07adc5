// Package report renders one audit run into its three outputs: a JSON
// evidence file, a PDF for auditors and a markdown summary for the pull
// request.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/auditlane/auditlane/internal/compliance"
	"github.com/auditlane/auditlane/internal/pii"
	"github.com/auditlane/auditlane/pkg/cache"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/resilience"
)

// Report is everything one audit run produced.
type Report struct {
	RunID       uuid.UUID              `json:"run_id"`
	Repository  string                 `json:"repository"`
	CommitSHA   string                 `json:"commit_sha"`
	GeneratedAt time.Time              `json:"generated_at"`
	Frameworks  []compliance.Framework `json:"frameworks"`

	Summary  compliance.Summary         `json:"summary"`
	Controls []compliance.ControlResult `json:"controls"`

	PIIFindings []pii.Finding `json:"pii_findings,omitempty"`
	Remediation string        `json:"remediation,omitempty"`

	CacheStats    cache.Stats        `json:"cache_stats"`
	LimiterStatus resilience.Status  `json:"rate_limiter_status"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}

// New assembles a report shell with a fresh run ID; the caller fills in
// the result sections.
func New(repository, commitSHA string, frameworks []compliance.Framework) *Report {
	return &Report{
		RunID:       uuid.New(),
		Repository:  repository,
		CommitSHA:   commitSHA,
		GeneratedAt: time.Now(),
		Frameworks:  frameworks,
	}
}

// Writer persists reports into the configured output directory.
type Writer struct {
	outputDir string
	logger    *logging.Logger
}

// NewWriter creates a writer rooted at outputDir.
func NewWriter(outputDir string, logger *logging.Logger) *Writer {
	return &Writer{outputDir: outputDir, logger: logger}
}

// WriteJSON writes the full evidence report and returns its path.
func (w *Writer) WriteJSON(report *Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.NewReportGenerationError("json", "failed to marshal report").WithCause(err)
	}

	path, err := w.write(report, "json", data)
	if err != nil {
		return "", err
	}
	w.logger.WithComponent("report").Info("wrote JSON report", "path", path, "bytes", len(data))
	return path, nil
}

func (w *Writer) write(report *Report, extension string, data []byte) (string, error) {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return "", errors.NewReportGenerationError(extension, "failed to create output directory").WithCause(err)
	}

	filename := fmt.Sprintf("auditlane_%s.%s", report.GeneratedAt.Format("20060102_150405"), extension)
	path := filepath.Join(w.outputDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.NewReportGenerationError(extension, "failed to write report file").WithCause(err)
	}
	return path, nil
}
