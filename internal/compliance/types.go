package compliance

import (
	"strings"

	"github.com/auditlane/auditlane/pkg/errors"
)

// Framework identifies a compliance framework the engine can evaluate.
type Framework string

const (
	FrameworkSOC2     Framework = "soc2"
	FrameworkGDPR     Framework = "gdpr"
	FrameworkISO27001 Framework = "iso27001"
)

// ParseFrameworks validates and normalizes framework names from action
// input. Unknown names fail the whole parse; a partial audit against a
// misspelled framework would be worse than a configuration error.
func ParseFrameworks(names []string) ([]Framework, error) {
	frameworks := make([]Framework, 0, len(names))
	for _, name := range names {
		switch Framework(strings.ToLower(strings.TrimSpace(name))) {
		case FrameworkSOC2:
			frameworks = append(frameworks, FrameworkSOC2)
		case FrameworkGDPR:
			frameworks = append(frameworks, FrameworkGDPR)
		case FrameworkISO27001:
			frameworks = append(frameworks, FrameworkISO27001)
		default:
			return nil, errors.NewInvalidFrameworkError(name)
		}
	}
	return frameworks, nil
}

// Status is the outcome of evaluating one control.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	// StatusError means the evidence for the control could not be
	// collected; it is reported, never treated as a failed run.
	StatusError Status = "ERROR"
)

// ControlResult is the evaluation outcome of a single control.
type ControlResult struct {
	ID        string    `json:"id"`
	Framework Framework `json:"framework"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
}

// Summary aggregates control results for the report and the check run.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// Summarize counts results by status.
func Summarize(results []ControlResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusError:
			s.Errors++
		}
	}
	return s
}
