package report

import (
	"fmt"
	"strings"

	"github.com/auditlane/auditlane/internal/compliance"
)

var statusEmoji = map[compliance.Status]string{
	compliance.StatusPass:  ":white_check_mark:",
	compliance.StatusFail:  ":x:",
	compliance.StatusError: ":warning:",
}

// FormatComment renders the markdown body posted to the pull request.
func FormatComment(report *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Compliance Audit: %s\n\n", verdict(report.Summary))
	fmt.Fprintf(&b, "**%s** @ `%s` | frameworks: %s\n\n",
		report.Repository, shortSHA(report.CommitSHA), joinFrameworks(report.Frameworks))
	fmt.Fprintf(&b, "%d controls evaluated: %d passed, %d failed, %d evidence errors\n\n",
		report.Summary.Total, report.Summary.Passed, report.Summary.Failed, report.Summary.Errors)

	b.WriteString("| Control | Framework | Status | Detail |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, control := range report.Controls {
		fmt.Fprintf(&b, "| %s | %s | %s %s | %s |\n",
			control.ID,
			strings.ToUpper(string(control.Framework)),
			statusEmoji[control.Status], control.Status,
			escapePipes(control.Detail),
		)
	}

	if len(report.PIIFindings) > 0 {
		fmt.Fprintf(&b, "\n### Personal data findings\n\n")
		for _, finding := range report.PIIFindings {
			fmt.Fprintf(&b, "- `%s` in %s: `%s`\n", finding.Type, finding.Location, finding.Redacted)
		}
	}

	if report.Remediation != "" {
		b.WriteString("\n### Suggested remediations\n\n")
		b.WriteString(report.Remediation)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n<sub>run `%s`</sub>\n", report.RunID)
	return b.String()
}

// CheckRunConclusion maps the run summary to a check-run conclusion.
// Evidence errors alone yield neutral rather than failure.
func CheckRunConclusion(summary compliance.Summary) string {
	switch {
	case summary.Failed > 0:
		return "failure"
	case summary.Errors > 0:
		return "neutral"
	default:
		return "success"
	}
}

func verdict(summary compliance.Summary) string {
	switch {
	case summary.Failed > 0:
		return "failing"
	case summary.Errors > 0:
		return "passing with evidence gaps"
	default:
		return "passing"
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
