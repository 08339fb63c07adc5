// Package pii detects personal or secret data patterns in repository
// metadata. Findings are redacted before they leave this package so the
// report never reproduces the matched value.
package pii

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/auditlane/auditlane/internal/github"
)

// Finding is one redacted pattern match.
type Finding struct {
	Type     string `json:"type"`
	Location string `json:"location"`
	Redacted string `json:"redacted"`
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Detector applies a fixed pattern set. Safe for concurrent use; the
// compiled patterns are immutable after construction.
type Detector struct {
	patterns []pattern
}

// NewDetector compiles the built-in pattern set.
func NewDetector() *Detector {
	return &Detector{
		patterns: []pattern{
			{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
			{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
			{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
			{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		},
	}
}

// Scan checks one text fragment and returns redacted findings tagged with
// the given location.
func (d *Detector) Scan(location, text string) []Finding {
	if text == "" {
		return nil
	}

	var findings []Finding
	for _, p := range d.patterns {
		for _, match := range p.re.FindAllString(text, -1) {
			findings = append(findings, Finding{
				Type:     p.name,
				Location: location,
				Redacted: redact(match),
			})
		}
	}
	return findings
}

// ScanSignals checks the collected repository signals: the description and
// every webhook URL.
func (d *Detector) ScanSignals(signals *github.Signals) []Finding {
	var findings []Finding
	if signals.Repository != nil {
		findings = append(findings, d.Scan("repository.description", signals.Repository.Description)...)
	}
	for i, hook := range signals.Webhooks {
		findings = append(findings, d.Scan(fmt.Sprintf("webhook[%d].url", i), hook.URL)...)
	}
	return findings
}

// redact keeps enough of the match to identify it without reproducing it.
func redact(match string) string {
	if len(match) <= 4 {
		return strings.Repeat("*", len(match))
	}
	return match[:4] + strings.Repeat("*", len(match)-4)
}
