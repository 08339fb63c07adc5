package compliance

import (
	"fmt"

	"github.com/auditlane/auditlane/internal/github"
	"github.com/auditlane/auditlane/internal/pii"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/metrics"
)

// Thresholds are the tunable control parameters, set from action input.
type Thresholds struct {
	MinReviewers  int
	MaxAdminRatio float64
}

// Engine evaluates declarative controls against collected signals.
type Engine struct {
	thresholds Thresholds
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// NewEngine creates an engine with the given thresholds.
func NewEngine(thresholds Thresholds, m *metrics.Metrics, logger *logging.Logger) *Engine {
	return &Engine{
		thresholds: thresholds,
		metrics:    m,
		logger:     logger,
	}
}

// evidence bundles everything a control can look at.
type evidence struct {
	signals    *github.Signals
	pii        []pii.Finding
	thresholds Thresholds
}

// control is one declarative rule. section names the signal section the
// rule depends on; when that section failed to collect, the control is
// reported as ERROR without running check.
type control struct {
	id        string
	framework Framework
	title     string
	section   string
	check     func(ev evidence) (bool, string)
}

func controls() []control {
	return []control{
		// SOC2 Trust Services Criteria.
		{
			id: "SOC2-CC6.1", framework: FrameworkSOC2,
			title:   "Repository restricts public access",
			section: github.SectionRepository,
			check: func(ev evidence) (bool, string) {
				if ev.signals.Repository.Private {
					return true, "repository is private"
				}
				return false, "repository is publicly visible"
			},
		},
		{
			id: "SOC2-CC8.1", framework: FrameworkSOC2,
			title:   "Changes require peer review before merge",
			section: github.SectionBranchProtection,
			check: func(ev evidence) (bool, string) {
				bp := ev.signals.BranchProtection
				if !bp.Protected {
					return false, "default branch has no protection rules"
				}
				if bp.RequiredReviews < ev.thresholds.MinReviewers {
					return false, fmt.Sprintf("requires %d approving reviews, policy demands %d",
						bp.RequiredReviews, ev.thresholds.MinReviewers)
				}
				return true, fmt.Sprintf("%d approving reviews required", bp.RequiredReviews)
			},
		},
		{
			id: "SOC2-CC8.2", framework: FrameworkSOC2,
			title:   "Stale approvals are dismissed on new commits",
			section: github.SectionBranchProtection,
			check: func(ev evidence) (bool, string) {
				bp := ev.signals.BranchProtection
				if !bp.Protected {
					return false, "default branch has no protection rules"
				}
				if !bp.DismissStaleReviews {
					return false, "approvals survive new commits"
				}
				return true, "stale approvals are dismissed"
			},
		},
		{
			id: "SOC2-CC6.3", framework: FrameworkSOC2,
			title:   "Administrative access is limited",
			section: github.SectionCollaborators,
			check: func(ev evidence) (bool, string) {
				c := ev.signals.Collaborators
				if c.AdminRatio >= ev.thresholds.MaxAdminRatio {
					return false, fmt.Sprintf("%d of %d collaborators are admins (%.0f%%), policy cap is %.0f%%",
						c.Admins, c.Total, c.AdminRatio*100, ev.thresholds.MaxAdminRatio*100)
				}
				return true, fmt.Sprintf("%d of %d collaborators are admins", c.Admins, c.Total)
			},
		},
		{
			id: "SOC2-CC7.1", framework: FrameworkSOC2,
			title:   "Vulnerability alerts are enabled",
			section: github.SectionRepository,
			check: func(ev evidence) (bool, string) {
				if ev.signals.Repository.VulnerabilityAlerts {
					return true, "dependency vulnerability alerts enabled"
				}
				return false, "dependency vulnerability alerts disabled"
			},
		},

		// ISO 27001 Annex A.
		{
			id: "ISO27001-A.9.2", framework: FrameworkISO27001,
			title:   "Privileged access is restricted",
			section: github.SectionCollaborators,
			check: func(ev evidence) (bool, string) {
				c := ev.signals.Collaborators
				if c.AdminRatio >= ev.thresholds.MaxAdminRatio {
					return false, fmt.Sprintf("admin ratio %.0f%% exceeds the %.0f%% cap",
						c.AdminRatio*100, ev.thresholds.MaxAdminRatio*100)
				}
				return true, "admin ratio within policy"
			},
		},
		{
			id: "ISO27001-A.9.4", framework: FrameworkISO27001,
			title:   "Protection rules apply to administrators",
			section: github.SectionBranchProtection,
			check: func(ev evidence) (bool, string) {
				bp := ev.signals.BranchProtection
				if !bp.Protected {
					return false, "default branch has no protection rules"
				}
				if !bp.EnforceAdmins {
					return false, "administrators can bypass branch protection"
				}
				return true, "branch protection enforced for administrators"
			},
		},
		{
			id: "ISO27001-A.12.6", framework: FrameworkISO27001,
			title:   "Secret scanning is enabled",
			section: github.SectionRepository,
			check: func(ev evidence) (bool, string) {
				if ev.signals.Repository.SecretScanning {
					return true, "secret scanning enabled"
				}
				return false, "secret scanning disabled"
			},
		},
		{
			id: "ISO27001-A.13.1", framework: FrameworkISO27001,
			title:   "Webhook deliveries are authenticated over TLS",
			section: github.SectionWebhooks,
			check: func(ev evidence) (bool, string) {
				for i, hook := range ev.signals.Webhooks {
					if !hook.Active {
						continue
					}
					if hook.InsecureSSL {
						return false, fmt.Sprintf("webhook %d skips TLS verification", i)
					}
					if !hook.HasSecret {
						return false, fmt.Sprintf("webhook %d has no signing secret", i)
					}
				}
				return true, fmt.Sprintf("%d webhooks verified", len(ev.signals.Webhooks))
			},
		},

		// GDPR.
		{
			id: "GDPR-ART32", framework: FrameworkGDPR,
			title:   "Processing environment is access-restricted",
			section: github.SectionRepository,
			check: func(ev evidence) (bool, string) {
				if ev.signals.Repository.Private {
					return true, "repository is private"
				}
				return false, "repository is publicly visible"
			},
		},
		{
			id: "GDPR-ART25", framework: FrameworkGDPR,
			title:   "Outbound integrations use authenticated delivery",
			section: github.SectionWebhooks,
			check: func(ev evidence) (bool, string) {
				for i, hook := range ev.signals.Webhooks {
					if hook.Active && !hook.HasSecret {
						return false, fmt.Sprintf("webhook %d delivers without a signing secret", i)
					}
				}
				return true, "all active webhooks carry a signing secret"
			},
		},
		{
			id: "GDPR-ART4", framework: FrameworkGDPR,
			title:   "No personal data in repository metadata",
			section: github.SectionRepository,
			check: func(ev evidence) (bool, string) {
				if len(ev.pii) > 0 {
					return false, fmt.Sprintf("%d personal-data patterns found in repository metadata", len(ev.pii))
				}
				return true, "no personal-data patterns detected"
			},
		},
	}
}

// Evaluate runs every control of the requested frameworks. A control whose
// evidence section failed to collect becomes an ERROR result carrying the
// classified failure; the rest of the controls still run.
func (e *Engine) Evaluate(signals *github.Signals, findings []pii.Finding, frameworks []Framework) []ControlResult {
	requested := make(map[Framework]bool, len(frameworks))
	for _, f := range frameworks {
		requested[f] = true
	}

	ev := evidence{signals: signals, pii: findings, thresholds: e.thresholds}

	var results []ControlResult
	for _, ctl := range controls() {
		if !requested[ctl.framework] {
			continue
		}

		result := ControlResult{
			ID:        ctl.id,
			Framework: ctl.framework,
			Title:     ctl.title,
		}

		err := signals.SectionError(ctl.section)
		if err == nil && !sectionPresent(signals, ctl.section) {
			err = errors.NewEvidenceMissingError(ctl.id, ctl.section)
		}

		if err != nil {
			result.Status = StatusError
			result.Detail = errors.FormatForUser(err)
			e.logger.WithComponent("compliance").Warn("control evidence unavailable",
				"control", ctl.id,
				"section", ctl.section,
				"error", err.Error(),
			)
		} else if passed, detail := ctl.check(ev); passed {
			result.Status = StatusPass
			result.Detail = detail
		} else {
			result.Status = StatusFail
			result.Detail = detail
		}

		e.metrics.ControlsEvaluated.WithLabelValues(string(ctl.framework), string(result.Status)).Inc()
		results = append(results, result)
	}
	return results
}

// sectionPresent reports whether the signal section a control depends on
// was actually collected. Webhooks may legitimately be an empty list.
func sectionPresent(signals *github.Signals, section string) bool {
	switch section {
	case github.SectionRepository:
		return signals.Repository != nil
	case github.SectionBranchProtection:
		return signals.BranchProtection != nil
	case github.SectionCollaborators:
		return signals.Collaborators != nil
	case github.SectionWebhooks:
		return true
	}
	return false
}
