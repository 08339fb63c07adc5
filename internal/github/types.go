package github

import "time"

// Signal section names, used as cache namespaces and as keys in
// Signals.Errors when a section could not be collected.
const (
	SectionRepository       = "repository"
	SectionBranchProtection = "branch-protection"
	SectionCollaborators    = "collaborators"
	SectionWebhooks         = "webhooks"
)

// RepositorySignals captures the repository-level settings the compliance
// controls evaluate.
type RepositorySignals struct {
	FullName            string `json:"full_name"`
	Description         string `json:"description"`
	Private             bool   `json:"private"`
	DefaultBranch       string `json:"default_branch"`
	SecretScanning      bool   `json:"secret_scanning"`
	VulnerabilityAlerts bool   `json:"vulnerability_alerts"`
}

// BranchProtectionSignals captures the protection rules on the default
// branch. An unprotected branch is a valid observation, not an error.
type BranchProtectionSignals struct {
	Protected           bool `json:"protected"`
	RequiredReviews     int  `json:"required_reviews"`
	DismissStaleReviews bool `json:"dismiss_stale_reviews"`
	EnforceAdmins       bool `json:"enforce_admins"`
}

// CollaboratorSignals summarizes repository access distribution.
type CollaboratorSignals struct {
	Total      int     `json:"total"`
	Admins     int     `json:"admins"`
	AdminRatio float64 `json:"admin_ratio"`
}

// WebhookSignal captures the delivery configuration of one webhook.
type WebhookSignal struct {
	URL         string `json:"url"`
	Active      bool   `json:"active"`
	InsecureSSL bool   `json:"insecure_ssl"`
	HasSecret   bool   `json:"has_secret"`
}

// Signals is everything one collection pass gathered. Sections that failed
// to collect are nil, with the classified error recorded under the section
// name so the rule engine can report per-control errors instead of aborting.
type Signals struct {
	Repository       *RepositorySignals       `json:"repository,omitempty"`
	BranchProtection *BranchProtectionSignals `json:"branch_protection,omitempty"`
	Collaborators    *CollaboratorSignals     `json:"collaborators,omitempty"`
	Webhooks         []WebhookSignal          `json:"webhooks,omitempty"`
	CollectedAt      time.Time                `json:"collected_at"`

	Errors map[string]error `json:"-"`
}

// SectionError returns the collection error for a section, or nil.
func (s *Signals) SectionError(section string) error {
	if s.Errors == nil {
		return nil
	}
	return s.Errors[section]
}
