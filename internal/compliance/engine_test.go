package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlane/auditlane/internal/github"
	"github.com/auditlane/auditlane/internal/pii"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/metrics"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger, err := logging.NewLogger(logging.Config{Level: "error"})
	require.NoError(t, err)
	return NewEngine(Thresholds{MinReviewers: 2, MaxAdminRatio: 0.3}, metrics.NewMetrics(), logger)
}

func compliantSignals() *github.Signals {
	return &github.Signals{
		Repository: &github.RepositorySignals{
			Private:             true,
			DefaultBranch:       "main",
			SecretScanning:      true,
			VulnerabilityAlerts: true,
		},
		BranchProtection: &github.BranchProtectionSignals{
			Protected:           true,
			RequiredReviews:     2,
			DismissStaleReviews: true,
			EnforceAdmins:       true,
		},
		Collaborators: &github.CollaboratorSignals{
			Total: 10, Admins: 2, AdminRatio: 0.2,
		},
		Webhooks: []github.WebhookSignal{
			{URL: "https://ci.example.com/hook", Active: true, HasSecret: true},
		},
		Errors: map[string]error{},
	}
}

func resultByID(t *testing.T, results []ControlResult, id string) ControlResult {
	t.Helper()
	for _, r := range results {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("control %s not in results", id)
	return ControlResult{}
}

func TestParseFrameworks(t *testing.T) {
	frameworks, err := ParseFrameworks([]string{"SOC2", " gdpr ", "iso27001"})
	require.NoError(t, err)
	assert.Equal(t, []Framework{FrameworkSOC2, FrameworkGDPR, FrameworkISO27001}, frameworks)
}

func TestParseFrameworks_UnknownFramework(t *testing.T) {
	_, err := ParseFrameworks([]string{"soc2", "hipaa"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeComplianceInvalidFramework, errors.GetCode(err))
}

func TestEvaluate_CompliantRepositoryPassesEverything(t *testing.T) {
	engine := newTestEngine(t)

	results := engine.Evaluate(compliantSignals(), nil,
		[]Framework{FrameworkSOC2, FrameworkGDPR, FrameworkISO27001})

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, StatusPass, r.Status, r.ID)
	}
}

func TestEvaluate_OnlyRequestedFrameworksRun(t *testing.T) {
	engine := newTestEngine(t)

	results := engine.Evaluate(compliantSignals(), nil, []Framework{FrameworkSOC2})
	for _, r := range results {
		assert.Equal(t, FrameworkSOC2, r.Framework, r.ID)
	}
}

func TestEvaluate_InsufficientReviewsFails(t *testing.T) {
	engine := newTestEngine(t)
	signals := compliantSignals()
	signals.BranchProtection.RequiredReviews = 1

	results := engine.Evaluate(signals, nil, []Framework{FrameworkSOC2})

	r := resultByID(t, results, "SOC2-CC8.1")
	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Detail, "policy demands 2")
}

func TestEvaluate_UnprotectedBranchFails(t *testing.T) {
	engine := newTestEngine(t)
	signals := compliantSignals()
	signals.BranchProtection = &github.BranchProtectionSignals{Protected: false}

	results := engine.Evaluate(signals, nil, []Framework{FrameworkSOC2, FrameworkISO27001})

	assert.Equal(t, StatusFail, resultByID(t, results, "SOC2-CC8.1").Status)
	assert.Equal(t, StatusFail, resultByID(t, results, "ISO27001-A.9.4").Status)
}

func TestEvaluate_AdminRatioAtCapFails(t *testing.T) {
	engine := newTestEngine(t)
	signals := compliantSignals()
	signals.Collaborators = &github.CollaboratorSignals{Total: 10, Admins: 3, AdminRatio: 0.3}

	results := engine.Evaluate(signals, nil, []Framework{FrameworkSOC2})
	assert.Equal(t, StatusFail, resultByID(t, results, "SOC2-CC6.3").Status)
}

func TestEvaluate_InsecureWebhookFailsISO(t *testing.T) {
	engine := newTestEngine(t)
	signals := compliantSignals()
	signals.Webhooks = append(signals.Webhooks, github.WebhookSignal{
		URL: "https://legacy.example.com", Active: true, InsecureSSL: true, HasSecret: true,
	})

	results := engine.Evaluate(signals, nil, []Framework{FrameworkISO27001})
	r := resultByID(t, results, "ISO27001-A.13.1")
	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Detail, "TLS")
}

func TestEvaluate_PIIFindingsFailGDPR(t *testing.T) {
	engine := newTestEngine(t)
	findings := []pii.Finding{{Type: "email", Location: "repository.description"}}

	results := engine.Evaluate(compliantSignals(), findings, []Framework{FrameworkGDPR})
	r := resultByID(t, results, "GDPR-ART4")
	assert.Equal(t, StatusFail, r.Status)
}

func TestEvaluate_CollectionFailureBecomesErrorResult(t *testing.T) {
	engine := newTestEngine(t)
	signals := compliantSignals()
	signals.Collaborators = nil
	signals.Errors[github.SectionCollaborators] = errors.NewPermissionError("insufficient permissions", "repo")

	results := engine.Evaluate(signals, nil, []Framework{FrameworkSOC2})

	r := resultByID(t, results, "SOC2-CC6.3")
	assert.Equal(t, StatusError, r.Status)
	assert.Contains(t, r.Detail, errors.CodeAPIUnauthorized)

	// Controls with intact evidence still pass.
	assert.Equal(t, StatusPass, resultByID(t, results, "SOC2-CC6.1").Status)
}

func TestEvaluate_MissingSectionWithoutErrorIsStillError(t *testing.T) {
	engine := newTestEngine(t)
	signals := compliantSignals()
	signals.BranchProtection = nil

	results := engine.Evaluate(signals, nil, []Framework{FrameworkSOC2})
	assert.Equal(t, StatusError, resultByID(t, results, "SOC2-CC8.1").Status)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]ControlResult{
		{Status: StatusPass}, {Status: StatusPass}, {Status: StatusFail}, {Status: StatusError},
	})
	assert.Equal(t, Summary{Total: 4, Passed: 2, Failed: 1, Errors: 1}, s)
}
