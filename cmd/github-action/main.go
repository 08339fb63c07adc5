// Command github-action runs one compliance evidence pass inside a GitHub
// Actions workflow: collect repository signals, evaluate the requested
// frameworks, write the evidence reports and feed the verdict back to the
// pull request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auditlane/auditlane/internal/compliance"
	"github.com/auditlane/auditlane/internal/github"
	"github.com/auditlane/auditlane/internal/llm"
	"github.com/auditlane/auditlane/internal/pii"
	"github.com/auditlane/auditlane/internal/report"
	"github.com/auditlane/auditlane/pkg/cache"
	"github.com/auditlane/auditlane/pkg/config"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/metrics"
	"github.com/auditlane/auditlane/pkg/resilience"
)

var version = "dev" // set by the release build

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatForUser(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "auditlane",
		Version:     version,
	})
	if err != nil {
		return errors.NewConfigInvalidError("INPUT_LOG_LEVEL", err.Error())
	}

	frameworks, err := compliance.ParseFrameworks(cfg.Audit.Frameworks)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting compliance audit",
		"repository", cfg.GitHub.Repository,
		"commit", cfg.GitHub.CommitSHA,
		"frameworks", cfg.Audit.Frameworks,
		"version", version,
	)

	m := metrics.NewMetrics()
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		MaxRequestsPerMinute:  cfg.RateLimit.MaxRequestsPerMinute,
		MaxConcurrentRequests: cfg.RateLimit.MaxConcurrentRequests,
		MaxRetries:            cfg.RateLimit.MaxRetries,
		BackoffMultiplier:     cfg.RateLimit.BackoffMultiplier,
	})
	executor := resilience.NewExecutor(limiter, resilience.DefaultRetryPolicy())
	responseCache := cache.NewResponseCache(cache.Config{
		TTL:     cfg.Cache.TTL,
		MaxSize: cfg.Cache.MaxSize,
	})

	client, err := github.NewClient(github.AuthConfig{
		Token:             cfg.GitHub.Token,
		AppID:             cfg.GitHub.AppID,
		AppInstallationID: cfg.GitHub.AppInstallationID,
		AppPrivateKey:     cfg.GitHub.AppPrivateKey,
		BaseURL:           cfg.GitHub.BaseURL,
	}, executor, responseCache, m, logger)
	if err != nil {
		return err
	}

	owner, repo := cfg.GitHub.Owner(), cfg.GitHub.Repo()

	collectStart := time.Now()
	signals := client.CollectSignals(ctx, owner, repo)
	logger.Info("signal collection finished",
		"duration", time.Since(collectStart).String(),
		"sections_failed", len(signals.Errors),
	)

	// Nothing collected at all means nothing can be evaluated.
	if signals.Repository == nil && signals.BranchProtection == nil &&
		signals.Collaborators == nil && signals.Webhooks == nil {
		for section, sectionErr := range signals.Errors {
			logger.WithError(sectionErr).Error("section collection failed", "section", section)
		}
		return errors.NewInternalError("no repository signals could be collected")
	}

	findings := pii.NewDetector().ScanSignals(signals)
	if len(findings) > 0 {
		logger.Warn("personal data patterns detected", "count", len(findings))
	}

	engine := compliance.NewEngine(compliance.Thresholds{
		MinReviewers:  cfg.Audit.MinReviewers,
		MaxAdminRatio: cfg.Audit.MaxAdminRatio,
	}, m, logger)
	results := engine.Evaluate(signals, findings, frameworks)
	summary := compliance.Summarize(results)

	logger.Info("evaluation finished",
		"total", summary.Total,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"errors", summary.Errors,
	)

	runReport := report.New(cfg.GitHub.Repository, cfg.GitHub.CommitSHA, frameworks)
	runReport.Controls = results
	runReport.Summary = summary
	runReport.PIIFindings = findings

	if cfg.LLM.Enabled() && summary.Failed > 0 {
		remediation, llmErr := llm.NewClient(cfg.LLM, executor, responseCache, m, logger).
			SuggestRemediations(ctx, results)
		if llmErr != nil {
			// Advisory output; the audit result stands without it.
			logger.WithError(llmErr).Warn("remediation analysis failed")
		} else {
			runReport.Remediation = remediation
		}
	}

	runReport.CacheStats = responseCache.GetStats()
	runReport.LimiterStatus = limiter.GetStatus()
	if snapshot, snapErr := m.Snapshot(); snapErr == nil {
		runReport.Metrics = snapshot
	}

	// The JSON file is the evidence of record: a run that produced no
	// artifact at all fails. The PDF is a rendering of the same data, so
	// losing it degrades the run rather than failing it.
	writer := report.NewWriter(cfg.Audit.OutputDir, logger)
	if _, err := writer.WriteJSON(runReport); err != nil {
		return err
	}
	if _, err := writer.WritePDF(runReport); err != nil {
		logger.WithError(err).Error("failed to write PDF report")
	}

	if cfg.Audit.PostComment && cfg.GitHub.PRNumber > 0 {
		body := report.FormatComment(runReport)
		if err := client.PostPRComment(ctx, owner, repo, cfg.GitHub.PRNumber, body); err != nil {
			logger.WithError(err).Warn("failed to post pull request comment")
		}
	}

	if cfg.Audit.CreateCheckRun && cfg.GitHub.CommitSHA != "" {
		conclusion := report.CheckRunConclusion(summary)
		title := fmt.Sprintf("%d/%d controls passed", summary.Passed, summary.Total)
		if err := client.CreateCheckRun(ctx, owner, repo, cfg.GitHub.CommitSHA, conclusion, title, report.FormatComment(runReport)); err != nil {
			logger.WithError(err).Warn("failed to create check run")
		}
	}

	logger.Info("audit complete", "run_id", runReport.RunID.String())
	return nil
}
