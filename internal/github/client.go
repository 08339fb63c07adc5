package github

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"

	"github.com/auditlane/auditlane/pkg/cache"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/metrics"
	"github.com/auditlane/auditlane/pkg/resilience"
)

// Client collects compliance signals from the platform API and posts run
// results back. Every call goes through the retry executor and the response
// cache; go-github errors are classified at this boundary and nowhere else.
type Client struct {
	gh       *github.Client
	executor *resilience.Executor
	cache    *cache.ResponseCache
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewClient builds an authenticated client.
func NewClient(auth AuthConfig, executor *resilience.Executor, responseCache *cache.ResponseCache, m *metrics.Metrics, logger *logging.Logger) (*Client, error) {
	source, err := tokenSource(auth)
	if err != nil {
		return nil, errors.NewConfigInvalidError("github auth", "could not build token source").WithCause(err)
	}

	gh := github.NewClient(oauth2.NewClient(context.Background(), source))
	if auth.BaseURL != "" && auth.BaseURL != "https://api.github.com" {
		base, err := url.Parse(strings.TrimSuffix(auth.BaseURL, "/") + "/")
		if err != nil {
			return nil, errors.NewConfigInvalidError("GITHUB_API_URL", "invalid API base URL").WithCause(err)
		}
		gh.BaseURL = base
	}

	return &Client{
		gh:       gh,
		executor: executor,
		cache:    responseCache,
		metrics:  m,
		logger:   logger,
	}, nil
}

// call runs one platform request through the cache and the retry executor.
// The payload identifies the request within the namespace for caching.
func (c *Client) call(ctx context.Context, namespace, payload string, fetch func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if result, ok := c.cache.Get(payload, namespace); ok {
		c.metrics.CacheHitsTotal.Inc()
		c.logger.WithComponent("github").WithField("endpoint", namespace).Debug("served from cache")
		return result.Value, nil
	}
	c.metrics.CacheMissesTotal.Inc()

	start := time.Now()
	value, err := c.executor.ExecuteWithHandler(ctx, func(ctx context.Context) (interface{}, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, errors.ClassifyGitHubError(err)
		}
		return v, nil
	}, func(attemptErr error, attempt int) {
		c.metrics.RetryAttemptsTotal.WithLabelValues(namespace).Inc()
		c.metrics.APIErrorsTotal.WithLabelValues(errors.GetCode(attemptErr)).Inc()
		c.logger.WithComponent("github").Warn("API call failed",
			"endpoint", namespace,
			"attempt", attempt,
			"error", attemptErr.Error(),
		)
	})
	c.metrics.RequestDuration.WithLabelValues(namespace).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.APIRequestsTotal.WithLabelValues(namespace, "error").Inc()
		return nil, err
	}
	c.metrics.APIRequestsTotal.WithLabelValues(namespace, "success").Inc()
	c.cache.Set(payload, namespace, value)
	return value, nil
}

// CollectSignals gathers every signal section. A section that fails to
// collect is recorded in Signals.Errors rather than failing the pass, so
// one inaccessible endpoint degrades only the controls that depend on it.
func (c *Client) CollectSignals(ctx context.Context, owner, repo string) *Signals {
	signals := &Signals{
		CollectedAt: time.Now(),
		Errors:      make(map[string]error),
	}

	repoSignals, err := c.collectRepository(ctx, owner, repo)
	if err != nil {
		signals.Errors[SectionRepository] = err
	} else {
		signals.Repository = repoSignals
	}

	defaultBranch := "main"
	if signals.Repository != nil && signals.Repository.DefaultBranch != "" {
		defaultBranch = signals.Repository.DefaultBranch
	}

	protection, err := c.collectBranchProtection(ctx, owner, repo, defaultBranch)
	if err != nil {
		signals.Errors[SectionBranchProtection] = err
	} else {
		signals.BranchProtection = protection
	}

	collaborators, err := c.collectCollaborators(ctx, owner, repo)
	if err != nil {
		signals.Errors[SectionCollaborators] = err
	} else {
		signals.Collaborators = collaborators
	}

	webhooks, err := c.collectWebhooks(ctx, owner, repo)
	if err != nil {
		signals.Errors[SectionWebhooks] = err
	} else {
		signals.Webhooks = webhooks
	}

	return signals
}

func (c *Client) collectRepository(ctx context.Context, owner, repo string) (*RepositorySignals, error) {
	payload := fmt.Sprintf("%s/%s", owner, repo)

	value, err := c.call(ctx, SectionRepository, payload, func(ctx context.Context) (interface{}, error) {
		repository, _, err := c.gh.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return nil, err
		}

		signals := &RepositorySignals{
			FullName:      repository.GetFullName(),
			Description:   repository.GetDescription(),
			Private:       repository.GetPrivate(),
			DefaultBranch: repository.GetDefaultBranch(),
		}
		if sa := repository.GetSecurityAndAnalysis(); sa != nil {
			signals.SecretScanning = sa.GetSecretScanning().GetStatus() == "enabled"
		}

		// Vulnerability alerts are a separate endpoint; a failure here
		// degrades one field, not the whole section.
		enabled, _, alertsErr := c.gh.Repositories.GetVulnerabilityAlerts(ctx, owner, repo)
		if alertsErr == nil {
			signals.VulnerabilityAlerts = enabled
		}
		return signals, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*RepositorySignals), nil
}

func (c *Client) collectBranchProtection(ctx context.Context, owner, repo, branch string) (*BranchProtectionSignals, error) {
	payload := fmt.Sprintf("%s/%s@%s", owner, repo, branch)

	value, err := c.call(ctx, SectionBranchProtection, payload, func(ctx context.Context) (interface{}, error) {
		protection, _, err := c.gh.Repositories.GetBranchProtection(ctx, owner, repo, branch)
		if err != nil {
			return nil, err
		}

		signals := &BranchProtectionSignals{Protected: true}
		if reviews := protection.GetRequiredPullRequestReviews(); reviews != nil {
			signals.RequiredReviews = reviews.RequiredApprovingReviewCount
			signals.DismissStaleReviews = reviews.DismissStaleReviews
		}
		if enforce := protection.GetEnforceAdmins(); enforce != nil {
			signals.EnforceAdmins = enforce.Enabled
		}
		return signals, nil
	})
	if err != nil {
		// 404 on the protection endpoint means the branch has no rules,
		// which is a finding for the controls, not a collection failure.
		var notFound *errors.NotFoundError
		if stderrors.As(err, &notFound) {
			return &BranchProtectionSignals{Protected: false}, nil
		}
		return nil, err
	}
	return value.(*BranchProtectionSignals), nil
}

func (c *Client) collectCollaborators(ctx context.Context, owner, repo string) (*CollaboratorSignals, error) {
	payload := fmt.Sprintf("%s/%s", owner, repo)

	value, err := c.call(ctx, SectionCollaborators, payload, func(ctx context.Context) (interface{}, error) {
		opts := &github.ListCollaboratorsOptions{
			ListOptions: github.ListOptions{PerPage: 100},
		}

		signals := &CollaboratorSignals{}
		for {
			users, resp, err := c.gh.Repositories.ListCollaborators(ctx, owner, repo, opts)
			if err != nil {
				return nil, err
			}
			for _, user := range users {
				signals.Total++
				if user.GetPermissions()["admin"] {
					signals.Admins++
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}

		if signals.Total > 0 {
			signals.AdminRatio = float64(signals.Admins) / float64(signals.Total)
		}
		return signals, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*CollaboratorSignals), nil
}

func (c *Client) collectWebhooks(ctx context.Context, owner, repo string) ([]WebhookSignal, error) {
	payload := fmt.Sprintf("%s/%s", owner, repo)

	value, err := c.call(ctx, SectionWebhooks, payload, func(ctx context.Context) (interface{}, error) {
		hooks, _, err := c.gh.Repositories.ListHooks(ctx, owner, repo, &github.ListOptions{PerPage: 100})
		if err != nil {
			return nil, err
		}

		signals := make([]WebhookSignal, 0, len(hooks))
		for _, hook := range hooks {
			signal := WebhookSignal{Active: hook.GetActive()}
			if cfg := hook.Config; cfg != nil {
				if u, ok := cfg["url"].(string); ok {
					signal.URL = u
				}
				if insecure, ok := cfg["insecure_ssl"].(string); ok {
					signal.InsecureSSL = insecure == "1"
				}
				_, signal.HasSecret = cfg["secret"]
			}
			signals = append(signals, signal)
		}
		return signals, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]WebhookSignal), nil
}

// PostPRComment posts the run summary as a pull request comment.
func (c *Client) PostPRComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, err := c.executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		comment := &github.IssueComment{Body: github.String(body)}
		_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, comment)
		if err != nil {
			return nil, errors.ClassifyGitHubError(err)
		}
		return nil, nil
	})
	return err
}

// CreateCheckRun attaches a completed check run to the audited commit.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo, sha, conclusion, title, summary string) error {
	_, err := c.executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		opts := github.CreateCheckRunOptions{
			Name:       "auditlane",
			HeadSHA:    sha,
			Status:     github.String("completed"),
			Conclusion: github.String(conclusion),
			Output: &github.CheckRunOutput{
				Title:   github.String(title),
				Summary: github.String(summary),
			},
		}
		_, _, err := c.gh.Checks.CreateCheckRun(ctx, owner, repo, opts)
		if err != nil {
			return nil, errors.ClassifyGitHubError(err)
		}
		return nil, nil
	})
	return err
}
