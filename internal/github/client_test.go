package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlane/auditlane/pkg/cache"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/metrics"
	"github.com/auditlane/auditlane/pkg/resilience"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := resilience.NewRateLimiter(resilience.DefaultRateLimiterConfig())
	executor := resilience.NewExecutor(limiter, resilience.RetryPolicy{
		MaxAttempts:       2,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})
	logger, err := logging.NewLogger(logging.Config{Level: "error"})
	require.NoError(t, err)

	client, err := NewClient(
		AuthConfig{Token: "test-token", BaseURL: server.URL},
		executor,
		cache.NewResponseCache(cache.DefaultConfig()),
		metrics.NewMetrics(),
		logger,
	)
	require.NoError(t, err)
	return client, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func healthyRepoHandler(t *testing.T, requests *int32) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		writeJSON(t, w, map[string]interface{}{
			"full_name":      "acme/widgets",
			"private":        true,
			"default_branch": "main",
			"security_and_analysis": map[string]interface{}{
				"secret_scanning": map[string]string{"status": "enabled"},
			},
		})
	})
	mux.HandleFunc("/repos/acme/widgets/vulnerability-alerts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/repos/acme/widgets/branches/main/protection", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"required_pull_request_reviews": map[string]interface{}{
				"required_approving_review_count": 2,
				"dismiss_stale_reviews":           true,
			},
			"enforce_admins": map[string]interface{}{"enabled": true},
		})
	})
	mux.HandleFunc("/repos/acme/widgets/collaborators", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]interface{}{
			{"login": "alice", "permissions": map[string]bool{"admin": true}},
			{"login": "bob", "permissions": map[string]bool{"push": true}},
			{"login": "carol", "permissions": map[string]bool{"pull": true}},
		})
	})
	mux.HandleFunc("/repos/acme/widgets/hooks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]interface{}{
			{
				"active": true,
				"config": map[string]interface{}{
					"url":          "https://ci.example.com/hook",
					"insecure_ssl": "0",
					"secret":       "********",
				},
			},
			{
				"active": true,
				"config": map[string]interface{}{
					"url":          "http://legacy.example.com/hook",
					"insecure_ssl": "1",
				},
			},
		})
	})
	return mux
}

func TestCollectSignals_AllSections(t *testing.T) {
	var repoRequests int32
	client, _ := newTestClient(t, healthyRepoHandler(t, &repoRequests))

	signals := client.CollectSignals(context.Background(), "acme", "widgets")

	require.Empty(t, signals.Errors)
	require.NotNil(t, signals.Repository)
	assert.True(t, signals.Repository.Private)
	assert.True(t, signals.Repository.SecretScanning)
	assert.True(t, signals.Repository.VulnerabilityAlerts)
	assert.Equal(t, "main", signals.Repository.DefaultBranch)

	require.NotNil(t, signals.BranchProtection)
	assert.True(t, signals.BranchProtection.Protected)
	assert.Equal(t, 2, signals.BranchProtection.RequiredReviews)
	assert.True(t, signals.BranchProtection.DismissStaleReviews)
	assert.True(t, signals.BranchProtection.EnforceAdmins)

	require.NotNil(t, signals.Collaborators)
	assert.Equal(t, 3, signals.Collaborators.Total)
	assert.Equal(t, 1, signals.Collaborators.Admins)
	assert.InDelta(t, 1.0/3.0, signals.Collaborators.AdminRatio, 0.001)

	require.Len(t, signals.Webhooks, 2)
	assert.True(t, signals.Webhooks[0].HasSecret)
	assert.False(t, signals.Webhooks[0].InsecureSSL)
	assert.False(t, signals.Webhooks[1].HasSecret)
	assert.True(t, signals.Webhooks[1].InsecureSSL)
}

func TestCollectSignals_SecondPassServedFromCache(t *testing.T) {
	var repoRequests int32
	client, _ := newTestClient(t, healthyRepoHandler(t, &repoRequests))

	client.CollectSignals(context.Background(), "acme", "widgets")
	first := atomic.LoadInt32(&repoRequests)

	client.CollectSignals(context.Background(), "acme", "widgets")
	assert.Equal(t, first, atomic.LoadInt32(&repoRequests),
		"repeat collection should not hit the repository endpoint again")
}

func TestCollectSignals_UnprotectedBranchIsNotAnError(t *testing.T) {
	var repoRequests int32
	mux := http.NewServeMux()
	mux.Handle("/", healthyRepoHandler(t, &repoRequests))
	mux.HandleFunc("/repos/acme/widgets/branches/main/protection", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Branch not protected"}`, http.StatusNotFound)
	})

	client, _ := newTestClient(t, mux)
	signals := client.CollectSignals(context.Background(), "acme", "widgets")

	require.NoError(t, signals.SectionError(SectionBranchProtection))
	require.NotNil(t, signals.BranchProtection)
	assert.False(t, signals.BranchProtection.Protected)
	assert.Zero(t, signals.BranchProtection.RequiredReviews)
}

func TestCollectSignals_SectionFailureIsIsolated(t *testing.T) {
	var repoRequests int32
	mux := http.NewServeMux()
	mux.Handle("/", healthyRepoHandler(t, &repoRequests))
	mux.HandleFunc("/repos/acme/widgets/collaborators", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, mux)
	signals := client.CollectSignals(context.Background(), "acme", "widgets")

	require.Error(t, signals.SectionError(SectionCollaborators))
	assert.Nil(t, signals.Collaborators)

	// The other sections still collected.
	assert.NotNil(t, signals.Repository)
	assert.NotNil(t, signals.BranchProtection)
	assert.Len(t, signals.Webhooks, 2)
}

func TestCollectSignals_PermissionErrorIsClassified(t *testing.T) {
	var repoRequests int32
	mux := http.NewServeMux()
	mux.Handle("/", healthyRepoHandler(t, &repoRequests))
	mux.HandleFunc("/repos/acme/widgets/hooks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Accepted-OAuth-Scopes", "admin:repo_hook")
		http.Error(w, `{"message":"Must have admin rights"}`, http.StatusForbidden)
	})

	client, _ := newTestClient(t, mux)
	signals := client.CollectSignals(context.Background(), "acme", "widgets")

	err := signals.SectionError(SectionWebhooks)
	require.Error(t, err)
	assert.Equal(t, errors.CodeAPIUnauthorized, errors.GetCode(err))
}

func TestCollectCollaborators_Pagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/collaborators", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(t, w, []map[string]interface{}{
				{"login": "dave", "permissions": map[string]bool{"admin": true}},
			})
			return
		}
		w.Header().Set("Link", `<`+"http://"+r.Host+r.URL.Path+`?page=2>; rel="next"`)
		writeJSON(t, w, []map[string]interface{}{
			{"login": "alice", "permissions": map[string]bool{"push": true}},
		})
	})

	client, _ := newTestClient(t, mux)
	collaborators, err := client.collectCollaborators(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, 2, collaborators.Total)
	assert.Equal(t, 1, collaborators.Admins)
}

func TestPostPRComment(t *testing.T) {
	var posted struct {
		Body string `json:"body"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		w.WriteHeader(http.StatusCreated)
		writeJSON(t, w, map[string]interface{}{"id": 1})
	})

	client, _ := newTestClient(t, mux)
	err := client.PostPRComment(context.Background(), "acme", "widgets", 42, "## Compliance summary")
	require.NoError(t, err)
	assert.Equal(t, "## Compliance summary", posted.Body)
}

func TestCreateCheckRun(t *testing.T) {
	var created struct {
		Name       string `json:"name"`
		HeadSHA    string `json:"head_sha"`
		Conclusion string `json:"conclusion"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/check-runs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		w.WriteHeader(http.StatusCreated)
		writeJSON(t, w, map[string]interface{}{"id": 1})
	})

	client, _ := newTestClient(t, mux)
	err := client.CreateCheckRun(context.Background(), "acme", "widgets", "deadbeef", "success", "Compliance checks", "all controls passed")
	require.NoError(t, err)
	assert.Equal(t, "auditlane", created.Name)
	assert.Equal(t, "deadbeef", created.HeadSHA)
	assert.Equal(t, "success", created.Conclusion)
}
