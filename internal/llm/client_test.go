package llm

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

	"github.com/auditlane/auditlane/internal/compliance"
	"github.com/auditlane/auditlane/pkg/cache"
	"github.com/auditlane/auditlane/pkg/config"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/metrics"
	"github.com/auditlane/auditlane/pkg/resilience"
)

func newTestLLMClient(t *testing.T, handler http.Handler) *Client {
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

	return NewClient(config.LLMConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}, executor, cache.NewResponseCache(cache.DefaultConfig()), metrics.NewMetrics(), logger)
}

func failedControls() []compliance.ControlResult {
	return []compliance.ControlResult{
		{ID: "SOC2-CC8.1", Framework: compliance.FrameworkSOC2, Title: "Changes require peer review before merge",
			Status: compliance.StatusFail, Detail: "requires 1 approving reviews, policy demands 2"},
		{ID: "SOC2-CC6.1", Framework: compliance.FrameworkSOC2, Title: "Repository restricts public access",
			Status: compliance.StatusPass, Detail: "repository is private"},
	}
}

func completionHandler(t *testing.T, calls *int32, answer string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "SOC2-CC8.1")
		assert.NotContains(t, req.Messages[1].Content, "SOC2-CC6.1",
			"passing controls should not be sent for remediation")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": answer}},
			},
		})
	})
}

func TestSuggestRemediations(t *testing.T) {
	var calls int32
	client := newTestLLMClient(t, completionHandler(t, &calls, "- raise required reviews to 2"))

	answer, err := client.SuggestRemediations(context.Background(), failedControls())
	require.NoError(t, err)
	assert.Equal(t, "- raise required reviews to 2", answer)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSuggestRemediations_RepeatServedFromCache(t *testing.T) {
	var calls int32
	client := newTestLLMClient(t, completionHandler(t, &calls, "- fix it"))

	_, err := client.SuggestRemediations(context.Background(), failedControls())
	require.NoError(t, err)
	answer, err := client.SuggestRemediations(context.Background(), failedControls())
	require.NoError(t, err)

	assert.Equal(t, "- fix it", answer)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second identical request should be a cache hit")
}

func TestSuggestRemediations_NothingFailed(t *testing.T) {
	var calls int32
	client := newTestLLMClient(t, completionHandler(t, &calls, "unused"))

	answer, err := client.SuggestRemediations(context.Background(), []compliance.ControlResult{
		{ID: "SOC2-CC6.1", Status: compliance.StatusPass},
	})
	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSuggestRemediations_RateLimitClassified(t *testing.T) {
	client := newTestLLMClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.SuggestRemediations(context.Background(), failedControls())
	require.Error(t, err)

	var rateErr *errors.RateLimitError
	assert.ErrorAs(t, err, &rateErr)
}

func TestSuggestRemediations_ServerErrorRetriesThenFails(t *testing.T) {
	var calls int32
	client := newTestLLMClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := client.SuggestRemediations(context.Background(), failedControls())
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "server errors should be retried")
}
