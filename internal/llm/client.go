// Package llm calls an OpenAI-compatible chat-completions API to turn
// failed compliance controls into remediation guidance. The whole package
// is optional: the run proceeds without it when no API key is configured.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/auditlane/auditlane/internal/compliance"
	"github.com/auditlane/auditlane/pkg/cache"
	"github.com/auditlane/auditlane/pkg/config"
	"github.com/auditlane/auditlane/pkg/errors"
	"github.com/auditlane/auditlane/pkg/logging"
	"github.com/auditlane/auditlane/pkg/metrics"
	"github.com/auditlane/auditlane/pkg/resilience"
)

const cacheNamespace = "llm-analysis"

const systemPrompt = "You are a compliance engineer. For each failed " +
	"control, give one short, concrete remediation step a repository " +
	"administrator can take. Answer in plain markdown bullets."

// Client wraps the chat-completions endpoint behind the circuit breaker,
// the retry executor and the response cache.
type Client struct {
	cfg      config.LLMConfig
	http     *http.Client
	breaker  *resilience.CircuitBreaker
	executor *resilience.Executor
	cache    *cache.ResponseCache
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewClient builds the analysis client. The caller checks cfg.Enabled()
// before constructing one.
func NewClient(cfg config.LLMConfig, executor *resilience.Executor, responseCache *cache.ResponseCache, m *metrics.Metrics, logger *logging.Logger) *Client {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "llm",
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			logger.WithComponent("llm").Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		executor: executor,
		cache:    responseCache,
		metrics:  m,
		logger:   logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// SuggestRemediations asks the model for remediation text covering the
// failed controls. Identical control sets within one run are answered from
// the cache. Returns "" with no error when there is nothing to remediate.
func (c *Client) SuggestRemediations(ctx context.Context, results []compliance.ControlResult) (string, error) {
	prompt := buildPrompt(results)
	if prompt == "" {
		return "", nil
	}

	if cached, ok := c.cache.Get(prompt, cacheNamespace); ok {
		c.metrics.CacheHitsTotal.Inc()
		return cached.Value.(string), nil
	}
	c.metrics.CacheMissesTotal.Inc()

	value, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return c.complete(ctx, prompt)
		})
	})
	if err != nil {
		c.metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	c.metrics.LLMRequestsTotal.WithLabelValues("success").Inc()

	answer := value.(string)
	c.cache.Set(prompt, cacheNamespace, answer)
	return answer, nil
}

// complete performs one chat-completions request. Failures are classified
// here so the executor sees taxonomy errors, not raw HTTP ones.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", errors.NewInternalError("failed to encode LLM request").WithCause(err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternalError("failed to build LLM request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.NewAPIRequestError("LLM request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", errors.FromHTTPResponse(resp, url)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", errors.NewInvalidResponseError("failed to decode LLM response").WithCause(err)
	}
	if len(chat.Choices) == 0 {
		return "", errors.NewInvalidResponseError("LLM response contained no choices")
	}
	return chat.Choices[0].Message.Content, nil
}

// buildPrompt lists the failed controls, one per line, in a stable order so
// the cache key is deterministic for a given result set.
func buildPrompt(results []compliance.ControlResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Status != compliance.StatusFail {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s) %s: %s\n", r.ID, r.Framework, r.Title, r.Detail)
	}
	if b.Len() == 0 {
		return ""
	}
	return "Failed compliance controls:\n" + b.String()
}
