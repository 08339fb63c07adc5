package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/auditlane/auditlane/pkg/errors"
)

func newTestExecutor(policy RetryPolicy) *Executor {
	limiter := NewRateLimiter(RateLimiterConfig{MaxRequestsPerMinute: 1000, MaxConcurrentRequests: 10})
	limiter.pollInterval = time.Millisecond
	return NewExecutor(limiter, policy)
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func retryableErr() error {
	return apperrors.NewAPIRequestError("upstream unavailable").WithStatus(503)
}

func TestExecutor_SuccessOnFirstAttempt(t *testing.T) {
	executor := newTestExecutor(fastPolicy(3))

	attempts := 0
	result, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, executor.Limiter().GetStatus().ActiveRequests)
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	// Fails twice with a retryable error, succeeds on the third call.
	executor := newTestExecutor(fastPolicy(3))

	attempts := 0
	sleeps := 0
	result, err := executor.ExecuteWithHandler(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, retryableErr()
		}
		return "recovered", nil
	}, func(err error, attempt int) {
		sleeps++
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, sleeps)
}

func TestExecutor_AttemptBudgetIsExact(t *testing.T) {
	executor := newTestExecutor(fastPolicy(3))

	attempts := 0
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, retryableErr()
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "operation failed after 3 attempts")
	// The classified cause stays reachable through the wrapper.
	assert.True(t, apperrors.IsRetryable(err))
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	executor := newTestExecutor(fastPolicy(3))

	attempts := 0
	start := time.Now()
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, apperrors.NewNotFoundError("repos/acme/widgets")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, apperrors.CodeAPINotFound, apperrors.GetCode(err))
	// No backoff sleep happened.
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestExecutor_SuggestedDelayTakesPrecedence(t *testing.T) {
	// A rate-limit error suggests waiting for the reset (1s floor), which
	// must win over the 5ms configured backoff.
	executor := newTestExecutor(fastPolicy(2))

	attempts := 0
	start := time.Now()
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts == 1 {
			return nil, apperrors.NewRateLimitError("throttled", time.Now().Add(-time.Minute), 60, 0)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestExecutor_PolicyOverridePerCall(t *testing.T) {
	executor := newTestExecutor(fastPolicy(5))

	attempts := 0
	_, err := executor.ExecuteWithPolicy(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, retryableErr()
	}, fastPolicy(2))

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestExecutor_CancelledDuringBackoff(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = 200 * time.Millisecond
	executor := newTestExecutor(policy)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	_, err := executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, retryableErr()
	})

	require.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteTyped(t *testing.T) {
	executor := newTestExecutor(fastPolicy(3))

	n, err := ExecuteTyped(context.Background(), executor, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = ExecuteTyped(context.Background(), executor, func(ctx context.Context) (int, error) {
		return 0, apperrors.NewMissingInputError("field")
	})
	require.Error(t, err)
}

func TestRetryPolicy_BackoffMonotonicUntilCap(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          80 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}

	var prev time.Duration
	for attempt := 1; attempt <= 8; attempt++ {
		delay := policy.backoffDelay(attempt)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, 80*time.Millisecond, "attempt %d", attempt)
		prev = delay
	}
	assert.Equal(t, 10*time.Millisecond, policy.backoffDelay(1))
	assert.Equal(t, 20*time.Millisecond, policy.backoffDelay(2))
	assert.Equal(t, 80*time.Millisecond, policy.backoffDelay(4))
	assert.Equal(t, 80*time.Millisecond, policy.backoffDelay(7))
}

func TestRetryPolicy_JitterStaysWithinBounds(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	for attempt := 1; attempt <= 4; attempt++ {
		base := float64(100*time.Millisecond) * float64(int(1)<<uint(attempt-1))
		if base > float64(time.Second) {
			base = float64(time.Second)
		}
		for i := 0; i < 100; i++ {
			delay := float64(policy.backoffDelay(attempt))
			assert.GreaterOrEqual(t, delay, 0.75*base)
			assert.LessOrEqual(t, delay, 1.25*base)
		}
	}
}

func TestNewExecutor_InheritsLimiterDefaults(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{MaxRetries: 7, BackoffMultiplier: 3.0})
	executor := NewExecutor(limiter, RetryPolicy{})

	assert.Equal(t, 7, executor.policy.MaxAttempts)
	assert.Equal(t, 3.0, executor.policy.BackoffMultiplier)
	assert.NotNil(t, executor.policy.ShouldRetry)
}
