package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/auditlane/auditlane/pkg/errors"
)

// RetryPolicy holds configuration for retry behaviour. The zero value is not
// usable; build one from DefaultRetryPolicy and override fields as needed.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget including the first try
	MaxAttempts int
	// InitialDelay is the backoff before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration
	// BackoffMultiplier is the growth factor between retries
	BackoffMultiplier float64
	// Jitter perturbs each delay by up to ±25% to avoid retry storms
	Jitter bool
	// ShouldRetry decides whether an error is worth another attempt
	ShouldRetry func(error) bool
}

// DefaultRetryPolicy returns the retry behaviour used for platform and LLM
// calls unless a caller overrides it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		ShouldRetry:       errors.IsRetryable,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaults.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.BackoffMultiplier <= 1 {
		p.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = defaults.ShouldRetry
	}
	return p
}

// backoffDelay computes the delay after the given 1-based attempt:
// InitialDelay × Multiplier^(attempt−1), capped at MaxDelay, then jittered
// within ±25% when enabled. The first attempt itself is never delayed.
func (p RetryPolicy) backoffDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay += (rand.Float64()*0.5 - 0.25) * delay
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(int64(delay))
}

// ErrorHandler observes a failed attempt before the retry decision is made.
// It is the only observability hook the executor offers; the executor itself
// carries no logger.
type ErrorHandler func(err error, attempt int)

// Operation is a fallible remote call. The executor owns admission control
// and retries around it; the operation should do nothing but the call.
type Operation func(ctx context.Context) (interface{}, error)

// Executor runs operations through the rate limiter with bounded retries,
// exponential backoff and failure classification.
type Executor struct {
	limiter *RateLimiter
	policy  RetryPolicy
}

// NewExecutor creates an executor. The limiter is required; the policy is
// normalized against defaults, with the limiter's configured MaxRetries and
// BackoffMultiplier applied when the policy leaves them unset.
func NewExecutor(limiter *RateLimiter, policy RetryPolicy) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = limiter.Config().MaxRetries
	}
	if policy.BackoffMultiplier <= 1 {
		policy.BackoffMultiplier = limiter.Config().BackoffMultiplier
	}
	return &Executor{
		limiter: limiter,
		policy:  policy.normalized(),
	}
}

// Limiter exposes the executor's rate limiter for status reporting.
func (e *Executor) Limiter() *RateLimiter {
	return e.limiter
}

// Execute runs the operation with the executor's default policy.
func (e *Executor) Execute(ctx context.Context, op Operation) (interface{}, error) {
	return e.run(ctx, op, e.policy, nil)
}

// ExecuteWithPolicy runs the operation with per-call policy overrides.
func (e *Executor) ExecuteWithPolicy(ctx context.Context, op Operation, policy RetryPolicy) (interface{}, error) {
	return e.run(ctx, op, policy.normalized(), nil)
}

// ExecuteWithHandler runs the operation and invokes onError after every
// failed attempt, before the retry decision, so callers can log or count
// failures without coupling the executor to their telemetry.
func (e *Executor) ExecuteWithHandler(ctx context.Context, op Operation, onError ErrorHandler) (interface{}, error) {
	return e.run(ctx, op, e.policy, onError)
}

func (e *Executor) run(ctx context.Context, op Operation, policy RetryPolicy, onError ErrorHandler) (interface{}, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := e.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		result, err := op(ctx)
		e.limiter.Release()

		if err == nil {
			return result, nil
		}
		lastErr = err

		if onError != nil {
			onError(err, attempt)
		}

		if !policy.ShouldRetry(err) {
			return nil, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.backoffDelay(attempt)
		if suggested := errors.SuggestedDelay(err, attempt); suggested > delay {
			delay = suggested
		}
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("operation failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// ExecuteTyped is a typed convenience wrapper around Executor.Execute.
func ExecuteTyped[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	result, err := e.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
