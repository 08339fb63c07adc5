package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig bounds outbound calls to a shared remote endpoint.
type RateLimiterConfig struct {
	// MaxRequestsPerMinute caps admissions in a rolling 60 second window
	MaxRequestsPerMinute int
	// MaxConcurrentRequests caps calls in flight at once
	MaxConcurrentRequests int
	// BackoffMultiplier is the default multiplier for the retry executor
	BackoffMultiplier float64
	// MaxRetries is the default attempt budget for the retry executor
	MaxRetries int
}

// DefaultRateLimiterConfig returns the default admission-control limits
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxRequestsPerMinute:  50,
		MaxConcurrentRequests: 10,
		BackoffMultiplier:     2.0,
		MaxRetries:            3,
	}
}

// Status is a read-only snapshot of the limiter state.
type Status struct {
	ActiveRequests       int `json:"active_requests"`
	RequestsInLastMinute int `json:"requests_in_last_minute"`
}

// RateLimiter provides admission control over concurrent and per-minute
// outbound calls. Waiters poll rather than queue, so admission order under
// sustained contention is not strictly FIFO; for a single action run that
// trade-off keeps the limiter simple and has proven acceptable.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	active     int
	timestamps []time.Time

	// window and pollInterval are fixed in production; tests shrink them.
	window       time.Duration
	pollInterval time.Duration
}

// NewRateLimiter creates a rate limiter, applying defaults for any
// non-positive limits.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.MaxRequestsPerMinute <= 0 {
		config.MaxRequestsPerMinute = defaults.MaxRequestsPerMinute
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = defaults.MaxConcurrentRequests
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}

	return &RateLimiter{
		config:       config,
		window:       time.Minute,
		pollInterval: 100 * time.Millisecond,
	}
}

// Config returns the limits the limiter was built with.
func (r *RateLimiter) Config() RateLimiterConfig {
	return r.config
}

// Acquire blocks until a slot is available in both the concurrency bound and
// the sliding per-minute window, then admits the caller. It never fails on
// its own; the only error it returns is the context's. The wait is an
// iterative loop, not recursion, so sustained contention cannot grow the
// stack.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		r.mu.Lock()
		if r.active < r.config.MaxConcurrentRequests {
			r.prune(now)
			if len(r.timestamps) < r.config.MaxRequestsPerMinute {
				r.timestamps = append(r.timestamps, now)
				r.active++
				r.mu.Unlock()
				return nil
			}
			// Window full: wait until the oldest admission leaves it,
			// then re-evaluate from the top.
			wait := r.window - now.Sub(r.timestamps[0])
			r.mu.Unlock()
			if wait > 0 {
				if err := sleepContext(ctx, wait); err != nil {
					return err
				}
			}
			continue
		}
		r.mu.Unlock()

		if err := sleepContext(ctx, r.pollInterval); err != nil {
			return err
		}
	}
}

// Release returns a concurrency slot. Releasing more times than acquired is
// a no-op rather than a corruption: the counter never goes negative.
func (r *RateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active > 0 {
		r.active--
	}
}

// GetStatus returns a snapshot of the limiter without mutating its state.
func (r *RateLimiter) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	inWindow := 0
	for _, ts := range r.timestamps {
		if ts.After(cutoff) {
			inWindow++
		}
	}
	return Status{
		ActiveRequests:       r.active,
		RequestsInLastMinute: inWindow,
	}
}

// prune drops admission timestamps older than the window. Caller holds mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.timestamps) && !r.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.timestamps = append(r.timestamps[:0], r.timestamps[i:]...)
	}
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
