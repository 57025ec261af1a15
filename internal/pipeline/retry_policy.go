package pipeline

import (
	"context"
	"errors"
	"time"
)

// ExponentialRetryPolicy retries transient failures with doubling backoff.
// Backoff is deterministic (base << attempt, capped) so run behavior is
// reproducible.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewFetchRetryPolicy returns the policy applied to network fetches.
func NewFetchRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// NewWriteRetryPolicy returns the policy applied to file writes.
func NewWriteRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    time.Second,
	}
}

// ShouldRetry reports whether the operation should be attempted again.
// attempt is 1-based: the number of attempts already made.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait before the given 1-based attempt is retried.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.baseDelay << uint(attempt)
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	return delay
}
