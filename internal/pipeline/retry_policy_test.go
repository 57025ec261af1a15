package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryTransientErrors(t *testing.T) {
	t.Parallel()

	p := NewFetchRetryPolicy()

	for _, err := range []error{ErrFetchTimeout, ErrConnectionFailed, ErrWriteFailed} {
		require.True(t, p.ShouldRetry(fmt.Errorf("op: %w", err), 1), "err %v", err)
	}
}

func TestShouldRetryTerminalErrors(t *testing.T) {
	t.Parallel()

	p := NewFetchRetryPolicy()

	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(ErrNotFound, 1))
	require.False(t, p.ShouldRetry(ErrPermissionDenied, 1))
	require.False(t, p.ShouldRetry(errors.New("unclassified"), 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
}

func TestShouldRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	p := NewFetchRetryPolicy()

	require.True(t, p.ShouldRetry(ErrFetchTimeout, 1))
	require.True(t, p.ShouldRetry(ErrFetchTimeout, 2))
	require.False(t, p.ShouldRetry(ErrFetchTimeout, 3))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	p := NewFetchRetryPolicy()

	require.Equal(t, time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 4*time.Second, p.Backoff(3))
	require.Equal(t, 5*time.Second, p.Backoff(4))
	require.Equal(t, 5*time.Second, p.Backoff(20))
}

func TestWritePolicyUsesShorterDelays(t *testing.T) {
	t.Parallel()

	p := NewWriteRetryPolicy()

	require.Equal(t, 200*time.Millisecond, p.Backoff(1))
	require.Equal(t, 400*time.Millisecond, p.Backoff(2))
	require.Equal(t, time.Second, p.Backoff(5))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	require.True(t, IsTransient(ErrFetchTimeout))
	require.True(t, IsTransient(ErrConnectionFailed))
	require.True(t, IsTransient(ErrWriteFailed))
	require.False(t, IsTransient(ErrNotFound))
	require.False(t, IsTransient(ErrNoSitemapFound))
	require.False(t, IsTransient(nil))
}
