// Package ratelimit implements a token bucket limiter keyed by host, so one
// slow site never throttles requests to another.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitDelays = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sitemark_rate_limit_delays_seconds",
		Help:    "Histogram of politeness wait durations per host.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"host"},
)

// Limiter manages per-host rate limits. Hosts share a common default rate;
// limiters are created lazily on first use.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// New creates a Limiter that spaces requests to each host by delay. A zero
// or negative delay disables limiting.
func New(delay time.Duration) *Limiter {
	r := rate.Inf
	if delay > 0 {
		r = rate.Every(delay)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: 1,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the
// context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		rateLimitDelays.WithLabelValues(host).Observe(waited.Seconds())
	}
	return nil
}
