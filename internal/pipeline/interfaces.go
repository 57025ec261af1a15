package pipeline

import (
	"context"
	"time"
)

// PageFetcher retrieves one document body using the given strategy.
// Implementations own transport concerns entirely: timeouts, politeness
// delays, robots handling, and browser lifecycle.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, strategy FetchStrategy) (Page, error)
}

// Renderer converts one HTML document into Markdown. The label is used as
// a fallback heading when nothing could be extracted.
type Renderer interface {
	RenderWithRecovery(html string, label string) (string, error)
}

// Persistor stores one named document and returns the path it landed on.
// Name collisions must be resolved by the implementation.
type Persistor interface {
	Save(ctx context.Context, name string, content []byte) (string, error)
}

// NativeCrawler is the link-following fallback used when sitemap discovery
// finds nothing. It is treated as opaque: it fetches, renders, and persists
// on its own and only reports statistics back.
type NativeCrawler interface {
	Run(ctx context.Context, domain string) (RunStatistics, error)
}

// RetryPolicy decides whether a failed operation is worth repeating and how
// long to wait before the next attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
