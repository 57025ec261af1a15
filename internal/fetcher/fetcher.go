// Package fetcher routes fetch requests to the transport selected by the
// fetch strategy and enforces the inter-request politeness delay.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pattadon/sitemark/internal/pipeline"
	"github.com/pattadon/sitemark/internal/ratelimit"
)

// Transport retrieves one URL. Implementations: the colly HTTP fetcher and
// the chromedp headless fetcher.
type Transport interface {
	Fetch(ctx context.Context, url string) (pipeline.Page, error)
}

// Switch implements pipeline.PageFetcher by dispatching on strategy. All
// requests, regardless of transport, pass through the per-host limiter so
// each site sees at most one request per configured delay.
type Switch struct {
	raw      Transport
	rendered Transport
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

// NewSwitch builds the strategy switch. rendered may be nil when headless
// fetching is disabled; Rendered requests then degrade to the raw transport
// with a warning.
func NewSwitch(raw, rendered Transport, delay time.Duration, logger *zap.Logger) *Switch {
	return &Switch{
		raw:      raw,
		rendered: rendered,
		limiter:  ratelimit.New(delay),
		logger:   logger,
	}
}

// Fetch implements pipeline.PageFetcher.
func (s *Switch) Fetch(ctx context.Context, url string, strategy pipeline.FetchStrategy) (pipeline.Page, error) {
	if err := s.limiter.Wait(ctx, url); err != nil {
		return pipeline.Page{}, fmt.Errorf("politeness wait: %w", err)
	}

	transport := s.raw
	if strategy == pipeline.StrategyRendered {
		if s.rendered != nil {
			transport = s.rendered
		} else {
			s.logger.Warn("Rendered strategy requested but headless transport is disabled; using raw",
				zap.String("url", url))
		}
	}

	page, err := transport.Fetch(ctx, url)
	if err != nil {
		return pipeline.Page{}, err
	}
	return page, nil
}
