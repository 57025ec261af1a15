package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesProcessed counts URLs that reached a terminal-success state.
	PagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemark_pages_processed_total",
		Help: "The total number of URLs fetched, rendered, and persisted.",
	})
	// PagesFailed counts URLs that ended in a terminal failure.
	PagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemark_pages_failed_total",
		Help: "The total number of URLs that could not be processed.",
	})
	// FetchRetries counts retried fetch attempts.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemark_fetch_retries_total",
		Help: "The total number of fetch attempts that were retried.",
	})
	// RenderFallbacks counts pages persisted as raw HTML after the
	// renderer gave up.
	RenderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemark_render_fallbacks_total",
		Help: "The total number of pages saved as raw HTML after a render failure.",
	})
	// SitemapTruncations counts frontiers cut at the configured URL cap.
	SitemapTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemark_sitemap_truncations_total",
		Help: "The total number of runs whose frontier hit the sitemap URL cap.",
	})
)
