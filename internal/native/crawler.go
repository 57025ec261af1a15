// Package native provides the link-following fallback crawler used when a
// domain exposes no sitemap at all.
package native

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pattadon/sitemark/internal/pipeline"
)

// Config bounds the fallback crawl so a pathological site cannot run away.
type Config struct {
	UserAgent     string
	RespectRobots bool
	MaxDepth      int
	MaxPages      int
	Concurrency   int
	Delay         time.Duration
}

// Crawler walks a domain by following anchors, converting and persisting each
// page it lands on. It implements pipeline.NativeCrawler.
type Crawler struct {
	cfg       Config
	renderer  pipeline.Renderer
	persistor pipeline.Persistor
	logger    *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, renderer pipeline.Renderer, persistor pipeline.Persistor, logger *zap.Logger) *Crawler {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Crawler{
		cfg:       cfg,
		renderer:  renderer,
		persistor: persistor,
		logger:    logger,
	}
}

// Run crawls the domain starting from its root page and returns aggregated
// statistics. Pages that fail to convert or persist count as failures but do
// not stop the crawl.
func (c *Crawler) Run(ctx context.Context, domain string) (pipeline.RunStatistics, error) {
	var (
		mu    sync.Mutex
		stats pipeline.RunStatistics
		pages int
	)

	start := startURL(domain)
	host, err := hostOf(start)
	if err != nil {
		return pipeline.RunStatistics{}, fmt.Errorf("parse domain %q: %w", domain, err)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(host, "www."+host),
		colly.MaxDepth(c.cfg.MaxDepth),
		colly.UserAgent(c.cfg.UserAgent),
		colly.Async(true),
	)
	collector.AllowURLRevisit = false
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Concurrency,
		Delay:       c.cfg.Delay,
	}); err != nil {
		return pipeline.RunStatistics{}, fmt.Errorf("set collector limits: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		over := pages >= c.cfg.MaxPages
		mu.Unlock()
		if over {
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			c.logger.Debug("Skipping link",
				zap.String("url", e.Attr("href")), zap.Error(err))
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode != 200 || len(r.Body) == 0 {
			c.logger.Warn("Skipping response",
				zap.String("url", r.Request.URL.String()),
				zap.Int("status_code", r.StatusCode),
			)
			return
		}
		mu.Lock()
		pages++
		stats.TotalURLs++
		mu.Unlock()

		ok := c.processPage(ctx, r.Request.URL.String(), r.Body)

		mu.Lock()
		if ok {
			stats.Succeeded++
			stats.FilesSaved++
			pipeline.PagesProcessed.Inc()
		} else {
			stats.Failed++
			pipeline.PagesFailed.Inc()
		}
		mu.Unlock()
	})

	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("Request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	if err := collector.Visit(start); err != nil {
		return pipeline.RunStatistics{}, fmt.Errorf("visit %s: %w", start, err)
	}
	collector.Wait()

	c.logger.Info("Native crawl finished",
		zap.String("domain", domain),
		zap.Int("total", stats.TotalURLs),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// startURL turns a bare domain into the crawl entry point. Domains that
// already carry a scheme are used as-is.
func startURL(domain string) string {
	d := strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d + "/"
	}
	return "https://" + d + "/"
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return u.Hostname(), nil
}

// processPage converts and persists one page, falling back to the raw HTML
// when conversion fails. Returns false only when nothing could be saved.
func (c *Crawler) processPage(ctx context.Context, pageURL string, body []byte) bool {
	stem := pipeline.FileNameForURL(pageURL)

	markdown, err := c.renderer.RenderWithRecovery(string(body), pageURL)
	if err != nil {
		c.logger.Warn("Render failed; persisting raw HTML",
			zap.String("url", pageURL), zap.Error(err))
		pipeline.RenderFallbacks.Inc()
		if _, saveErr := c.persistor.Save(ctx, stem+".html", body); saveErr != nil {
			c.logger.Error("Raw HTML fallback save failed",
				zap.String("url", pageURL), zap.Error(saveErr))
			return false
		}
		return true
	}

	if _, err := c.persistor.Save(ctx, stem+".md", []byte(markdown)); err != nil {
		c.logger.Error("Save failed", zap.String("url", pageURL), zap.Error(err))
		return false
	}
	return true
}
