// Package collyfetcher implements the raw HTTP transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pattadon/sitemark/internal/pipeline"
)

// ErrRobotsDisallowed marks URLs the site's robots.txt forbids. It is not
// transient, so callers never retry it.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// Fetcher retrieves pages over plain HTTP with the Colly collector. The base
// collector carries the pooled transport; every Fetch clones it so per-request
// callbacks never leak between calls.
type Fetcher struct {
	cfg           Config
	robots        *RobotsGate
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	var robots *RobotsGate
	if cfg.RespectRobots {
		robots = NewRobotsGate(cfg.UserAgent, logger)
	}

	return &Fetcher{
		cfg:           cfg,
		robots:        robots,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET and returns the final URL and body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (pipeline.Page, error) {
	if f.robots != nil && !f.robots.Allowed(ctx, url) {
		return pipeline.Page{}, fmt.Errorf("%w: %s", ErrRobotsDisallowed, url)
	}

	var (
		page       pipeline.Page
		fetchErr   error
		statusCode int
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		page = pipeline.Page{
			FinalURL: r.Request.URL.String(),
			Body:     append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, url); err != nil {
		return pipeline.Page{}, mapFetchError(err, 0)
	}
	if fetchErr != nil {
		return pipeline.Page{}, mapFetchError(fetchErr, statusCode)
	}
	return page, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

// mapFetchError folds transport-level failures onto the pipeline's error
// taxonomy so retry decisions stay uniform across transports.
func mapFetchError(err error, statusCode int) error {
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", pipeline.ErrNotFound, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", pipeline.ErrFetchTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", pipeline.ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", pipeline.ErrConnectionFailed, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
