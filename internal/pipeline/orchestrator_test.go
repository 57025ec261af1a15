package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRenderer converts bodies to markdown or fails on demand.
type fakeRenderer struct {
	failFor map[string]bool
}

func (r *fakeRenderer) RenderWithRecovery(html, label string) (string, error) {
	if r.failFor[html] {
		return "", errors.New("render failed")
	}
	return "# " + label + "\n\n" + html + "\n", nil
}

// fakePersistor stores saved files in memory.
type fakePersistor struct {
	mu    sync.Mutex
	files map[string][]byte
	fails int
}

func newFakePersistor() *fakePersistor {
	return &fakePersistor{files: make(map[string][]byte)}
}

func (p *fakePersistor) Save(_ context.Context, name string, content []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return "", fmt.Errorf("%w: disk hiccup", ErrWriteFailed)
	}
	p.files[name] = append([]byte(nil), content...)
	return "/out/" + name, nil
}

// fakeNative records delegation and returns fixed statistics.
type fakeNative struct {
	called bool
	stats  RunStatistics
}

func (n *fakeNative) Run(context.Context, string) (RunStatistics, error) {
	n.called = true
	return n.stats, nil
}

// zeroBackoffPolicy retries transient errors without sleeping.
type zeroBackoffPolicy struct {
	maxAttempts int
}

func (p zeroBackoffPolicy) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.maxAttempts && IsTransient(err)
}

func (p zeroBackoffPolicy) Backoff(int) time.Duration { return 0 }

// flakyFetcher fails a URL a fixed number of times before succeeding.
type flakyFetcher struct {
	mu       sync.Mutex
	bodies   map[string]string
	failures map[string]int
	calls    map[string]int
}

func (f *flakyFetcher) Fetch(_ context.Context, url string, _ FetchStrategy) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	if f.failures[url] > 0 {
		f.failures[url]--
		return Page{}, fmt.Errorf("%w: flaky", ErrConnectionFailed)
	}
	body, ok := f.bodies[url]
	if !ok {
		return Page{}, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return Page{FinalURL: url, Body: []byte(body)}, nil
}

func newTestOrchestrator(
	fetcher PageFetcher,
	renderer Renderer,
	persistor Persistor,
	native NativeCrawler,
) *Orchestrator {
	classifier := NewDomainClassifier([]WhitelistRule{
		{Pattern: "example.com", Strategy: StrategyRaw, Match: MatchExact},
	}, StrategyRaw, zap.NewNop())
	resolver := NewSitemapResolver(fetcher, 100, 5, zap.NewNop())
	return NewOrchestrator(
		classifier,
		resolver,
		fetcher,
		renderer,
		persistor,
		native,
		zeroBackoffPolicy{maxAttempts: 3},
		zeroBackoffPolicy{maxAttempts: 3},
		zap.NewNop(),
	)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{bodies: map[string]string{
		"https://example.com/robots.txt":  "Sitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith("https://example.com/a", "https://example.com/b"),
		"https://example.com/a":           "<p>A</p>",
		"https://example.com/b":           "<p>B</p>",
	}}
	persistor := newFakePersistor()
	o := newTestOrchestrator(fetcher, &fakeRenderer{}, persistor, &fakeNative{})

	stats, err := o.Run(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, RunStatistics{TotalURLs: 2, Succeeded: 2, Failed: 0, FilesSaved: 2}, stats)
	require.Contains(t, persistor.files, "a.md")
	require.Contains(t, persistor.files, "b.md")
}

func TestRunRenderFailureFallsBackToRawHTML(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{bodies: map[string]string{
		"https://example.com/robots.txt":  "Sitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith("https://example.com/bad"),
		"https://example.com/bad":         "<broken",
	}}
	persistor := newFakePersistor()
	renderer := &fakeRenderer{failFor: map[string]bool{"<broken": true}}
	o := newTestOrchestrator(fetcher, renderer, persistor, &fakeNative{})

	stats, err := o.Run(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Succeeded)
	require.Contains(t, persistor.files, "bad.html")
	require.Equal(t, "<broken", string(persistor.files["bad.html"]))
}

func TestRunDelegatesToNativeCrawler(t *testing.T) {
	t.Parallel()

	// No robots.txt and no sitemap.xml at all.
	fetcher := &flakyFetcher{bodies: map[string]string{}}
	native := &fakeNative{stats: RunStatistics{TotalURLs: 7, Succeeded: 6, Failed: 1, FilesSaved: 6}}
	o := newTestOrchestrator(fetcher, &fakeRenderer{}, newFakePersistor(), native)

	stats, err := o.Run(context.Background(), "example.com")
	require.NoError(t, err)
	require.True(t, native.called)
	require.Equal(t, native.stats, stats)
}

func TestRunNoSitemapAndNoNativeIsHardFailure(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{bodies: map[string]string{}}
	o := newTestOrchestrator(fetcher, &fakeRenderer{}, newFakePersistor(), nil)

	_, err := o.Run(context.Background(), "example.com")
	require.ErrorIs(t, err, ErrNoSitemapFound)
}

func TestRunRetriesTransientFetchFailures(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{
		bodies: map[string]string{
			"https://example.com/robots.txt":  "Sitemap: https://example.com/sitemap.xml\n",
			"https://example.com/sitemap.xml": sitemapWith("https://example.com/a"),
			"https://example.com/a":           "<p>A</p>",
		},
		failures: map[string]int{"https://example.com/a": 2},
	}
	persistor := newFakePersistor()
	o := newTestOrchestrator(fetcher, &fakeRenderer{}, persistor, &fakeNative{})

	stats, err := o.Run(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Succeeded)
	require.Equal(t, 3, fetcher.calls["https://example.com/a"])
}

func TestRunFetchRetryExhaustionFailsURL(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{
		bodies: map[string]string{
			"https://example.com/robots.txt":  "Sitemap: https://example.com/sitemap.xml\n",
			"https://example.com/sitemap.xml": sitemapWith("https://example.com/a", "https://example.com/b"),
			"https://example.com/a":           "<p>A</p>",
			"https://example.com/b":           "<p>B</p>",
		},
		failures: map[string]int{"https://example.com/a": 10},
	}
	persistor := newFakePersistor()
	o := newTestOrchestrator(fetcher, &fakeRenderer{}, persistor, &fakeNative{})

	stats, err := o.Run(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, RunStatistics{TotalURLs: 2, Succeeded: 1, Failed: 1, FilesSaved: 1}, stats)
	require.NotContains(t, persistor.files, "a.md")
	require.Contains(t, persistor.files, "b.md")
}

func TestRunWriteRetrySucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{bodies: map[string]string{
		"https://example.com/robots.txt":  "Sitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith("https://example.com/a"),
		"https://example.com/a":           "<p>A</p>",
	}}
	persistor := newFakePersistor()
	persistor.fails = 1
	o := newTestOrchestrator(fetcher, &fakeRenderer{}, persistor, &fakeNative{})

	stats, err := o.Run(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Succeeded)
	require.Contains(t, persistor.files, "a.md")
}

func TestRunCanceledContextStopsProcessing(t *testing.T) {
	t.Parallel()

	fetcher := &flakyFetcher{bodies: map[string]string{
		"https://example.com/robots.txt":  "Sitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith("https://example.com/a", "https://example.com/b"),
		"https://example.com/a":           "<p>A</p>",
		"https://example.com/b":           "<p>B</p>",
	}}
	o := newTestOrchestrator(fetcher, &fakeRenderer{}, newFakePersistor(), &fakeNative{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, "example.com")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "canceled"))
}

func TestRunInvalidDomain(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(&flakyFetcher{}, &fakeRenderer{}, newFakePersistor(), &fakeNative{})
	_, err := o.Run(context.Background(), "   ")
	require.ErrorIs(t, err, ErrInvalidDomain)
}
