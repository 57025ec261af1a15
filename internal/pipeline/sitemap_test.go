package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFetcher serves canned bodies by URL and records fetch counts.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	counts map[string]int
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies, counts: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ FetchStrategy) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[url]++
	body, ok := f.bodies[url]
	if !ok {
		return Page{}, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return Page{FinalURL: url, Body: []byte(body)}, nil
}

func (f *fakeFetcher) fetches(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

func sitemapWith(locs ...string) string {
	doc := `<?xml version="1.0"?><urlset>`
	for _, l := range locs {
		doc += "<loc>" + l + "</loc>"
	}
	return doc + "</urlset>"
}

func TestResolveForDomainFlatSitemap(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		"https://example.com/robots.txt": "User-agent: *\nSitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith(
			"https://example.com/a",
			"https://example.com/b",
			"https://example.com/c",
		),
	})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, pages)
}

func TestResolveForDomainRobotsDirectiveCaseInsensitive(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		"https://example.com/robots.txt":  "SITEMAP:   https://example.com/map.xml  \n",
		"https://example.com/map.xml":     sitemapWith("https://example.com/x"),
		"https://example.com/sitemap.xml": sitemapWith("https://example.com/wrong"),
	})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/x"}, pages)
	require.Zero(t, f.fetches("https://example.com/sitemap.xml"))
}

func TestResolveForDomainNestedIndexPreservesOrder(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		"https://example.com/robots.txt": "Sitemap: https://example.com/index.xml\n",
		"https://example.com/index.xml": sitemapWith(
			"https://example.com/before",
			"https://example.com/child.xml",
			"https://example.com/after",
		),
		"https://example.com/child.xml": sitemapWith(
			"https://example.com/c1",
			"https://example.com/c2",
		),
	})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	// Nested pages are inserted where the child index appeared.
	require.Equal(t, []string{
		"https://example.com/before",
		"https://example.com/c1",
		"https://example.com/c2",
		"https://example.com/after",
	}, pages)
}

func TestResolveForDomainSelfReferenceTerminates(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		"https://example.com/robots.txt": "Sitemap: https://example.com/loop.xml\n",
		"https://example.com/loop.xml": sitemapWith(
			"https://example.com/page",
			"https://example.com/loop.xml",
		),
	})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/page"}, pages)
	require.Equal(t, 1, f.fetches("https://example.com/loop.xml"))
}

func TestResolveForDomainDepthBound(t *testing.T) {
	t.Parallel()

	// A chain deeper than maxDepth yields the pages of the levels within
	// the bound and silently drops the rest.
	bodies := map[string]string{
		"https://example.com/robots.txt": "Sitemap: https://example.com/l0.xml\n",
	}
	for i := 0; i < 5; i++ {
		bodies[fmt.Sprintf("https://example.com/l%d.xml", i)] = sitemapWith(
			fmt.Sprintf("https://example.com/p%d", i),
			fmt.Sprintf("https://example.com/l%d.xml", i+1),
		)
	}
	f := newFakeFetcher(bodies)
	r := NewSitemapResolver(f, 100, 2, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/p0",
		"https://example.com/p1",
		"https://example.com/p2",
	}, pages)
}

func TestResolveForDomainDeduplicates(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		"https://example.com/robots.txt": "Sitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith(
			"https://example.com/a",
			"https://example.com/b",
			"https://example.com/a",
		),
	})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, pages)
}

func TestResolveForDomainTruncatesToMax(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		"https://example.com/robots.txt": "Sitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith(
			"https://example.com/1",
			"https://example.com/2",
			"https://example.com/3",
			"https://example.com/4",
		),
	})
	r := NewSitemapResolver(f, 2, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/1", "https://example.com/2"}, pages)
}

func TestResolveForDomainDirectSitemapFallback(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		// robots.txt exists but lists no sitemaps.
		"https://example.com/robots.txt":  "User-agent: *\nDisallow: /private\n",
		"https://example.com/sitemap.xml": sitemapWith("https://example.com/only"),
	})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/only"}, pages)
	// The probed body is reused, not fetched twice.
	require.Equal(t, 1, f.fetches("https://example.com/sitemap.xml"))
}

func TestResolveForDomainNoSitemapAnywhere(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	_, err := r.ResolveForDomain(context.Background(), "example.com")
	require.ErrorIs(t, err, ErrNoSitemapFound)
}

func TestResolveForDomainEmptySitemapIsNotAnError(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(map[string]string{
		"https://example.com/robots.txt":  "Sitemap: https://example.com/sitemap.xml\n",
		"https://example.com/sitemap.xml": sitemapWith(),
	})
	r := NewSitemapResolver(f, 100, 5, zap.NewNop())

	pages, err := r.ResolveForDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.Empty(t, pages)
}

func TestScanLocEntriesMalformed(t *testing.T) {
	t.Parallel()

	entries := scanLocEntries([]byte("<urlset><loc>https://a.test/x</loc><loc>unterminated"))
	require.Len(t, entries, 1)
	require.Equal(t, "https://a.test/x", entries[0].url)
}

func TestIsSitemapIndexURL(t *testing.T) {
	t.Parallel()

	require.True(t, isSitemapIndexURL("https://a.test/map.xml"))
	require.True(t, isSitemapIndexURL("https://a.test/MAP.XML"))
	require.True(t, isSitemapIndexURL("https://a.test/map.xml?page=2"))
	require.False(t, isSitemapIndexURL("https://a.test/page.html"))
	require.False(t, isSitemapIndexURL("https://a.test/page"))
}

var errBoom = errors.New("boom")

// failingFetcher always errors, for exercising branch pruning.
type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string, FetchStrategy) (Page, error) {
	return Page{}, errBoom
}

func TestResolveForDomainRobotsAndProbeFailure(t *testing.T) {
	t.Parallel()

	r := NewSitemapResolver(failingFetcher{}, 100, 5, zap.NewNop())
	_, err := r.ResolveForDomain(context.Background(), "example.com")
	require.ErrorIs(t, err, ErrNoSitemapFound)
}
