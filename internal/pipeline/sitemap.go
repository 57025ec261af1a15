package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var sitemapDirective = regexp.MustCompile(`(?i)^sitemap:\s*(.+)$`)

// SitemapResolver discovers the page URLs a site publishes through the
// robots.txt/sitemap convention. Nested sitemap indices are expanded with an
// explicit worklist; a visited set and a depth bound both guard against
// cycles, independently of each other.
type SitemapResolver struct {
	fetcher  PageFetcher
	maxURLs  int
	maxDepth int
	logger   *zap.Logger
}

// NewSitemapResolver builds a resolver. maxURLs caps the returned frontier;
// maxDepth caps index nesting.
func NewSitemapResolver(fetcher PageFetcher, maxURLs, maxDepth int, logger *zap.Logger) *SitemapResolver {
	return &SitemapResolver{
		fetcher:  fetcher,
		maxURLs:  maxURLs,
		maxDepth: maxDepth,
		logger:   logger,
	}
}

// ResolveForDomain returns the deduplicated, size-bounded list of page URLs
// reachable from the domain's sitemaps, in discovery order. ErrNoSitemapFound
// is returned when neither robots.txt nor {domain}/sitemap.xml yields a
// sitemap; callers treat that as a signal to fall back, not a hard failure.
func (r *SitemapResolver) ResolveForDomain(ctx context.Context, domain string) ([]string, error) {
	base := baseURLForDomain(domain)

	candidates := r.sitemapsFromRobots(ctx, base)
	preloaded := map[string][]byte{}
	if len(candidates) == 0 {
		direct := base + "/sitemap.xml"
		page, err := r.fetcher.Fetch(ctx, direct, StrategyRaw)
		if err != nil {
			r.logger.Info("Direct sitemap probe failed",
				zap.String("url", direct), zap.Error(err))
			return nil, fmt.Errorf("%w for %s", ErrNoSitemapFound, domain)
		}
		r.logger.Info("Using direct sitemap.xml", zap.String("url", direct))
		candidates = []string{direct}
		preloaded[direct] = page.Body
	}

	visited := make(map[string]struct{})
	var pages []string
	for _, candidate := range candidates {
		pages = append(pages, r.expand(ctx, candidate, visited, preloaded)...)
	}

	pages = dedupe(pages)
	if r.maxURLs > 0 && len(pages) > r.maxURLs {
		r.logger.Warn("Frontier truncated",
			zap.Int("discovered", len(pages)),
			zap.Int("max", r.maxURLs),
		)
		SitemapTruncations.Inc()
		pages = pages[:r.maxURLs]
	}
	return pages, nil
}

// sitemapsFromRobots fetches {base}/robots.txt and extracts Sitemap lines.
// Any failure degrades to an empty candidate list.
func (r *SitemapResolver) sitemapsFromRobots(ctx context.Context, base string) []string {
	robotsURL := base + "/robots.txt"
	page, err := r.fetcher.Fetch(ctx, robotsURL, StrategyRaw)
	if err != nil {
		r.logger.Info("robots.txt unavailable", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}

	var sitemaps []string
	scanner := bufio.NewScanner(strings.NewReader(string(page.Body)))
	for scanner.Scan() {
		m := sitemapDirective.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		if u := strings.TrimSpace(m[1]); u != "" {
			sitemaps = append(sitemaps, u)
		}
	}
	if len(sitemaps) > 0 {
		r.logger.Info("Sitemaps listed in robots.txt", zap.Int("count", len(sitemaps)))
	}
	return sitemaps
}

// sitemapEntry is one <loc> value, classified as a nested index or a page.
type sitemapEntry struct {
	url   string
	index bool
}

// expand walks one sitemap tree. The frame stack reproduces recursion order:
// a nested index's pages are inserted where the index entry appeared. Fetch
// failures and guard hits silently terminate their branch only.
func (r *SitemapResolver) expand(ctx context.Context, root string, visited map[string]struct{}, preloaded map[string][]byte) []string {
	type frame struct {
		entries []sitemapEntry
		next    int
	}

	var pages []string
	var stack []frame

	open := func(url string, depth int) {
		if _, seen := visited[url]; seen {
			r.logger.Debug("Sitemap already visited", zap.String("url", url))
			return
		}
		if depth > r.maxDepth {
			r.logger.Debug("Sitemap depth bound reached",
				zap.String("url", url), zap.Int("depth", depth))
			return
		}
		visited[url] = struct{}{}

		body, ok := preloaded[url]
		if !ok {
			page, err := r.fetcher.Fetch(ctx, url, StrategyRaw)
			if err != nil {
				r.logger.Warn("Sitemap fetch failed", zap.String("url", url), zap.Error(err))
				return
			}
			body = page.Body
		}
		stack = append(stack, frame{entries: scanLocEntries(body)})
	}

	open(root, 0)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		entry := top.entries[top.next]
		top.next++
		if entry.index {
			// Depth equals the nesting level, i.e. the current stack height.
			open(entry.url, len(stack))
			continue
		}
		pages = append(pages, entry.url)
	}
	return pages
}

// scanLocEntries extracts <loc>...</loc> spans case-insensitively. Malformed
// or unterminated occurrences are skipped past, never fatal.
func scanLocEntries(body []byte) []sitemapEntry {
	doc := string(body)
	lower := strings.ToLower(doc)

	var entries []sitemapEntry
	pos := 0
	for {
		i := strings.Index(lower[pos:], "<loc")
		if i < 0 {
			break
		}
		start := pos + i
		tagEnd := strings.Index(lower[start:], ">")
		if tagEnd < 0 {
			pos = start + len("<loc")
			continue
		}
		contentStart := start + tagEnd + 1
		closeIdx := strings.Index(lower[contentStart:], "</loc>")
		if closeIdx < 0 {
			pos = contentStart
			continue
		}
		if u := strings.TrimSpace(doc[contentStart : contentStart+closeIdx]); u != "" {
			entries = append(entries, sitemapEntry{url: u, index: isSitemapIndexURL(u)})
		}
		pos = contentStart + closeIdx + len("</loc>")
	}
	return entries
}

// isSitemapIndexURL applies the .xml suffix heuristic: such a loc points at
// another sitemap document rather than a content page.
func isSitemapIndexURL(u string) bool {
	l := strings.ToLower(u)
	return strings.HasSuffix(l, ".xml") || strings.Contains(l, ".xml?")
}

func baseURLForDomain(domain string) string {
	d := strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	return "https://" + d
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
