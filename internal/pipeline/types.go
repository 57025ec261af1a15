// Package pipeline implements the content-harvesting engine: domain
// classification, sitemap discovery, and the fetch-render-persist loop.
package pipeline

// FetchStrategy selects how a page body is retrieved.
type FetchStrategy int

// Supported fetch strategies.
const (
	// StrategyRaw retrieves the page over plain HTTP.
	StrategyRaw FetchStrategy = iota
	// StrategyRendered retrieves the page through a JS-executing browser.
	StrategyRendered
)

// String implements fmt.Stringer for log fields.
func (s FetchStrategy) String() string {
	switch s {
	case StrategyRendered:
		return "rendered"
	default:
		return "raw"
	}
}

// ParseStrategy maps a configuration value to a FetchStrategy.
// Unknown values resolve to StrategyRaw with ok=false.
func ParseStrategy(v string) (FetchStrategy, bool) {
	switch v {
	case "raw":
		return StrategyRaw, true
	case "rendered":
		return StrategyRendered, true
	default:
		return StrategyRaw, false
	}
}

// MatchKind controls how a whitelist rule pattern is compared against a
// normalized domain.
type MatchKind int

// Supported match kinds.
const (
	MatchExact MatchKind = iota
	MatchSubdomain
)

// WhitelistRule binds a domain pattern to a fetch strategy. Rules are
// evaluated in list order; the first match wins.
type WhitelistRule struct {
	Pattern  string
	Strategy FetchStrategy
	Match    MatchKind
}

// Page is the body returned by a PageFetcher, along with the URL the
// transport finally landed on after redirects.
type Page struct {
	FinalURL string
	Body     []byte
}

// ProcessingResult records the terminal outcome for a single frontier URL.
// A successful result with a non-nil Err means the raw HTML was persisted
// because Markdown conversion failed.
type ProcessingResult struct {
	URL        string
	Success    bool
	OutputPath string
	Bytes      int64
	Err        error
}

// RunStatistics aggregates per-URL outcomes over one pipeline run.
type RunStatistics struct {
	TotalURLs  int
	Succeeded  int
	Failed     int
	FilesSaved int
}
