package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DomainClassifier maps a domain to the fetch strategy configured for it.
// Rules are scanned in list order; the first match wins. Results are cached
// for the lifetime of the classifier, so a classification never changes
// within a run even if the rule source does.
type DomainClassifier struct {
	rules           []WhitelistRule
	defaultStrategy FetchStrategy
	logger          *zap.Logger

	mu    sync.Mutex
	cache map[string]FetchStrategy
}

// NewDomainClassifier builds a classifier over an already-parsed rule list.
// A nil or empty rule list is valid: every domain resolves to the default.
func NewDomainClassifier(rules []WhitelistRule, def FetchStrategy, logger *zap.Logger) *DomainClassifier {
	return &DomainClassifier{
		rules:           append([]WhitelistRule(nil), rules...),
		defaultStrategy: def,
		logger:          logger,
		cache:           make(map[string]FetchStrategy),
	}
}

// NormalizeDomain reduces a domain or URL to its canonical host form:
// scheme and leading "www." stripped, path dropped, lowercased.
func NormalizeDomain(domainOrURL string) string {
	v := strings.ToLower(strings.TrimSpace(domainOrURL))
	v = strings.TrimPrefix(v, "http://")
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "www.")
	if i := strings.Index(v, "/"); i >= 0 {
		v = v[:i]
	}
	return v
}

// Classify resolves the fetch strategy for a domain or URL.
func (c *DomainClassifier) Classify(domainOrURL string) (FetchStrategy, error) {
	normalized := NormalizeDomain(domainOrURL)
	if normalized == "" {
		return StrategyRaw, fmt.Errorf("%w: %q", ErrInvalidDomain, domainOrURL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.cache[normalized]; ok {
		return s, nil
	}

	strategy := c.defaultStrategy
	for _, rule := range c.rules {
		if ruleMatches(rule, normalized) {
			strategy = rule.Strategy
			break
		}
	}

	c.cache[normalized] = strategy
	c.logger.Debug("Domain classified",
		zap.String("domain", normalized),
		zap.Stringer("strategy", strategy),
	)
	return strategy, nil
}

func ruleMatches(rule WhitelistRule, normalized string) bool {
	switch rule.Match {
	case MatchExact:
		return normalized == rule.Pattern
	case MatchSubdomain:
		return normalized == rule.Pattern || strings.HasSuffix(normalized, "."+rule.Pattern)
	default:
		return false
	}
}
