package pipeline

import "errors"

// Discovery and classification errors.
var (
	// ErrInvalidDomain is returned when a domain normalizes to nothing usable.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrNoSitemapFound is a soft failure: neither robots.txt nor the
	// direct sitemap probe produced a sitemap. The orchestrator falls back
	// to the native crawler instead of aborting.
	ErrNoSitemapFound = errors.New("no sitemap found")
)

// Fetch errors. Timeout and connection failures are transient; NotFound is
// terminal for the URL.
var (
	ErrFetchTimeout     = errors.New("fetch timed out")
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotFound         = errors.New("page not found")
)

// Persistence errors. WriteFailed is transient; the other two are not.
var (
	ErrDirectoryUnavailable = errors.New("output directory unavailable")
	ErrWriteFailed          = errors.New("file write failed")
	ErrPermissionDenied     = errors.New("permission denied")
)

// IsTransient reports whether err belongs to the retryable class: fetch
// timeouts, connection failures, and file write failures. Everything else,
// including context cancellation, is terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrFetchTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrWriteFailed)
}
