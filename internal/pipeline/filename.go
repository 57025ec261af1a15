package pipeline

import (
	"net/url"
	"strings"
)

const maxFileNameLen = 200

// FileNameForURL derives the output file stem for a page URL. The extension
// (.md or .html) is appended by the caller. Root pages map to
// "{host}_index"; other pages join their path segments with underscores.
func FileNameForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return sanitizeFileName("unknown_page")
	}

	segments := splitPathSegments(u.Path)
	if len(segments) == 0 {
		return sanitizeFileName(u.Host + "_index")
	}
	return sanitizeFileName(strings.Join(segments, "_"))
}

func splitPathSegments(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// sanitizeFileName maps the stem onto the portable character set
// [A-Za-z0-9_.-], guards against dotfile/flag-like prefixes, and bounds the
// length.
func sanitizeFileName(stem string) string {
	var b strings.Builder
	b.Grow(len(stem))
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if strings.HasPrefix(out, ".") || strings.HasPrefix(out, "-") {
		out = "page_" + out
	}
	if len(out) > maxFileNameLen {
		out = out[:maxFileNameLen]
	}
	if out == "" {
		out = "page"
	}
	return out
}
