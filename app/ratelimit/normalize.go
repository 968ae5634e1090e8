package ratelimit

import (
	"regexp"
	"strings"
)

var versionSegment = regexp.MustCompile(`/v\d+`)

// NormalizeEndpoint canonicalizes a request path so that logically
// identical routes share one counter bucket: the query string, a single
// trailing slash and the first embedded version segment are stripped.
func NormalizeEndpoint(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}

	p = strings.TrimSuffix(p, "/")

	if loc := versionSegment.FindStringIndex(p); loc != nil {
		p = p[:loc[0]] + p[loc[1]:]
	}

	if p == "" {
		return "/"
	}

	return p
}
