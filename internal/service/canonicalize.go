package service

import (
	"net/url"
	"strings"
)

// CanonicalizeURL normalizes a submitted URL so that equivalent
// spellings dedup to the same stored row:
//
//   - scheme must be http or https, lowercased
//   - exactly "scheme://" - "http:example.com" and "http:///x" are both
//     rejected rather than guessed at
//   - fragment stripped (never sent to the server anyway)
//   - host lowercased; path, query, and userinfo left untouched
//
// The function is idempotent: canonicalize(canonicalize(u)) ==
// canonicalize(u).
func CanonicalizeURL(raw string) (string, *Error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", Unprocessable("URL must not be empty")
	}

	scheme, rest, ok := strings.Cut(trimmed, ":")
	if !ok {
		return "", Unprocessable("URL is missing a scheme")
	}
	scheme = strings.ToLower(scheme)
	if scheme != "http" && scheme != "https" {
		return "", Unprocessablef("Unsupported scheme: %s", scheme)
	}
	// Exactly two slashes after the scheme. url.Parse would quietly
	// accept both shapes below, so check before parsing.
	if !strings.HasPrefix(rest, "//") || strings.HasPrefix(rest, "///") {
		return "", Unprocessable("Wrong number of slashes after scheme")
	}

	u, err := url.Parse(scheme + ":" + rest)
	if err != nil {
		return "", Unprocessable("Invalid URL")
	}
	if u.Host == "" {
		return "", Unprocessable("URL is missing a host")
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}
