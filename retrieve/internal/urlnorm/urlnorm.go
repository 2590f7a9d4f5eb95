// Package urlnorm canonicalizes URLs so that equality means "same
// resource": dedup across search backends, cache keys, and ledger
// grouping all compare canonical forms.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var ErrInvalid = errors.New("urlnorm: invalid url")

// trackingParams are stripped by default: they vary per click, not per
// resource, and would defeat dedup.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
}

// Canonical normalizes raw with the default tracking-param set.
func Canonical(raw string) (string, error) {
	return Strip(raw, nil)
}

// Strip normalizes raw: lowercases scheme and host, removes the fragment,
// strips trailing slashes (the root path included), drops tracking
// parameters (the default set plus extra), and sorts what remains.
// Idempotent. Non-http(s) schemes are returned as-is. Does NOT upgrade
// http to https (different servers, different resources).
func Strip(raw string, extra []string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	scheme := strings.ToLower(parsed.Scheme)

	// No scheme and whitespace → clearly not a URL.
	if scheme == "" && strings.ContainsAny(raw, " \t") {
		return "", fmt.Errorf("%w: malformed", ErrInvalid)
	}
	if scheme != "http" && scheme != "https" {
		return raw, nil
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalid)
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	if parsed.RawQuery != "" {
		parsed.RawQuery = normalizeQuery(parsed.Query(), extra)
	}
	return parsed.String(), nil
}

func normalizeQuery(params url.Values, extra []string) string {
	for k := range trackingParams {
		params.Del(k)
	}
	for _, k := range extra {
		params.Del(k)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	for i, k := range keys {
		vals := params[k]
		sort.Strings(vals)
		for j, v := range vals {
			if i > 0 || j > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(url.QueryEscape(k))
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(v))
		}
	}
	return buf.String()
}

// Key returns the canonical form, or raw itself when normalization fails.
// Dedup and cache lookups want a stable string, not an error branch.
func Key(raw string) string {
	c, err := Canonical(raw)
	if err != nil {
		return raw
	}
	return c
}
