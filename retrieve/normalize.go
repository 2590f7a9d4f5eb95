package retrieve

import "github.com/hazyhaar/relance/retrieve/internal/urlnorm"

// NormalizeURL canonicalizes a URL: lowercases scheme and host, strips the
// fragment, the trailing slash, and tracking parameters (the built-in set
// plus extra), and sorts the remaining query. Idempotent. Dual-language
// dedup and the result cache key both rely on it.
func NormalizeURL(raw string, extra ...string) (string, error) {
	return urlnorm.Strip(raw, extra)
}

// URLKey returns the canonical form of raw, or raw itself when it cannot
// be normalized. For map keys, where an error branch is useless.
func URLKey(raw string) string {
	return urlnorm.Key(raw)
}
