// Package health reports on the registry and on result quality. Read-only:
// nothing here mutates a backend's counters.
package health

import (
	"net/url"
	"strings"

	"github.com/hazyhaar/relance/retrieve/internal/backend"
)

// healthyRate is the success-rate bar separating healthy from degraded.
const healthyRate = 0.5

// Status is one backend's condition at check time.
type Status struct {
	Name        string  `json:"name"`
	Priority    int     `json:"priority"`
	Available   bool    `json:"available"`
	SuccessRate float64 `json:"success_rate"`
	LastError   string  `json:"last_error,omitempty"`
}

// Report partitions the registry.
type Report struct {
	Healthy     []Status `json:"healthy"`
	Degraded    []Status `json:"degraded"`
	Unavailable []Status `json:"unavailable"`
}

// Auditor inspects a registry without touching it.
type Auditor struct {
	registry *backend.Registry
}

func New(registry *backend.Registry) *Auditor {
	return &Auditor{registry: registry}
}

// CheckAll buckets every backend: healthy (available with a success rate
// above the bar), degraded (available at or below it), unavailable.
func (a *Auditor) CheckAll() Report {
	var r Report
	for _, b := range a.registry.ByPriority() {
		h := b.Health()
		st := Status{
			Name:        b.Name(),
			Priority:    b.Priority(),
			Available:   h.Available,
			SuccessRate: h.SuccessRate,
			LastError:   h.LastError,
		}
		switch {
		case !h.Available:
			r.Unavailable = append(r.Unavailable, st)
		case h.SuccessRate > healthyRate:
			r.Healthy = append(r.Healthy, st)
		default:
			r.Degraded = append(r.Degraded, st)
		}
	}
	return r
}

// Per-hit scoring weights. A hit with a usable URL, a title, and some
// lexical overlap with the query scores 100.
const (
	scoreURL       = 40
	scoreTitle     = 30
	scoreRelevance = 30

	minQualityScore = 40
	minURLRatio     = 0.5
)

// Validation is the structural quality verdict for one result set.
type Validation struct {
	Valid         bool    `json:"valid"`
	QualityScore  int     `json:"quality_score"`
	ValidURLRatio float64 `json:"valid_url_ratio"`
	Checked       int     `json:"checked"`
}

// Validate scores hits against the query: mean per-hit score in [0,100]
// from URL validity, title presence, and query-token overlap. The set is
// valid when the mean clears the score bar and at least half the URLs are
// well-formed http(s). An empty set is never valid.
func Validate(hits []backend.SearchHit, query string) Validation {
	if len(hits) == 0 {
		return Validation{}
	}

	tokens := queryTokens(query)
	total, validURLs := 0, 0
	for _, h := range hits {
		score := 0
		if validHTTPURL(h.URL) {
			score += scoreURL
			validURLs++
		}
		if strings.TrimSpace(h.Title) != "" {
			score += scoreTitle
		}
		if relevant(h, tokens) {
			score += scoreRelevance
		}
		total += score
	}

	v := Validation{
		QualityScore:  total / len(hits),
		ValidURLRatio: float64(validURLs) / float64(len(hits)),
		Checked:       len(hits),
	}
	v.Valid = v.QualityScore >= minQualityScore && v.ValidURLRatio >= minURLRatio
	return v
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// relevant reports whether any query token appears in the hit's title,
// snippet, or URL. Substring matching, so CJK tokens work without
// segmentation.
func relevant(h backend.SearchHit, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	haystack := strings.ToLower(h.Title + " " + h.Snippet + " " + h.URL)
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}
