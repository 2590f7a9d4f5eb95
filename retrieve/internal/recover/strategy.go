// Package recover rewrites queries that came back empty and retries them
// through an injected search function. Four fixed strategies run in
// priority order; the first rewrite that yields hits wins.
package recover

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy names, also used as the ledger's strategy discriminator.
const (
	StrategySynonym     = "synonym"
	StrategySimplify    = "simplify"
	StrategyTranslate   = "translate"
	StrategyDirectVisit = "direct_visit"
)

// Strategy priorities. Lower runs first; direct-visit is terminal.
const (
	prioritySynonym     = 1
	prioritySimplify    = 2
	priorityTranslate   = 3
	priorityDirectVisit = 4
)

// Alternative is one rewritten candidate. Direct-visit alternatives carry
// a URL in Query and must be routed to the visit cascade, never to a
// search backend.
type Alternative struct {
	Query         string  `json:"query"`
	Strategy      string  `json:"strategy"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale,omitempty"`
	IsDirectVisit bool    `json:"is_direct_visit,omitempty"`
}

// Strategy is one query-rewriting policy. Applicable is a cheap gate;
// Alternatives returns candidates best-first.
type Strategy interface {
	Name() string
	Priority() int
	Applicable(query string) bool
	Alternatives(query string) []Alternative
}

// --- synonym ---

// synonymStrategy substitutes one token at a time from the bilingual
// dictionary, custom entries first.
type synonymStrategy struct {
	custom map[string][]string
}

func (s *synonymStrategy) Name() string  { return StrategySynonym }
func (s *synonymStrategy) Priority() int { return prioritySynonym }

func (s *synonymStrategy) Applicable(query string) bool {
	for _, tok := range strings.Fields(query) {
		if len(lookupSynonyms(tok, s.custom)) > 0 {
			return true
		}
	}
	return false
}

func (s *synonymStrategy) Alternatives(query string) []Alternative {
	tokens := strings.Fields(query)
	var out []Alternative
	for i, tok := range tokens {
		for _, sub := range lookupSynonyms(tok, s.custom) {
			rewritten := make([]string, len(tokens))
			copy(rewritten, tokens)
			rewritten[i] = sub
			out = append(out, Alternative{
				Query:      strings.Join(rewritten, " "),
				Strategy:   StrategySynonym,
				Confidence: 0.8,
				Rationale:  fmt.Sprintf("replaced %q with %q", tok, sub),
			})
		}
	}
	return out
}

// --- simplify ---

// simplifyStrategy drops year tokens and stop-words, then truncates to the
// top-N remaining tokens. Longer tokens carry more search signal, so
// truncation keeps the longest ones, preserving their original order.
type simplifyStrategy struct {
	maxTokens int
}

func (s *simplifyStrategy) Name() string  { return StrategySimplify }
func (s *simplifyStrategy) Priority() int { return prioritySimplify }

func (s *simplifyStrategy) Applicable(query string) bool {
	tokens := strings.Fields(query)
	if len(tokens) < 2 {
		return false
	}
	if len(tokens) > s.maxTokens {
		return true
	}
	for _, tok := range tokens {
		if isYearToken(tok) || isStopWord(tok) {
			return true
		}
	}
	return false
}

func (s *simplifyStrategy) Alternatives(query string) []Alternative {
	tokens := strings.Fields(query)
	kept := tokens[:0:0]
	for _, tok := range tokens {
		if isYearToken(tok) || isStopWord(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		// Everything was filler; better to keep the query than to emit "".
		return nil
	}

	var out []Alternative
	if len(kept) < len(tokens) {
		out = append(out, simplified(tokens, kept))
	}
	if len(kept) > s.maxTokens {
		out = append(out, simplified(tokens, topTokens(kept, s.maxTokens)))
	}
	return out
}

// simplified builds an Alternative whose confidence scales with how much
// was removed: dropping one filler word barely changes meaning, dropping
// half the query might.
func simplified(original, kept []string) Alternative {
	removed := len(original) - len(kept)
	conf := 0.9 - 0.1*float64(removed)
	if conf < 0.4 {
		conf = 0.4
	}
	return Alternative{
		Query:      strings.Join(kept, " "),
		Strategy:   StrategySimplify,
		Confidence: conf,
		Rationale:  fmt.Sprintf("dropped %d of %d tokens", removed, len(original)),
	}
}

// topTokens keeps the n longest tokens in their original order.
func topTokens(tokens []string, n int) []string {
	if len(tokens) <= n {
		return tokens
	}
	idx := make([]int, len(tokens))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return len(tokens[idx[a]]) > len(tokens[idx[b]])
	})
	keep := make(map[int]bool, n)
	for _, i := range idx[:n] {
		keep[i] = true
	}
	out := make([]string, 0, n)
	for i, tok := range tokens {
		if keep[i] {
			out = append(out, tok)
		}
	}
	return out
}

func isStopWord(tok string) bool {
	if _, ok := stopWords[tok]; ok {
		return true
	}
	_, ok := stopWords[strings.ToLower(tok)]
	return ok
}

// --- translate ---

// translateStrategy substitutes known ja phrases with their en equivalents
// across the whole string, longest phrase first. Only fires on queries
// that actually contain non-ASCII script.
type translateStrategy struct{}

func (translateStrategy) Name() string  { return StrategyTranslate }
func (translateStrategy) Priority() int { return priorityTranslate }

func (translateStrategy) Applicable(query string) bool {
	return hasNonASCII(query) && Translate(query) != query
}

func (translateStrategy) Alternatives(query string) []Alternative {
	translated := Translate(query)
	if translated == query {
		return nil
	}
	return []Alternative{{
		Query:      translated,
		Strategy:   StrategyTranslate,
		Confidence: 0.6,
		Rationale:  "ja→en phrase substitution",
	}}
}

// Translate applies the ja→en phrase table to s, longest phrase first, and
// collapses the whitespace left behind. Exported for the dual-language
// search path, which needs the translated form without running a recovery.
func Translate(s string) string {
	out := s
	for _, p := range jaEnPhrases {
		out = strings.ReplaceAll(out, p.JA, " "+p.EN+" ")
	}
	return strings.Join(strings.Fields(out), " ")
}

// --- direct visit ---

// directVisitStrategy matches the query against the topic map and hands
// back reference URLs instead of rewrites. Terminal: when search rewrites
// failed, going straight to a known-good page is the last resort.
type directVisitStrategy struct{}

func (directVisitStrategy) Name() string  { return StrategyDirectVisit }
func (directVisitStrategy) Priority() int { return priorityDirectVisit }

func (directVisitStrategy) Applicable(query string) bool {
	q := strings.ToLower(query)
	for _, site := range topicSites {
		for _, kw := range site.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func (directVisitStrategy) Alternatives(query string) []Alternative {
	q := strings.ToLower(query)
	var out []Alternative
	for _, site := range topicSites {
		matched := false
		for _, kw := range site.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for i, u := range site.URLs {
			out = append(out, Alternative{
				Query:         u,
				Strategy:      StrategyDirectVisit,
				Confidence:    0.9 - 0.1*float64(i),
				Rationale:     "topic match: " + site.Topic,
				IsDirectVisit: true,
			})
		}
	}
	return out
}
