package cascade

import (
	"context"

	"github.com/hazyhaar/relance/retrieve/internal/backend"
	"github.com/hazyhaar/relance/retrieve/internal/backoff"
	"github.com/hazyhaar/relance/retrieve/internal/urlnorm"
)

// RunDual searches the original and translated query concurrently and
// merges the results, deduplicating by canonical URL. Either side failing
// degrades to an empty contribution rather than failing the pair. Each
// side runs the ordinary sequential walk; per-backend pacing serializes
// their requests to any one provider.
func (c *Cascade) RunDual(ctx context.Context, query, translated string, maxResults int) (Outcome, error) {
	if translated == "" || translated == query {
		return c.Run(ctx, query, maxResults)
	}

	type side struct {
		out Outcome
		err error
	}
	primary := make(chan side, 1)
	secondary := make(chan side, 1)
	go func() {
		out, err := c.Run(ctx, query, maxResults)
		primary <- side{out, err}
	}()
	go func() {
		out, err := c.Run(ctx, translated, maxResults)
		secondary <- side{out, err}
	}()
	pr, tr := <-primary, <-secondary

	// Configuration problems and cancellation abort even here.
	for _, s := range []side{pr, tr} {
		if s.err != nil && backoff.Classify(s.err).Class == backoff.ClassConfig {
			return s.out, s.err
		}
	}
	if ctx.Err() != nil {
		return Outcome{Query: query}, ctx.Err()
	}

	merged := Outcome{
		Query:    query,
		Attempts: append(pr.out.Attempts, tr.out.Attempts...),
	}

	seen := make(map[string]struct{}, len(pr.out.Hits)+len(tr.out.Hits))
	var hits []backend.SearchHit
	for _, h := range append(pr.out.Hits, tr.out.Hits...) {
		key := urlnorm.Key(h.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		hits = append(hits, h)
	}

	if len(hits) > 0 {
		merged.Success = true
		merged.Hits = hits
		merged.Backend = pr.out.Backend
		if merged.Backend == "" {
			merged.Backend = tr.out.Backend
		}
		return merged, nil
	}

	if len(merged.Attempts) == 0 {
		// Both sides aborted before recording any attempt.
		return merged, ErrNoBackends
	}
	merged.FailureSummary = summarize(merged.Attempts)
	return merged, nil
}
