// Package cascade walks the backend registry in priority order until one
// backend yields a non-empty result, recording every attempt along the way.
// Sequential by design: racing backends in parallel would defeat per-backend
// rate limiting and spend quota on providers that would have been skipped.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/relance/retrieve/internal/backend"
	"github.com/hazyhaar/relance/retrieve/internal/backoff"
)

var ErrNoBackends = errors.New("cascade: no backends available")

// AttemptRecord is one backend try within a run.
type AttemptRecord struct {
	Backend  string        `json:"backend"`
	Success  bool          `json:"success"`
	Hits     int           `json:"hits"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Outcome is the structured result of a run. Success is true iff Hits is
// non-empty; exhaustion is reported here, not as a returned error.
type Outcome struct {
	Success  bool
	Query    string
	Backend  string
	Hits     []backend.SearchHit
	Attempts []AttemptRecord
	// FailureSummary names every backend tried and why it missed; set
	// only when Success is false.
	FailureSummary string
}

// Cascade runs the fallback walk over a registry.
type Cascade struct {
	registry *backend.Registry
	logger   *slog.Logger
	fallback bool
}

type Option func(*Cascade)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cascade) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFallback toggles the walk. Disabled means only the top-priority
// backend is attempted and its outcome returned as-is.
func WithFallback(enabled bool) Option {
	return func(c *Cascade) { c.fallback = enabled }
}

func New(registry *backend.Registry, opts ...Option) *Cascade {
	c := &Cascade{
		registry: registry,
		logger:   slog.Default(),
		fallback: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run tries backends in priority order until one returns at least one hit.
// Empty-but-ok responses count as misses and move the walk forward. The
// returned error is reserved for aborts (no backends, configuration,
// cancellation); ordinary exhaustion is Success=false with FailureSummary.
func (c *Cascade) Run(ctx context.Context, query string, maxResults int) (Outcome, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	out := Outcome{Query: query}

	candidates := c.registry.Available()
	if !c.fallback {
		// Fallback off pins the walk to the top-priority backend, even
		// when cooldown would have skipped it.
		candidates = c.registry.ByPriority()
		if len(candidates) > 1 {
			candidates = candidates[:1]
		}
	}
	if len(candidates) == 0 {
		return out, ErrNoBackends
	}

	for _, b := range candidates {
		start := time.Now()
		hits, err := b.Attempt(ctx, query, maxResults)
		rec := AttemptRecord{
			Backend:  b.Name(),
			Hits:     len(hits),
			Duration: time.Since(start),
		}
		if err != nil {
			rec.Err = err.Error()
		}
		rec.Success = err == nil && len(hits) > 0
		out.Attempts = append(out.Attempts, rec)

		if err != nil {
			if backoff.Classify(err).Class == backoff.ClassConfig {
				return out, err
			}
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.WarnContext(ctx, "cascade: backend failed, falling through",
				"backend", b.Name(),
				"class", string(backoff.Classify(err).Class),
				"error", err)
			continue
		}
		if len(hits) == 0 {
			c.logger.InfoContext(ctx, "cascade: empty result, falling through",
				"backend", b.Name(),
				"query", query)
			continue
		}

		out.Success = true
		out.Backend = b.Name()
		out.Hits = hits
		return out, nil
	}

	out.FailureSummary = summarize(out.Attempts)
	c.logger.WarnContext(ctx, "cascade: exhausted",
		"query", query,
		"attempts", len(out.Attempts),
		"summary", out.FailureSummary)
	return out, nil
}

// summarize names every backend tried and its failure reason.
func summarize(attempts []AttemptRecord) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		reason := a.Err
		if reason == "" {
			reason = "no results"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", a.Backend, reason))
	}
	return "all search backends failed: " + strings.Join(parts, "; ")
}
