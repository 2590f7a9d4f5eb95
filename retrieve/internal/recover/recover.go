package recover

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/relance/retrieve/internal/backend"
	"github.com/hazyhaar/relance/retrieve/internal/ledger"
)

// SearchFunc runs one search for a rewritten query. Injected: the runner
// never talks to backends directly, it replays the caller's own cascade.
type SearchFunc func(ctx context.Context, query string) ([]backend.SearchHit, error)

// VisitFunc resolves a direct-visit alternative into hits, typically by
// routing the URL through the visit cascade and wrapping the fetched page.
// Nil disables the direct-visit strategy.
type VisitFunc func(ctx context.Context, url string) ([]backend.SearchHit, error)

// Config tunes the runner. Whether recovery runs at all is the caller's
// decision; a constructed runner always executes its strategy set.
type Config struct {
	// MaxAlternatives caps how many candidates of each strategy are tried.
	MaxAlternatives int `yaml:"max_alternatives"`
	// Budget bounds total recovery wall-clock time. On expiry remaining
	// strategies are not scheduled; an in-flight attempt finishes.
	Budget time.Duration `yaml:"budget"`

	Synonym   bool `yaml:"synonym"`
	Simplify  bool `yaml:"simplify"`
	Translate bool `yaml:"translate"`

	// Synonyms extends the built-in dictionary.
	Synonyms map[string][]string `yaml:"synonyms"`
	// SimplifyMaxTokens is the truncation target for the simplify strategy.
	SimplifyMaxTokens int `yaml:"simplify_max_tokens"`
}

func (c *Config) defaults() {
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = 3
	}
	if c.Budget <= 0 {
		c.Budget = 60 * time.Second
	}
	if c.SimplifyMaxTokens <= 0 {
		c.SimplifyMaxTokens = 3
	}
}

// Result reports one recovery run.
type Result struct {
	Success    bool                `json:"success"`
	Query      string              `json:"query"`
	Winner     *Alternative        `json:"winner,omitempty"`
	Hits       []backend.SearchHit `json:"hits,omitempty"`
	Attempts   int                 `json:"attempts"`
	Strategies int                 `json:"strategies_tried"`
	Elapsed    time.Duration       `json:"elapsed"`
}

// Runner owns the ordered strategy set.
type Runner struct {
	cfg        Config
	strategies []Strategy
	ledger     *ledger.Ledger
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds the runner. The strategy set is fixed at construction: the
// enabled rewrites in priority order, then direct-visit as the terminal
// fallback.
func New(cfg Config, led *ledger.Ledger, opts ...Option) *Runner {
	cfg.defaults()
	r := &Runner{
		cfg:    cfg,
		ledger: led,
		logger: slog.Default(),
		now:    time.Now,
	}
	if cfg.Synonym {
		r.strategies = append(r.strategies, &synonymStrategy{custom: cfg.Synonyms})
	}
	if cfg.Simplify {
		r.strategies = append(r.strategies, &simplifyStrategy{maxTokens: cfg.SimplifyMaxTokens})
	}
	if cfg.Translate {
		r.strategies = append(r.strategies, translateStrategy{})
	}
	r.strategies = append(r.strategies, directVisitStrategy{})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategies returns the active strategy names in execution order.
func (r *Runner) Strategies() []string {
	out := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		out[i] = s.Name()
	}
	return out
}

// Recover rewrites query through the strategy set and tries each
// alternative via search (or visit, for direct-visit candidates) until one
// yields hits. Every attempt lands in the ledger before the next starts.
// Exhaustion is Success=false; the error return is reserved for
// cancellation.
func (r *Runner) Recover(ctx context.Context, query string, search SearchFunc, visit VisitFunc) (Result, error) {
	start := r.now()
	deadline := start.Add(r.cfg.Budget)
	res := Result{Query: query}

	for _, st := range r.strategies {
		if !r.now().Before(deadline) {
			r.logger.WarnContext(ctx, "recover: budget exhausted, skipping remaining strategies",
				"query", query, "strategy", st.Name(), "budget_ms", r.cfg.Budget.Milliseconds())
			break
		}
		if !st.Applicable(query) {
			continue
		}
		res.Strategies++

		alts := st.Alternatives(query)
		if len(alts) > r.cfg.MaxAlternatives {
			alts = alts[:r.cfg.MaxAlternatives]
		}
		r.logger.InfoContext(ctx, "recover: trying strategy",
			"query", query, "strategy", st.Name(), "alternatives", len(alts))

		for _, alt := range alts {
			if !r.now().Before(deadline) {
				r.logger.WarnContext(ctx, "recover: budget exhausted mid-strategy",
					"query", query, "strategy", st.Name())
				res.Elapsed = r.now().Sub(start)
				return res, nil
			}

			began := r.now()
			var hits []backend.SearchHit
			var err error
			if alt.IsDirectVisit {
				if visit == nil {
					continue
				}
				hits, err = visit(ctx, alt.Query)
			} else {
				hits, err = search(ctx, alt.Query)
			}
			dur := r.now().Sub(began)

			res.Attempts++
			win := err == nil && len(hits) > 0
			r.logAttempt(query, alt, win, dur, err)

			if win {
				res.Success = true
				res.Winner = &alt
				res.Hits = hits
				res.Elapsed = r.now().Sub(start)
				r.logger.InfoContext(ctx, "recover: succeeded",
					"query", query, "strategy", alt.Strategy, "alternative", alt.Query,
					"hits", len(hits), "attempts", res.Attempts)
				return res, nil
			}
			if ctx.Err() != nil {
				res.Elapsed = r.now().Sub(start)
				return res, ctx.Err()
			}
		}
	}

	res.Elapsed = r.now().Sub(start)
	r.logger.WarnContext(ctx, "recover: exhausted",
		"query", query, "strategies", res.Strategies, "attempts", res.Attempts)
	return res, nil
}

func (r *Runner) logAttempt(query string, alt Alternative, success bool, dur time.Duration, err error) {
	if r.ledger == nil {
		return
	}
	e := ledger.Entry{
		Kind:        ledger.KindSearch,
		Query:       query,
		Alternative: alt.Query,
		Strategy:    alt.Strategy,
		Success:     success,
		Duration:    dur,
	}
	if err != nil {
		e.Err = err.Error()
	} else if !success {
		e.Err = "no results"
	}
	r.ledger.Log(e)
}
