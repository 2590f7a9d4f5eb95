package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/relance/idgen"
	"github.com/hazyhaar/relance/retrieve/internal/archive"
	"github.com/hazyhaar/relance/retrieve/internal/backend"
	"github.com/hazyhaar/relance/retrieve/internal/backoff"
	"github.com/hazyhaar/relance/retrieve/internal/cascade"
	"github.com/hazyhaar/relance/retrieve/internal/fetch"
	"github.com/hazyhaar/relance/retrieve/internal/health"
	"github.com/hazyhaar/relance/retrieve/internal/ledger"
	"github.com/hazyhaar/relance/retrieve/internal/recover"
	"github.com/hazyhaar/relance/retrieve/internal/visit"
	"github.com/hazyhaar/relance/websafe"
)

const defaultMaxResults = 10

// Cache stores serialized hit sets keyed by normalized query. Optional:
// a nil cache means every search runs the cascade. The Service treats
// cache errors as misses — a broken cache degrades, never blocks.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, val []byte) error
}

// SearchRequest is one logical search.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// SearchResponse is the full account of one search: where the hits came
// from, what was attempted along the way, and — on exhaustion — why each
// backend missed. Success false is a result, not an error.
type SearchResponse struct {
	Success        bool            `json:"success"`
	Query          string          `json:"query"`
	Backend        string          `json:"backend,omitempty"`
	Hits           []SearchHit     `json:"hits,omitempty"`
	Cached         bool            `json:"cached,omitempty"`
	Attempts       []AttemptRecord `json:"attempts,omitempty"`
	Recovery       *RecoveryResult `json:"recovery,omitempty"`
	FailureSummary string          `json:"failure_summary,omitempty"`
}

// VisitRequest is one page-visit request.
type VisitRequest struct {
	URL string `json:"url"`
}

// Service is the retrieval orchestrator: registry → fallback cascade →
// query recovery for searches, direct retry → archives for visits, with
// every recovery attempt recorded in the ledger.
type Service struct {
	cfg       *Config
	registry  *backend.Registry
	cascade   *cascade.Cascade
	auditor   *health.Auditor
	recoverer *recover.Runner
	visits    *visit.Cascade
	fetcher   *fetch.Fetcher
	ledger    *ledger.Ledger
	cache     Cache

	logger       *slog.Logger
	client       *http.Client
	now          func() time.Time
	newID        idgen.Generator
	urlValidator func(string) error
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock injects the time source. Test hook.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator injects the ledger entry-ID source.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithHTTPClient injects the outbound client shared by backends, archive
// lookups and the page fetcher.
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// WithCache attaches a result cache consulted before the cascade.
func WithCache(c Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithURLValidator overrides pre-fetch URL validation (default:
// websafe.ValidateURL). Tests point it at loopback fixtures.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.urlValidator = fn
		}
	}
}

// New builds a Service from cfg. Every enabled provider must construct
// cleanly (a keyed provider without its key is a config error) and at
// least one must remain, otherwise New fails.
func New(cfg *Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()

	svc := &Service{
		cfg:          cfg,
		logger:       slog.Default(),
		client:       http.DefaultClient,
		now:          time.Now,
		newID:        idgen.Default,
		urlValidator: websafe.ValidateURL,
	}
	for _, opt := range opts {
		opt(svc)
	}

	svc.ledger = ledger.New(cfg.Ledger,
		ledger.WithLogger(svc.logger),
		ledger.WithClock(svc.now),
		ledger.WithIDGenerator(idgen.Prefixed("led_", svc.newID)))

	backends, err := buildBackends(cfg, svc.client, svc.logger)
	if err != nil {
		return nil, err
	}
	if len(backends) == 0 {
		return nil, ErrNoProviders
	}
	svc.registry = backend.NewRegistry(backends...)
	svc.cascade = cascade.New(svc.registry,
		cascade.WithLogger(svc.logger),
		cascade.WithFallback(cfg.Fallback.Enabled))
	svc.auditor = health.New(svc.registry)

	svc.recoverer = recover.New(recover.Config{
		MaxAlternatives: cfg.QueryRecovery.MaxRetries,
		Budget:          ms(cfg.QueryRecovery.TimeoutMs),
		Synonym:         cfg.QueryRecovery.Strategies.Synonym,
		Simplify:        cfg.QueryRecovery.Strategies.Simplify,
		Translate:       cfg.QueryRecovery.Strategies.Translate,
		Synonyms:        cfg.QueryRecovery.Synonyms,
	}, svc.ledger, recover.WithLogger(svc.logger), recover.WithClock(svc.now))

	svc.fetcher = fetch.New(fetch.Config{
		Timeout:      ms(cfg.Fetch.TimeoutMs),
		MaxBytes:     cfg.Fetch.MaxBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		URLValidator: svc.urlValidator,
	})

	var wb *archive.Wayback
	if cfg.VisitRecovery.EnableWayback {
		wb = archive.NewWayback(cfg.VisitRecovery.WaybackAPI, svc.client, svc.logger)
	}
	var at *archive.ArchiveToday
	if cfg.VisitRecovery.EnableArchiveToday {
		at = archive.NewArchiveToday(cfg.VisitRecovery.ArchiveTodayBase, svc.client, svc.logger)
	}
	svc.visits = visit.New(visit.Config{
		Enabled:            cfg.VisitRecovery.Enabled,
		MaxRetries:         cfg.VisitRecovery.MaxRetries,
		RetryDelay:         ms(cfg.VisitRecovery.RetryDelayMs),
		Timeout:            ms(cfg.VisitRecovery.TimeoutMs),
		EnableWayback:      cfg.VisitRecovery.EnableWayback,
		EnableArchiveToday: cfg.VisitRecovery.EnableArchiveToday,
	}, svc.fetcher.Fetch, wb, at, svc.ledger,
		visit.WithLogger(svc.logger), visit.WithClock(svc.now))

	return svc, nil
}

func buildBackends(cfg *Config, client *http.Client, logger *slog.Logger) ([]backend.Backend, error) {
	var out []backend.Backend
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		retry := backoff.Default()
		retry.MaxRetries = p.Options.MaxRetries
		retry.BaseDelay = ms(cfg.Fallback.RetryDelayMs)
		bc := backend.Config{
			Name:     p.Name,
			Priority: p.Priority,
			Enabled:  true,
			APIKey:   p.APIKey,
			Endpoint: p.Endpoint,
			Options: backend.Options{
				Timeout:    ms(p.Options.TimeoutMs),
				MaxRetries: p.Options.MaxRetries,
				RateLimit:  ms(p.Options.RateLimitMs),
			},
			Retry: retry,
		}
		switch strings.ToLower(p.Name) {
		case "duckduckgo", "ddg":
			out = append(out, backend.NewDuckDuckGo(bc, client, logger))
		case "brave":
			b, err := backend.NewBrave(bc, client, logger)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		case "searxng":
			b, err := backend.NewSearxng(bc, client, logger)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p.Name)
		}
	}
	return out, nil
}

// Search runs the full resilience funnel for one query: cache, then the
// fallback cascade (dual-language when enabled and the query translates),
// then query recovery. Exhaustion comes back as Success=false with the
// per-backend failure summary; the error return is reserved for invalid
// input and context cancellation.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	key := s.cacheKey(query, maxResults)
	if hits, ok := s.cacheGet(ctx, key); ok {
		return &SearchResponse{Success: true, Query: query, Hits: hits, Cached: true}, nil
	}

	out, err := s.runCascade(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{
		Success:        out.Success,
		Query:          query,
		Backend:        out.Backend,
		Hits:           out.Hits,
		Attempts:       out.Attempts,
		FailureSummary: out.FailureSummary,
	}
	if out.Success {
		s.cachePut(ctx, key, out.Hits)
		return resp, nil
	}

	if s.cfg.QueryRecovery.Enabled {
		res, err := s.recoverer.Recover(ctx, query, s.searchFunc(maxResults), s.visitFunc())
		if err != nil {
			return nil, err
		}
		resp.Recovery = &res
		if res.Success {
			resp.Success = true
			resp.Hits = res.Hits
			resp.FailureSummary = ""
			s.cachePut(ctx, key, res.Hits)
		}
	}
	return resp, nil
}

// Visit fetches one page through the visit recovery cascade.
func (s *Service) Visit(ctx context.Context, req VisitRequest) (*VisitOutcome, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, ErrEmptyURL
	}
	out, err := s.visits.Recover(ctx, url)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthReport audits every registered backend.
func (s *Service) HealthReport() HealthReport {
	return s.auditor.CheckAll()
}

// ValidateHits scores structural quality of a result set against its query.
func (s *Service) ValidateHits(hits []SearchHit, query string) Validation {
	return health.Validate(hits, query)
}

// RecoveryStats derives success rates per strategy over the given window
// (zero means the whole retained ledger).
func (s *Service) RecoveryStats(window time.Duration) LedgerStats {
	return s.ledger.Stats(window)
}

// LedgerEntries returns the retained recovery attempts, oldest first.
func (s *Service) LedgerEntries() []LedgerEntry {
	return s.ledger.Snapshot()
}

// Strategies lists the active recovery strategies in cascade order.
func (s *Service) Strategies() []string {
	return s.recoverer.Strategies()
}

func (s *Service) runCascade(ctx context.Context, query string, maxResults int) (CascadeOutcome, error) {
	if s.cfg.DualLanguage.Enabled {
		if translated := recover.Translate(query); translated != query {
			return s.cascade.RunDual(ctx, query, translated, maxResults)
		}
	}
	return s.cascade.Run(ctx, query, maxResults)
}

// searchFunc adapts the cascade for the recovery runner: a structural
// miss is empty hits with a nil error, so the ledger records "no results"
// rather than a fake failure.
func (s *Service) searchFunc(maxResults int) recover.SearchFunc {
	return func(ctx context.Context, query string) ([]SearchHit, error) {
		out, err := s.cascade.Run(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}
		return out.Hits, nil
	}
}

// visitFunc routes direct-visit alternatives through the visit cascade
// and wraps the fetched page as a single hit. Nil when visit recovery is
// off, which disables the strategy.
func (s *Service) visitFunc() recover.VisitFunc {
	if !s.cfg.VisitRecovery.Enabled {
		return nil
	}
	return func(ctx context.Context, url string) ([]SearchHit, error) {
		out, err := s.visits.Recover(ctx, url)
		if err != nil {
			return nil, err
		}
		if !out.Success {
			return nil, nil
		}
		return []SearchHit{{
			Title:   out.Title,
			URL:     out.UsedURL,
			Snippet: snippetOf(out.Content),
		}}, nil
	}
}

func (s *Service) cacheKey(query string, maxResults int) string {
	norm := strings.ToLower(strings.Join(strings.Fields(query), " "))
	lang := "q"
	if s.cfg.DualLanguage.Enabled {
		lang = "dual"
	}
	return fmt.Sprintf("%s|%d|%s", lang, maxResults, norm)
}

func (s *Service) cacheGet(ctx context.Context, key string) ([]SearchHit, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "retrieve: cache get failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var hits []SearchHit
	if err := json.Unmarshal(raw, &hits); err != nil || len(hits) == 0 {
		return nil, false
	}
	return hits, true
}

func (s *Service) cachePut(ctx context.Context, key string, hits []SearchHit) {
	if s.cache == nil || len(hits) == 0 {
		return
	}
	raw, err := json.Marshal(hits)
	if err != nil {
		return
	}
	if err := s.cache.Put(ctx, key, raw); err != nil {
		s.logger.WarnContext(ctx, "retrieve: cache put failed", "error", err)
	}
}

func snippetOf(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	const max = 240
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}
