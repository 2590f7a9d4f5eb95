// Package ledger is the bounded, append-only attempt log behind recovery
// statistics and failure-frequency alerting. Every recovery attempt lands
// here; the ledger decides when repeated failures deserve a diagnostic.
package ledger

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/relance/idgen"
)

// Kind discriminates search-query entries from page-visit entries.
type Kind string

const (
	KindSearch Kind = "search"
	KindVisit  Kind = "visit"
)

// Entry is one recovery attempt.
type Entry struct {
	ID          string        `json:"id"`
	At          time.Time     `json:"at"`
	Kind        Kind          `json:"kind"`
	Query       string        `json:"query"` // query text or URL
	Alternative string        `json:"alternative,omitempty"`
	Strategy    string        `json:"strategy,omitempty"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	Err         string        `json:"error,omitempty"`
}

const (
	DefaultMaxEntries    = 500
	DefaultWarnThreshold = 3
	DefaultStatsInterval = 10
)

// Config bounds the buffer and tunes the diagnostics cadence.
type Config struct {
	MaxEntries    int `yaml:"max_entries"`
	WarnThreshold int `yaml:"warn_threshold"`
	StatsInterval int `yaml:"stats_interval"`
}

func (c *Config) defaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = DefaultWarnThreshold
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
}

// Ledger is safe for concurrent use; the dual-language path logs from two
// goroutines.
type Ledger struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	entries  []Entry // ring once full; head is the oldest slot
	head     int
	calls    int
	total    int
	wins     int
	failures map[string]int
	warned   map[string]bool
}

type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(g *Ledger) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Ledger) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDGenerator injects the entry-ID source.
func WithIDGenerator(gen func() string) Option {
	return func(g *Ledger) {
		if gen != nil {
			g.newID = gen
		}
	}
}

func New(cfg Config, opts ...Option) *Ledger {
	cfg.defaults()
	g := &Ledger{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    idgen.Prefixed("led_", idgen.UUIDv7()),
		failures: make(map[string]int),
		warned:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Log records one attempt. Failures bump the per-query counter; the first
// time a counter reaches the warn threshold, exactly one diagnostic is
// emitted for that query. Every StatsInterval calls a rolling summary goes
// to the log.
func (g *Ledger) Log(e Entry) {
	g.mu.Lock()

	if e.At.IsZero() {
		e.At = g.now()
	}
	if e.ID == "" {
		e.ID = g.newID()
	}

	if len(g.entries) < g.cfg.MaxEntries {
		g.entries = append(g.entries, e)
	} else {
		g.entries[g.head] = e
		g.head = (g.head + 1) % g.cfg.MaxEntries
	}

	g.calls++
	g.total++
	if e.Success {
		g.wins++
	}

	var warnQuery string
	var warnCount int
	if !e.Success {
		key := string(e.Kind) + "|" + e.Query
		g.failures[key]++
		if g.failures[key] >= g.cfg.WarnThreshold && !g.warned[key] {
			g.warned[key] = true
			warnQuery = e.Query
			warnCount = g.failures[key]
		}
	}

	var summary *Stats
	if g.calls%g.cfg.StatsInterval == 0 {
		s := g.statsLocked(0)
		summary = &s
	}
	g.mu.Unlock()

	// Logging happens outside the lock; handlers can be slow.
	if warnQuery != "" {
		g.logger.Warn("ledger: repeated failures for query",
			"kind", string(e.Kind),
			"query", warnQuery,
			"failures", warnCount,
			"threshold", g.cfg.WarnThreshold)
	}
	if summary != nil {
		g.logger.Info("ledger: rolling summary",
			"entries", summary.Total,
			"success_rate", summary.SuccessRate,
			"mean_duration_ms", summary.MeanDuration.Milliseconds(),
			"flagged_queries", len(summary.Flagged))
	}
}

// Snapshot returns the buffered entries oldest-first.
func (g *Ledger) Snapshot() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Entry, 0, len(g.entries))
	out = append(out, g.entries[g.head:]...)
	out = append(out, g.entries[:g.head]...)
	return out
}

// Len reports the number of buffered entries.
func (g *Ledger) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// StrategyStats aggregates one strategy's attempts within a window.
type StrategyStats struct {
	Attempts     int           `json:"attempts"`
	Successes    int           `json:"successes"`
	SuccessRate  float64       `json:"success_rate"`
	MeanDuration time.Duration `json:"mean_duration"`
}

// FlaggedQuery is a query whose failure count reached the warn threshold.
type FlaggedQuery struct {
	Query    string `json:"query"`
	Failures int    `json:"failures"`
}

// Stats is the derived view over the buffer.
type Stats struct {
	Total        int                      `json:"total"`
	Successes    int                      `json:"successes"`
	SuccessRate  float64                  `json:"success_rate"`
	MeanDuration time.Duration            `json:"mean_duration"`
	ByStrategy   map[string]StrategyStats `json:"by_strategy"`
	Flagged      []FlaggedQuery           `json:"flagged"`
}

// Stats computes totals over buffered entries no older than window
// (window <= 0 means everything buffered). Flagged queries come from the
// lifetime failure counters, not the window: a query that failed its way
// past the threshold stays flagged even after its entries rotate out.
func (g *Ledger) Stats(window time.Duration) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statsLocked(window)
}

func (g *Ledger) statsLocked(window time.Duration) Stats {
	var cutoff time.Time
	if window > 0 {
		cutoff = g.now().Add(-window)
	}

	s := Stats{ByStrategy: make(map[string]StrategyStats)}
	var totalDur time.Duration
	strategyDur := make(map[string]time.Duration)
	for _, e := range g.entries {
		if !cutoff.IsZero() && e.At.Before(cutoff) {
			continue
		}
		s.Total++
		totalDur += e.Duration
		if e.Success {
			s.Successes++
		}
		if e.Strategy != "" {
			ss := s.ByStrategy[e.Strategy]
			ss.Attempts++
			if e.Success {
				ss.Successes++
			}
			s.ByStrategy[e.Strategy] = ss
			strategyDur[e.Strategy] += e.Duration
		}
	}

	if s.Total > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Total)
		s.MeanDuration = totalDur / time.Duration(s.Total)
	}
	for name, ss := range s.ByStrategy {
		ss.SuccessRate = float64(ss.Successes) / float64(ss.Attempts)
		ss.MeanDuration = strategyDur[name] / time.Duration(ss.Attempts)
		s.ByStrategy[name] = ss
	}

	for key, count := range g.failures {
		if count >= g.cfg.WarnThreshold {
			query := key
			if i := strings.IndexByte(key, '|'); i >= 0 {
				query = key[i+1:]
			}
			s.Flagged = append(s.Flagged, FlaggedQuery{Query: query, Failures: count})
		}
	}
	sort.Slice(s.Flagged, func(i, j int) bool {
		if s.Flagged[i].Failures != s.Flagged[j].Failures {
			return s.Flagged[i].Failures > s.Flagged[j].Failures
		}
		return s.Flagged[i].Query < s.Flagged[j].Query
	})
	return s
}
