// Package visit recovers single-page fetches: retry the live URL, then
// fall back to archived copies. Strictly sequential; racing an archive
// against the live site would fetch pages nobody ends up using.
package visit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/relance/retrieve/internal/archive"
	"github.com/hazyhaar/relance/retrieve/internal/backoff"
	"github.com/hazyhaar/relance/retrieve/internal/fetch"
	"github.com/hazyhaar/relance/retrieve/internal/ledger"
)

// Path names the route that produced the content.
type Path string

const (
	PathDirect       Path = "direct"
	PathWayback      Path = "wayback"
	PathArchiveToday Path = "archive-today"
)

// FetchFunc fetches one page. Injected so the cascade never owns
// transport concerns.
type FetchFunc func(ctx context.Context, url string) (*fetch.Page, error)

type waybackFinder interface {
	Closest(ctx context.Context, url string) (*archive.Snapshot, error)
}

type newestFinder interface {
	Newest(ctx context.Context, url string) (*archive.Snapshot, error)
}

// Attempt is one try along the cascade.
type Attempt struct {
	Path     Path          `json:"path"`
	URL      string        `json:"url"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Outcome reports what was tried and what, if anything, worked. Success
// is true iff Content is non-empty.
type Outcome struct {
	Success     bool
	OriginalURL string
	UsedURL     string
	Title       string
	Content     string
	Path        Path
	Snapshot    *archive.Snapshot
	Attempts    []Attempt
	Elapsed     time.Duration
}

// Config tunes the cascade.
type Config struct {
	Enabled            bool          `yaml:"enabled"`
	MaxRetries         int           `yaml:"max_retries"`     // direct retries beyond the first try
	RetryDelay         time.Duration `yaml:"retry_delay"`     // fixed wait between direct tries
	Timeout            time.Duration `yaml:"timeout"`         // per network call
	EnableWayback      bool          `yaml:"enable_wayback"`
	EnableArchiveToday bool          `yaml:"enable_archive_today"`
}

func (c *Config) defaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

// Cascade is the visit recoverer.
type Cascade struct {
	cfg     Config
	fetch   FetchFunc
	wayback waybackFinder
	newest  newestFinder
	ledger  *ledger.Ledger
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Cascade)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cascade) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cascade) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds the cascade. wayback and newest may be nil when the matching
// config flag is off.
func New(cfg Config, fetchFn FetchFunc, wayback *archive.Wayback, newest *archive.ArchiveToday, led *ledger.Ledger, opts ...Option) *Cascade {
	cfg.defaults()
	c := &Cascade{
		cfg:    cfg,
		fetch:  fetchFn,
		ledger: led,
		logger: slog.Default(),
		now:    time.Now,
	}
	// Typed nils must not sneak into the interface fields.
	if wayback != nil {
		c.wayback = wayback
	}
	if newest != nil {
		c.newest = newest
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recover fetches url, falling back to archives per config. Exhaustion is
// Success=false with the attempt trail; the error return is reserved for
// cancellation.
func (c *Cascade) Recover(ctx context.Context, url string) (Outcome, error) {
	start := c.now()
	out := Outcome{OriginalURL: url}

	direct := 1
	if c.cfg.Enabled {
		direct = c.cfg.MaxRetries + 1
	}

	for i := 0; i < direct; i++ {
		if i > 0 {
			if err := backoff.Wait(ctx, c.cfg.RetryDelay); err != nil {
				out.Elapsed = c.now().Sub(start)
				return out, err
			}
		}
		if c.tryPage(ctx, &out, PathDirect, url, nil) {
			out.Elapsed = c.now().Sub(start)
			return out, nil
		}
		if ctx.Err() != nil {
			out.Elapsed = c.now().Sub(start)
			return out, ctx.Err()
		}
	}

	if c.cfg.Enabled && c.cfg.EnableWayback && c.wayback != nil {
		if c.tryArchive(ctx, &out, PathWayback, url) {
			out.Elapsed = c.now().Sub(start)
			return out, nil
		}
		if ctx.Err() != nil {
			out.Elapsed = c.now().Sub(start)
			return out, ctx.Err()
		}
	}

	if c.cfg.Enabled && c.cfg.EnableArchiveToday && c.newest != nil {
		if c.tryArchive(ctx, &out, PathArchiveToday, url) {
			out.Elapsed = c.now().Sub(start)
			return out, nil
		}
	}

	out.Elapsed = c.now().Sub(start)
	c.logger.WarnContext(ctx, "visit: exhausted",
		"url", url,
		"attempts", len(out.Attempts))
	return out, ctx.Err()
}

// tryPage attempts one fetch of target and folds the result into out.
// Reports whether the cascade is done.
func (c *Cascade) tryPage(ctx context.Context, out *Outcome, path Path, target string, snap *archive.Snapshot) bool {
	began := c.now()
	page, err := c.fetchOne(ctx, target)

	att := Attempt{Path: path, URL: target, Duration: c.now().Sub(began)}
	switch {
	case err != nil:
		att.Err = err.Error()
	case page.Content == "":
		att.Err = "empty content"
	default:
		att.Success = true
	}
	out.Attempts = append(out.Attempts, att)
	c.logAttempt(att, out.OriginalURL)

	if !att.Success {
		if err != nil {
			c.logger.WarnContext(ctx, "visit: fetch failed",
				"path", string(path), "url", target, "error", err)
		}
		return false
	}

	out.Success = true
	out.UsedURL = target
	out.Title = page.Title
	out.Content = page.Content
	out.Path = path
	out.Snapshot = snap
	return true
}

// tryArchive looks up a snapshot for url on the given path and, when one
// exists, fetches it.
func (c *Cascade) tryArchive(ctx context.Context, out *Outcome, path Path, url string) bool {
	began := c.now()
	var snap *archive.Snapshot
	var err error
	switch path {
	case PathWayback:
		snap, err = c.lookupWayback(ctx, url)
	default:
		snap, err = c.lookupNewest(ctx, url)
	}
	if err != nil {
		att := Attempt{Path: path, URL: url, Duration: c.now().Sub(began), Err: err.Error()}
		out.Attempts = append(out.Attempts, att)
		c.logAttempt(att, out.OriginalURL)
		c.logger.InfoContext(ctx, "visit: no archive snapshot",
			"path", string(path), "url", url, "reason", err)
		return false
	}

	c.logger.InfoContext(ctx, "visit: snapshot found",
		"path", string(path), "url", url, "snapshot", snap.URL, "timestamp", snap.Timestamp)
	return c.tryPage(ctx, out, path, snap.URL, snap)
}

func (c *Cascade) lookupWayback(ctx context.Context, url string) (*archive.Snapshot, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.wayback.Closest(ctx, url)
}

func (c *Cascade) lookupNewest(ctx context.Context, url string) (*archive.Snapshot, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.newest.Newest(ctx, url)
}

func (c *Cascade) fetchOne(ctx context.Context, url string) (*fetch.Page, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.fetch(ctx, url)
}

func (c *Cascade) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return ctx, func() {}
}

func (c *Cascade) logAttempt(att Attempt, original string) {
	if c.ledger == nil {
		return
	}
	alt := ""
	if att.Path != PathDirect {
		alt = att.URL
	}
	c.ledger.Log(ledger.Entry{
		Kind:        ledger.KindVisit,
		Query:       original,
		Alternative: alt,
		Strategy:    string(att.Path),
		Success:     att.Success,
		Duration:    att.Duration,
		Err:         att.Err,
	})
}
