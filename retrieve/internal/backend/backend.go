// Package backend implements the retrieval backend contract: independent
// search adapters (DuckDuckGo, Brave, SearXNG) with self-tracked health,
// per-backend rate pacing, and policy-driven internal retries.
package backend

import (
	"context"
	stdhtml "html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/relance/retrieve/internal/backoff"
)

// SearchHit is one structural search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Health is a point-in-time view of one backend's counters.
type Health struct {
	Available   bool    `json:"available"`
	SuccessRate float64 `json:"success_rate"`
	LastError   string  `json:"last_error,omitempty"`
}

// Backend is the uniform attempt-once contract. Attempt performs its own
// internal retries for rate-limit and server failures; one Attempt call is
// one outer attempt from the cascade's point of view.
type Backend interface {
	Name() string
	Priority() int
	Attempt(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
	Available() bool
	Health() Health
}

// Options are the per-provider tunables.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	// RateLimit is the minimum interval between outbound requests to this
	// backend, internal retries included.
	RateLimit time.Duration
}

// Config is one normalized provider entry.
type Config struct {
	Name     string
	Priority int
	Enabled  bool
	APIKey   string
	Endpoint string
	Options  Options
	Retry    backoff.Config
}

const (
	failsBeforeCooldown = 3
	cooldownPeriod      = 30 * time.Second
)

// sanitizer strips markup from scraped or API-provided text before it
// enters a SearchHit. Brave descriptions in particular carry inline HTML.
var sanitizer = bluemonday.StrictPolicy()

func cleanText(s string) string {
	return strings.TrimSpace(stdhtml.UnescapeString(sanitizer.Sanitize(s)))
}

// core carries the state shared by every adapter: identity, health
// counters, the pacing gate, and the retry loop around one-shot calls.
type core struct {
	name     string
	priority int

	client *http.Client
	logger *slog.Logger
	opts   Options
	retry  backoff.Config

	mu          sync.Mutex
	attempts    int64
	successes   int64
	consecFails int
	lastError   string
	nextRequest time.Time
	coolUntil   time.Time
	now         func() time.Time
}

func newCore(cfg Config, client *http.Client, logger *slog.Logger) core {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if cfg.Options.MaxRetries > 0 {
		retry.MaxRetries = cfg.Options.MaxRetries
	}
	return core{
		name:     cfg.Name,
		priority: cfg.Priority,
		client:   client,
		logger:   logger,
		opts:     cfg.Options,
		retry:    retry,
		now:      time.Now,
	}
}

func (c *core) Name() string  { return c.name }
func (c *core) Priority() int { return c.priority }

// Available is cheap: no probe, just the cooldown gate set after repeated
// consecutive failures.
func (c *core) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.coolUntil)
}

func (c *core) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	rate := 1.0
	if c.attempts > 0 {
		rate = float64(c.successes) / float64(c.attempts)
	}
	return Health{
		Available:   !c.now().Before(c.coolUntil),
		SuccessRate: rate,
		LastError:   c.lastError,
	}
}

// Reset zeroes the health counters. Test hook; production counters only
// reset with the process.
func (c *core) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.successes = 0
	c.consecFails = 0
	c.lastError = ""
	c.nextRequest = time.Time{}
	c.coolUntil = time.Time{}
}

// pace reserves the next outbound slot and blocks until it opens.
func (c *core) pace(ctx context.Context) error {
	if c.opts.RateLimit <= 0 {
		return ctx.Err()
	}
	c.mu.Lock()
	now := c.now()
	wait := c.nextRequest.Sub(now)
	if wait < 0 {
		wait = 0
	}
	c.nextRequest = now.Add(wait + c.opts.RateLimit)
	c.mu.Unlock()
	return backoff.Wait(ctx, wait)
}

// run executes one outer attempt: each inner call is paced and
// deadline-bound, failures are classified and retried per policy, and the
// health counters record the outer result exactly once.
func (c *core) run(ctx context.Context, fn func(context.Context) ([]SearchHit, error)) ([]SearchHit, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.pace(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if c.opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		}
		hits, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			// An empty result set is still a working transport.
			c.recordSuccess()
			return hits, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		reason := backoff.Classify(err)
		if !backoff.ShouldRetry(attempt, reason, c.retry) {
			break
		}
		wait := backoff.Delay(attempt, c.retry)
		c.logger.WarnContext(ctx, "backend: retrying",
			"backend", c.name,
			"attempt", attempt+1,
			"class", string(reason.Class),
			"backoff_ms", wait.Milliseconds(),
			"error", err)
		if err := backoff.Wait(ctx, wait); err != nil {
			break
		}
	}
	c.recordFailure(lastErr)
	return nil, lastErr
}

func (c *core) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	c.successes++
	c.consecFails = 0
	c.coolUntil = time.Time{}
}

func (c *core) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	c.consecFails++
	if err != nil {
		c.lastError = err.Error()
	}
	if c.consecFails >= failsBeforeCooldown {
		c.coolUntil = c.now().Add(cooldownPeriod)
	}
}
