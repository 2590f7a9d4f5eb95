// Package backoff is the pure retry policy shared by every network-touching
// component: delay computation from the attempt number and the decision of
// whether a failure is worth retrying at all.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Config parameterizes the policy. The zero value is unusable; call
// (*Config).defaults or start from Default().
type Config struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	// Jitter is the symmetric random fraction applied to the computed
	// delay, e.g. 0.2 means ±20%.
	Jitter     float64 `yaml:"jitter"`
	MaxRetries int     `yaml:"max_retries"`
	// RetryableStatuses overrides the default retryable HTTP status set.
	RetryableStatuses []int `yaml:"retryable_statuses"`
}

// Default returns the production policy: 1s base, 30s cap, doubling,
// ±20% jitter, 3 retries.
func Default() Config {
	c := Config{}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if len(c.RetryableStatuses) == 0 {
		c.RetryableStatuses = []int{408, 429, 500, 502, 503, 504}
	}
}

// Delay computes the wait before retry number attempt (0-indexed):
// min(base·multiplier^attempt, cap), then ±jitter.
func Delay(attempt int, cfg Config) time.Duration {
	cfg.defaults()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// ShouldRetry reports whether another attempt is allowed after a failure
// classified as r. False once attempt reaches MaxRetries and for failure
// classes where retrying cannot help.
func ShouldRetry(attempt int, r Reason, cfg Config) bool {
	cfg.defaults()
	if attempt >= cfg.MaxRetries {
		return false
	}
	return Retryable(r, cfg)
}

// Retryable reports whether a failure of this kind is ever worth retrying,
// independent of the attempt budget.
func Retryable(r Reason, cfg Config) bool {
	cfg.defaults()
	if r.Status > 0 {
		for _, s := range cfg.RetryableStatuses {
			if r.Status == s {
				return true
			}
		}
		// A status outside the retryable set is a hard verdict even when
		// the class looks transient.
		return false
	}
	switch r.Class {
	case ClassNetwork, ClassRateLimit, ClassServer:
		return true
	default:
		// DNS, parse, client, config, canceled, unknown.
		return false
	}
}

// Wait sleeps for d or until ctx is done, returning ctx.Err() in that case.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
