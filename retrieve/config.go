package retrieve

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/relance/retrieve/internal/ledger"
)

// Config is the normalized configuration surface consumed by the core.
// Durations are millisecond integers, matching the file format; shape is
// resolved once here — nothing downstream branches on config layout.
type Config struct {
	Providers     []ProviderConfig    `yaml:"providers"`
	Fallback      FallbackConfig      `yaml:"fallback"`
	QueryRecovery QueryRecoveryConfig `yaml:"query_recovery"`
	VisitRecovery VisitRecoveryConfig `yaml:"visit_recovery"`
	DualLanguage  DualLanguageConfig  `yaml:"dual_language"`
	Fetch         FetchConfig         `yaml:"fetch"`
	Ledger        ledger.Config       `yaml:"ledger"`
	Cache         CacheConfig         `yaml:"cache"`
}

// ProviderConfig is one search provider entry.
type ProviderConfig struct {
	Name     string          `yaml:"name"` // "duckduckgo", "brave", "searxng"
	Priority int             `yaml:"priority"`
	Enabled  bool            `yaml:"enabled"`
	APIKey   string          `yaml:"api_key,omitempty"`
	Endpoint string          `yaml:"endpoint,omitempty"`
	Options  ProviderOptions `yaml:"options"`
}

// ProviderOptions are the per-provider tunables.
type ProviderOptions struct {
	TimeoutMs   int `yaml:"timeout_ms"`
	MaxRetries  int `yaml:"max_retries"`
	RateLimitMs int `yaml:"rate_limit_ms"`
}

// FallbackConfig tunes the search fallback cascade. MaxRetries is the
// retry budget for providers that do not set their own, RetryDelayMs the
// shared backoff base.
type FallbackConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxRetries   int  `yaml:"max_retries"`
	RetryDelayMs int  `yaml:"retry_delay_ms"`
}

// QueryRecoveryConfig tunes the query recovery cascade.
type QueryRecoveryConfig struct {
	Enabled    bool                `yaml:"enabled"`
	MaxRetries int                 `yaml:"max_retries"` // alternatives tried per strategy
	TimeoutMs  int                 `yaml:"timeout_ms"`  // total recovery budget
	Strategies StrategyToggles     `yaml:"strategies"`
	Synonyms   map[string][]string `yaml:"synonyms,omitempty"`
}

// StrategyToggles enables individual rewrite strategies. Direct-visit is
// the terminal fallback and always active.
type StrategyToggles struct {
	Synonym   bool `yaml:"synonym"`
	Simplify  bool `yaml:"simplify"`
	Translate bool `yaml:"translate"`
}

// VisitRecoveryConfig tunes the visit recovery cascade.
type VisitRecoveryConfig struct {
	Enabled            bool   `yaml:"enabled"`
	MaxRetries         int    `yaml:"max_retries"`
	RetryDelayMs       int    `yaml:"retry_delay_ms"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	EnableWayback      bool   `yaml:"enable_wayback"`
	EnableArchiveToday bool   `yaml:"enable_archive_today"`
	// Endpoint overrides, for self-hosted mirrors and tests.
	WaybackAPI       string `yaml:"wayback_api,omitempty"`
	ArchiveTodayBase string `yaml:"archive_today_base,omitempty"`
}

// DualLanguageConfig enables the concurrent original+translated search.
type DualLanguageConfig struct {
	Enabled bool `yaml:"enabled"`
}

// FetchConfig tunes the single-page fetcher used by visit recovery.
type FetchConfig struct {
	TimeoutMs int    `yaml:"timeout_ms"`
	MaxBytes  int64  `yaml:"max_bytes"`
	UserAgent string `yaml:"user_agent,omitempty"`
}

// CacheConfig configures the result cache consulted before the core.
type CacheConfig struct {
	Path    string `yaml:"path"`
	TTLMs   int64  `yaml:"ttl_ms"`
	MaxRows int    `yaml:"max_rows"`
}

// DefaultConfig returns the fully-enabled production configuration:
// DuckDuckGo as the sole keyless provider, fallback on, every recovery
// strategy active, both archives enabled.
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{Name: "duckduckgo", Priority: 1, Enabled: true},
		},
		Fallback: FallbackConfig{Enabled: true, MaxRetries: 2, RetryDelayMs: 1000},
		QueryRecovery: QueryRecoveryConfig{
			Enabled:    true,
			MaxRetries: 3,
			TimeoutMs:  60000,
			Strategies: StrategyToggles{Synonym: true, Simplify: true, Translate: true},
		},
		VisitRecovery: VisitRecoveryConfig{
			Enabled:            true,
			MaxRetries:         2,
			RetryDelayMs:       1000,
			TimeoutMs:          15000,
			EnableWayback:      true,
			EnableArchiveToday: true,
		},
		Fetch: FetchConfig{TimeoutMs: 30000},
	}
}

// defaults fills numeric floors. Toggle fields keep whatever the merge
// produced.
func (c *Config) defaults() {
	if c.Fallback.MaxRetries <= 0 {
		c.Fallback.MaxRetries = 2
	}
	if c.Fallback.RetryDelayMs <= 0 {
		c.Fallback.RetryDelayMs = 1000
	}
	for i := range c.Providers {
		o := &c.Providers[i].Options
		if o.TimeoutMs <= 0 {
			o.TimeoutMs = 10000
		}
		// Providers without their own budget inherit the cascade-wide one.
		if o.MaxRetries <= 0 {
			o.MaxRetries = c.Fallback.MaxRetries
		}
		if o.RateLimitMs < 0 {
			o.RateLimitMs = 0
		}
		if c.Providers[i].Priority <= 0 {
			c.Providers[i].Priority = i + 1
		}
	}
	if c.QueryRecovery.MaxRetries <= 0 {
		c.QueryRecovery.MaxRetries = 3
	}
	if c.QueryRecovery.TimeoutMs <= 0 {
		c.QueryRecovery.TimeoutMs = 60000
	}
	if c.VisitRecovery.MaxRetries <= 0 {
		c.VisitRecovery.MaxRetries = 2
	}
	if c.VisitRecovery.RetryDelayMs <= 0 {
		c.VisitRecovery.RetryDelayMs = 1000
	}
	if c.VisitRecovery.TimeoutMs <= 0 {
		c.VisitRecovery.TimeoutMs = 15000
	}
	if c.Fetch.TimeoutMs <= 0 {
		c.Fetch.TimeoutMs = 30000
	}
	if c.Cache.TTLMs <= 0 {
		c.Cache.TTLMs = int64((15 * time.Minute) / time.Millisecond)
	}
	if c.Cache.MaxRows <= 0 {
		c.Cache.MaxRows = 1000
	}
}

// LoadConfig reads a YAML config file over the defaults. ${ENV} references
// (API keys, endpoints) expand to environment values; unset variables
// expand to the empty string, which provider constructors reject for
// required secrets.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("retrieve: read config: %w", err)
	}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("retrieve: parse config: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
