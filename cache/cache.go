// Package cache is a SQLite-backed result cache for search responses.
//
// Keys are normalized queries, values opaque JSON blobs. Entries expire by
// TTL and the table is capped by row count, oldest first. The cache is an
// accelerator only: callers must treat every error as a miss.
package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/relance/dbopen"
)

// Schema is applied on open. created_at is unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS search_cache (
    key        TEXT PRIMARY KEY,
    val        BLOB NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_cache_age ON search_cache(created_at);
`

// Config tunes retention.
type Config struct {
	TTL     time.Duration // entry lifetime. Default: 15m.
	MaxRows int           // table cap, oldest evicted first. Default: 1000.
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = 15 * time.Minute
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 1000
	}
}

// Store is the cache over one SQLite database.
type Store struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

type Option func(*Store)

// WithClock injects the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an already-opened database. The caller owns the connection;
// apply Schema when opening (Open does).
func New(db *sql.DB, cfg Config, opts ...Option) *Store {
	cfg.defaults()
	s := &Store{db: db, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (creating as needed) the cache database at path and returns
// a ready Store. Closing the Store closes the database.
func Open(path string, cfg Config, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return New(db, cfg, opts...), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key if present and unexpired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cutoff := s.now().Add(-s.cfg.TTL).UnixMilli()
	var val []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT val FROM search_cache WHERE key = ? AND created_at >= ?`,
		key, cutoff).Scan(&val)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return val, true, nil
}

// Put upserts key, refreshing its age, then prunes expired and excess rows.
func (s *Store) Put(ctx context.Context, key string, val []byte) error {
	now := s.now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO search_cache (key, val, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET val = excluded.val, created_at = excluded.created_at`,
		key, val, now)
	if err != nil {
		return err
	}
	return s.Prune(ctx)
}

// Prune drops expired entries, then the oldest rows beyond MaxRows.
func (s *Store) Prune(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.TTL).UnixMilli()
	if _, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM search_cache WHERE created_at < ?`, cutoff); err != nil {
		return err
	}
	_, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM search_cache WHERE key IN (
			SELECT key FROM search_cache ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRows)
	return err
}

// Len counts live (unexpired) entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.TTL).UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_cache WHERE created_at >= ?`, cutoff).Scan(&n)
	return n, err
}
