package visit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/relance/retrieve/internal/archive"
	"github.com/hazyhaar/relance/retrieve/internal/backoff"
	"github.com/hazyhaar/relance/retrieve/internal/fetch"
	"github.com/hazyhaar/relance/retrieve/internal/ledger"
)

// scriptedFetch fails the first n calls per URL, then serves the page.
type scriptedFetch struct {
	failFirst map[string]int
	pages     map[string]*fetch.Page
	calls     []string
}

func (s *scriptedFetch) fetch(_ context.Context, url string) (*fetch.Page, error) {
	s.calls = append(s.calls, url)
	if n := s.failFirst[url]; n > 0 {
		s.failFirst[url] = n - 1
		return nil, backoff.NewStatusError(404, "fetch: "+url)
	}
	if p, ok := s.pages[url]; ok {
		return p, nil
	}
	return nil, backoff.NewStatusError(404, "fetch: "+url)
}

func (s *scriptedFetch) callsTo(url string) int {
	n := 0
	for _, c := range s.calls {
		if c == url {
			n++
		}
	}
	return n
}

type fakeWayback struct {
	snap *archive.Snapshot
	err  error
}

func (f *fakeWayback) Closest(_ context.Context, _ string) (*archive.Snapshot, error) {
	return f.snap, f.err
}

type fakeNewest struct {
	snap *archive.Snapshot
	err  error
}

func (f *fakeNewest) Newest(_ context.Context, _ string) (*archive.Snapshot, error) {
	return f.snap, f.err
}

func quietLedger() *ledger.Ledger {
	return ledger.New(ledger.Config{}, ledger.WithLogger(slog.New(discardHandler{})))
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

func testConfig() Config {
	return Config{
		Enabled:            true,
		MaxRetries:         1,
		RetryDelay:         time.Millisecond,
		Timeout:            time.Second,
		EnableWayback:      true,
		EnableArchiveToday: true,
	}
}

func newTestCascade(cfg Config, sf *scriptedFetch) *Cascade {
	c := New(cfg, sf.fetch, nil, nil, quietLedger(), WithLogger(slog.New(discardHandler{})))
	return c
}

func TestRecover_DirectSuccess(t *testing.T) {
	sf := &scriptedFetch{pages: map[string]*fetch.Page{
		"https://example.com/live": {URL: "https://example.com/live", Title: "Live", Content: "<html>live</html>"},
	}}
	c := newTestCascade(testConfig(), sf)

	out, err := c.Recover(context.Background(), "https://example.com/live")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !out.Success || out.Path != PathDirect {
		t.Fatalf("outcome: %+v", out)
	}
	if out.UsedURL != "https://example.com/live" {
		t.Errorf("used url: got %q", out.UsedURL)
	}
	if len(out.Attempts) != 1 {
		t.Errorf("attempts: got %d, want 1", len(out.Attempts))
	}
	if out.Snapshot != nil {
		t.Error("direct path should carry no snapshot")
	}
}

func TestRecover_DirectRetriesWithFixedDelay(t *testing.T) {
	// WHAT: The live URL gets MaxRetries+1 tries before any archive.
	// WHY: Transient origin failures are cheaper to ride out than an
	// archive round-trip.
	sf := &scriptedFetch{
		failFirst: map[string]int{"https://example.com/flaky": 1},
		pages: map[string]*fetch.Page{
			"https://example.com/flaky": {Title: "Back", Content: "recovered"},
		},
	}
	c := newTestCascade(testConfig(), sf)

	out, err := c.Recover(context.Background(), "https://example.com/flaky")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !out.Success || out.Path != PathDirect {
		t.Fatalf("outcome: %+v", out)
	}
	if got := sf.callsTo("https://example.com/flaky"); got != 2 {
		t.Errorf("direct calls: got %d, want 2", got)
	}
	if out.Attempts[0].Success || out.Attempts[0].Err == "" {
		t.Errorf("first attempt should record the failure: %+v", out.Attempts[0])
	}
}

func TestRecover_WaybackPath(t *testing.T) {
	// WHAT: A dead URL with direct fetch failing twice and an available
	// Wayback snapshot recovers through the archive copy.
	// WHY: This is the core promise of visit recovery.
	const dead = "https://example.com/dead"
	const snapURL = "http://web.archive.org/web/20231215143025/https://example.com/dead"

	sf := &scriptedFetch{pages: map[string]*fetch.Page{
		snapURL: {Title: "Archived", Content: "<html>archived copy</html>"},
	}}
	c := newTestCascade(testConfig(), sf)
	c.wayback = &fakeWayback{snap: &archive.Snapshot{
		URL: snapURL, Original: dead, Timestamp: "2023-12-15T14:30:25Z", Source: "wayback",
	}}

	out, err := c.Recover(context.Background(), dead)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !out.Success || out.Path != PathWayback {
		t.Fatalf("outcome: %+v", out)
	}
	if out.UsedURL != snapURL {
		t.Errorf("used url: got %q, want the snapshot", out.UsedURL)
	}
	if out.OriginalURL != dead {
		t.Errorf("original url: got %q", out.OriginalURL)
	}
	if out.Snapshot == nil || out.Snapshot.Timestamp != "2023-12-15T14:30:25Z" {
		t.Errorf("snapshot metadata: %+v", out.Snapshot)
	}
	// Two direct failures before the archive.
	if got := sf.callsTo(dead); got != 2 {
		t.Errorf("direct calls: got %d, want 2", got)
	}
}

func TestRecover_ArchiveTodayAfterWaybackMiss(t *testing.T) {
	const dead = "https://example.com/dead"
	const snapURL = "https://archive.today/20240110083000/https://example.com/dead"

	sf := &scriptedFetch{pages: map[string]*fetch.Page{
		snapURL: {Title: "Memento", Content: "memento body"},
	}}
	c := newTestCascade(testConfig(), sf)
	c.wayback = &fakeWayback{err: archive.ErrNoSnapshot}
	c.newest = &fakeNewest{snap: &archive.Snapshot{URL: snapURL, Original: dead, Source: "archive-today"}}

	out, err := c.Recover(context.Background(), dead)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !out.Success || out.Path != PathArchiveToday {
		t.Fatalf("outcome: %+v", out)
	}
	if out.UsedURL != snapURL {
		t.Errorf("used url: got %q", out.UsedURL)
	}
	// Attempts: 2 direct failures, wayback miss, archive.today fetch.
	if len(out.Attempts) != 4 {
		t.Errorf("attempts: got %d, want 4: %+v", len(out.Attempts), out.Attempts)
	}
}

func TestRecover_Exhaustion(t *testing.T) {
	// Everything misses: structured failure, no error.
	sf := &scriptedFetch{}
	c := newTestCascade(testConfig(), sf)
	c.wayback = &fakeWayback{err: archive.ErrNoSnapshot}
	c.newest = &fakeNewest{err: archive.ErrNoSnapshot}

	out, err := c.Recover(context.Background(), "https://example.com/gone")
	if err != nil {
		t.Fatalf("exhaustion must not error: %v", err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.UsedURL != "" || out.Content != "" {
		t.Errorf("failure outcome should be empty: %+v", out)
	}
	if len(out.Attempts) != 4 {
		t.Errorf("attempts: got %d, want 4", len(out.Attempts))
	}
}

func TestRecover_SnapshotFetchFailureFallsThrough(t *testing.T) {
	// A snapshot that exists but does not fetch moves to archive.today.
	const dead = "https://example.com/dead"
	const wbSnap = "http://web.archive.org/web/1/x"
	const atSnap = "https://archive.today/20240101000000/x"

	sf := &scriptedFetch{pages: map[string]*fetch.Page{
		atSnap: {Title: "AT", Content: "archive today body"},
	}}
	c := newTestCascade(testConfig(), sf)
	c.wayback = &fakeWayback{snap: &archive.Snapshot{URL: wbSnap, Original: dead}}
	c.newest = &fakeNewest{snap: &archive.Snapshot{URL: atSnap, Original: dead}}

	out, err := c.Recover(context.Background(), dead)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !out.Success || out.Path != PathArchiveToday {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestRecover_EmptyContentIsFailure(t *testing.T) {
	// A 200 with an empty body is not a success.
	sf := &scriptedFetch{pages: map[string]*fetch.Page{
		"https://example.com/blank": {Title: "Blank", Content: ""},
	}}
	cfg := testConfig()
	cfg.EnableWayback = false
	cfg.EnableArchiveToday = false
	c := newTestCascade(cfg, sf)

	out, err := c.Recover(context.Background(), "https://example.com/blank")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out.Success {
		t.Fatal("empty content must not be a success")
	}
	for _, a := range out.Attempts {
		if a.Err != "empty content" {
			t.Errorf("attempt error: got %q", a.Err)
		}
	}
}

func TestRecover_DisabledMeansSingleTry(t *testing.T) {
	sf := &scriptedFetch{}
	cfg := testConfig()
	cfg.Enabled = false
	c := newTestCascade(cfg, sf)
	c.wayback = &fakeWayback{snap: &archive.Snapshot{URL: "http://web.archive.org/web/1/x"}}

	out, err := c.Recover(context.Background(), "https://example.com/gone")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	if len(out.Attempts) != 1 {
		t.Errorf("attempts: got %d, want 1 (recovery disabled)", len(out.Attempts))
	}
}

func TestRecover_LedgerGetsVisitEntries(t *testing.T) {
	led := quietLedger()
	sf := &scriptedFetch{}
	c := New(testConfig(), sf.fetch, nil, nil, led, WithLogger(slog.New(discardHandler{})))
	c.wayback = &fakeWayback{err: archive.ErrNoSnapshot}
	c.newest = &fakeNewest{err: archive.ErrNoSnapshot}

	if _, err := c.Recover(context.Background(), "https://example.com/gone"); err != nil {
		t.Fatalf("recover: %v", err)
	}
	snap := led.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("ledger entries: got %d, want 4", len(snap))
	}
	for _, e := range snap {
		if e.Kind != ledger.KindVisit {
			t.Errorf("kind: got %q", e.Kind)
		}
		if e.Query != "https://example.com/gone" {
			t.Errorf("query: got %q", e.Query)
		}
	}
	if snap[0].Strategy != string(PathDirect) || snap[2].Strategy != string(PathWayback) {
		t.Errorf("strategies: %q, %q", snap[0].Strategy, snap[2].Strategy)
	}
}

func TestRecover_Cancellation(t *testing.T) {
	slow := func(ctx context.Context, url string) (*fetch.Page, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cfg := testConfig()
	cfg.MaxRetries = 5
	cfg.RetryDelay = 10 * time.Second
	c := New(cfg, slow, nil, nil, quietLedger(), WithLogger(slog.New(discardHandler{})))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Recover(ctx, "https://example.com/slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestRecover_ElapsedTracked(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sf := &scriptedFetch{pages: map[string]*fetch.Page{
		"https://example.com/a": {Title: "A", Content: "body"},
	}}
	c := newTestCascade(testConfig(), sf)
	c.now = func() time.Time {
		current = current.Add(100 * time.Millisecond)
		return current
	}

	out, err := c.Recover(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out.Elapsed <= 0 {
		t.Errorf("elapsed: got %v", out.Elapsed)
	}
}
