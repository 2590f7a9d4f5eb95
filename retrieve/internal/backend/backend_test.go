package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/relance/retrieve/internal/backoff"
)

func fastRetry() backoff.Config {
	return backoff.Config{BaseDelay: 1, MaxDelay: 1, Multiplier: 2, MaxRetries: 3}
}

func TestCore_NonRetryableFailsFast(t *testing.T) {
	// WHAT: A 404 stops after one request regardless of the retry budget.
	// WHY: Retrying a hard client error only burns the rate-limit slot.
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(Config{Endpoint: srv.URL, Retry: fastRetry()}, srv.Client(), nil)
	_, err := d.Attempt(context.Background(), "q", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if requests != 1 {
		t.Errorf("requests: got %d, want 1", requests)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func TestCore_HealthCounters(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.Write([]byte(searxngFixture))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := NewSearxng(Config{Endpoint: srv.URL, Retry: fastRetry()}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Attempt(ctx, "q", 5); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := s.Attempt(ctx, "q", 5); err == nil {
		t.Fatal("expected third attempt to fail")
	}

	h := s.Health()
	want := 2.0 / 3.0
	if h.SuccessRate < want-0.01 || h.SuccessRate > want+0.01 {
		t.Errorf("success rate: got %v, want ~%v", h.SuccessRate, want)
	}
	if !strings.Contains(h.LastError, "404") {
		t.Errorf("last error: got %q", h.LastError)
	}
	if !h.Available {
		t.Error("two failures short of the threshold should stay available")
	}
}

func TestCore_HealthBeforeFirstAttempt(t *testing.T) {
	// No attempts yet means a clean slate, not a zero rate.
	d := NewDuckDuckGo(Config{Name: "duckduckgo"}, nil, nil)
	h := d.Health()
	if !h.Available {
		t.Error("fresh backend should be available")
	}
	if h.SuccessRate != 1.0 {
		t.Errorf("fresh success rate: got %v, want 1.0", h.SuccessRate)
	}
}

func TestCore_CooldownAfterConsecutiveFailures(t *testing.T) {
	// WHAT: Three consecutive failed attempts put the backend on cooldown;
	// it reports available again once the cooldown elapses.
	// WHY: The cascade should stop hammering a provider that is down.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(Config{Endpoint: srv.URL, Retry: fastRetry()}, srv.Client(), nil)
	current := time.Now()
	d.now = func() time.Time { return current }

	ctx := context.Background()
	for i := 0; i < failsBeforeCooldown; i++ {
		if !d.Available() {
			t.Fatalf("unavailable after %d failures, threshold is %d", i, failsBeforeCooldown)
		}
		if _, err := d.Attempt(ctx, "q", 5); err == nil {
			t.Fatal("expected failure")
		}
	}
	if d.Available() {
		t.Error("should be cooling down after consecutive failures")
	}
	if h := d.Health(); h.Available {
		t.Error("health should report unavailable during cooldown")
	}

	current = current.Add(cooldownPeriod + time.Second)
	if !d.Available() {
		t.Error("cooldown elapsed, should be available again")
	}
}

func TestCore_SuccessClearsCooldownStreak(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Fail, fail, succeed, fail, fail: never three in a row.
		if requests%3 == 0 {
			w.Write([]byte(searxngFixture))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := NewSearxng(Config{Endpoint: srv.URL, Retry: fastRetry()}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Attempt(ctx, "q", 5)
	}
	if !s.Available() {
		t.Error("interleaved successes should prevent cooldown")
	}
}

func TestCore_Pacing(t *testing.T) {
	// WHAT: Consecutive attempts respect the configured minimum interval.
	// WHY: Scraped engines ban clients that fire too quickly.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searxngFixture))
	}))
	defer srv.Close()

	cfg := Config{
		Endpoint: srv.URL,
		Options:  Options{RateLimit: 30 * time.Millisecond},
	}
	s, err := NewSearxng(cfg, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := s.Attempt(ctx, "q", 5); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("three paced attempts took %v, want >= ~60ms", elapsed)
	}
}

func TestCore_PerCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.Write([]byte(searxngFixture))
	}))
	defer srv.Close()

	cfg := Config{
		Endpoint: srv.URL,
		Options:  Options{Timeout: 50 * time.Millisecond},
		Retry:    backoff.Config{BaseDelay: 1, MaxDelay: 1, Multiplier: 2, MaxRetries: 1},
	}
	s, err := NewSearxng(cfg, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start := time.Now()
	_, err = s.Attempt(context.Background(), "q", 5)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	// One timed-out call plus one retry, well under the server's sleep.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("attempt took %v, per-call timeout not applied", elapsed)
	}
}

func TestCore_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// Big delays so a retry would be observable if cancellation leaked.
	cfg := Config{
		Endpoint: srv.URL,
		Retry:    backoff.Config{BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, MaxRetries: 3},
	}
	s, err := NewSearxng(cfg, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = s.Attempt(ctx, "q", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, backoff wait did not honor ctx", elapsed)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<b>Hello</b> &amp; world", "Hello & world"},
		{"  plain  ", "plain"},
		{"<script>alert(1)</script>safe", "safe"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanText(tt.in); got != tt.want {
			t.Errorf("cleanText(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
