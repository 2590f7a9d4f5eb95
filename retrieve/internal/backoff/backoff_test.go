package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelay_Growth(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Second, Multiplier: 2, Jitter: 0, MaxRetries: 5}
	for attempt := 0; attempt < 6; attempt++ {
		d0 := Delay(attempt, cfg)
		d1 := Delay(attempt+1, cfg)
		if d1 < time.Duration(float64(d0)*cfg.Multiplier) {
			t.Fatalf("attempt %d: delay %v did not grow by multiplier from %v", attempt+1, d1, d0)
		}
	}
	if got := Delay(0, cfg); got != 100*time.Millisecond {
		t.Fatalf("delay(0): got %v, want 100ms", got)
	}
	if got := Delay(3, cfg); got != 800*time.Millisecond {
		t.Fatalf("delay(3): got %v, want 800ms", got)
	}
}

func TestDelay_Cap(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2, Jitter: 0, MaxRetries: 10}
	if got := Delay(10, cfg); got != 5*time.Second {
		t.Fatalf("capped delay: got %v, want 5s", got)
	}
}

func TestDelay_JitterBand(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2, Jitter: 0.2, MaxRetries: 5}
	for i := 0; i < 200; i++ {
		for attempt := 0; attempt < 8; attempt++ {
			d := Delay(attempt, cfg)
			max := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.Jitter))
			if d > max {
				t.Fatalf("attempt %d: delay %v above jitter ceiling %v", attempt, d, max)
			}
			base := float64(cfg.BaseDelay) * pow(cfg.Multiplier, attempt)
			if base > float64(cfg.MaxDelay) {
				base = float64(cfg.MaxDelay)
			}
			min := time.Duration(base * (1 - cfg.Jitter))
			if d < min {
				t.Fatalf("attempt %d: delay %v below jitter floor %v", attempt, d, min)
			}
		}
	}
}

func pow(m float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= m
	}
	return out
}

func TestShouldRetry_AttemptBudget(t *testing.T) {
	cfg := Config{MaxRetries: 3}
	transient := Reason{Class: ClassServer, Status: 503}

	for attempt := 0; attempt < 3; attempt++ {
		if !ShouldRetry(attempt, transient, cfg) {
			t.Fatalf("attempt %d below budget: want retry", attempt)
		}
	}
	if ShouldRetry(3, transient, cfg) {
		t.Fatal("attempt == maxRetries: want no retry")
	}
	if ShouldRetry(7, transient, cfg) {
		t.Fatal("attempt above maxRetries: want no retry")
	}
}

func TestShouldRetry_StatusSet(t *testing.T) {
	cfg := Config{MaxRetries: 3}
	tests := []struct {
		status int
		want   bool
	}{
		{408, true},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{501, false},
	}
	for _, tt := range tests {
		r := Reason{Class: classForStatus(tt.status), Status: tt.status}
		if got := ShouldRetry(0, r, cfg); got != tt.want {
			t.Errorf("status %d: retry=%v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestShouldRetry_Kinds(t *testing.T) {
	cfg := Config{MaxRetries: 3}
	tests := []struct {
		class Class
		want  bool
	}{
		{ClassNetwork, true},
		{ClassRateLimit, true},
		{ClassServer, true},
		{ClassDNS, false},
		{ClassParse, false},
		{ClassClient, false},
		{ClassConfig, false},
		{ClassCanceled, false},
		{ClassUnknown, false},
	}
	for _, tt := range tests {
		if got := ShouldRetry(0, Reason{Class: tt.class}, cfg); got != tt.want {
			t.Errorf("class %s: retry=%v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestWait_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWait_Elapses(t *testing.T) {
	start := time.Now()
	if err := Wait(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("returned before the delay elapsed")
	}
}
