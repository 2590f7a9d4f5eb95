package backoff

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassify_StatusError(t *testing.T) {
	tests := []struct {
		code  int
		class Class
	}{
		{429, ClassRateLimit},
		{500, ClassServer},
		{503, ClassServer},
		{404, ClassClient},
		{403, ClassClient},
	}
	for _, tt := range tests {
		err := fmt.Errorf("brave: search: %w", &StatusError{Code: tt.code})
		r := Classify(err)
		if r.Class != tt.class || r.Status != tt.code {
			t.Errorf("status %d: got class=%s status=%d", tt.code, r.Class, r.Status)
		}
	}
}

func TestClassify_ConfigError(t *testing.T) {
	err := fmt.Errorf("brave: %w", &ConfigError{Msg: "brave: missing API key"})
	if r := Classify(err); r.Class != ClassConfig {
		t.Fatalf("got %s, want config", r.Class)
	}
}

func TestClassify_ParseError(t *testing.T) {
	err := &ParseError{Err: errors.New("unexpected end of JSON input")}
	if r := Classify(err); r.Class != ClassParse {
		t.Fatalf("got %s, want parse", r.Class)
	}
}

func TestClassify_Context(t *testing.T) {
	if r := Classify(context.Canceled); r.Class != ClassCanceled {
		t.Fatalf("canceled: got %s", r.Class)
	}
	// Deadlines behave like any transient network failure.
	if r := Classify(context.DeadlineExceeded); r.Class != ClassNetwork {
		t.Fatalf("deadline: got %s", r.Class)
	}
}

func TestClassify_DNS(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}
	if r := Classify(err); r.Class != ClassDNS {
		t.Fatalf("dns error: got %s", r.Class)
	}
	if r := Classify(errors.New("lookup nope.invalid: no such host")); r.Class != ClassDNS {
		t.Fatalf("dns substring: got %s", r.Class)
	}
}

func TestClassify_NetworkSubstrings(t *testing.T) {
	for _, msg := range []string{
		"dial tcp 1.2.3.4:443: connection refused",
		"read tcp: connection reset by peer",
		"net/http: TLS handshake timeout",
		"unexpected EOF",
	} {
		if r := Classify(errors.New(msg)); r.Class != ClassNetwork {
			t.Errorf("%q: got %s, want network", msg, r.Class)
		}
	}
}

func TestClassify_StatusFromMessage(t *testing.T) {
	r := Classify(errors.New("fetch failed: http 503"))
	if r.Class != ClassServer || r.Status != 503 {
		t.Fatalf("got class=%s status=%d", r.Class, r.Status)
	}
}

func TestClassify_Unknown(t *testing.T) {
	if r := Classify(errors.New("boom")); r.Class != ClassUnknown {
		t.Fatalf("got %s, want unknown", r.Class)
	}
}

func TestExtractStatusCode(t *testing.T) {
	tests := []struct {
		msg  string
		want int
	}{
		{"http 503", 503},
		{"fetch: http: 404 not found", 404},
		{"status 429 from api", 429},
		{"status: 500", 500},
		{"no code here", 0},
		{"http 999", 0},
	}
	for _, tt := range tests {
		if got := ExtractStatusCode(tt.msg); got != tt.want {
			t.Errorf("ExtractStatusCode(%q) = %d, want %d", tt.msg, got, tt.want)
		}
	}
}
