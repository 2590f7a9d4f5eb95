package backoff

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Class categorizes a retrieval failure.
type Class string

const (
	ClassNetwork   Class = "network"    // timeout, reset, refused
	ClassDNS       Class = "dns"        // resolution failure
	ClassRateLimit Class = "rate_limit" // 429
	ClassServer    Class = "server"     // 5xx
	ClassClient    Class = "client"     // other 4xx, malformed request
	ClassParse     Class = "parse"      // response body not decodable
	ClassConfig    Class = "config"     // missing key/endpoint, caught before I/O
	ClassCanceled  Class = "canceled"   // caller gave up
	ClassUnknown   Class = "unknown"
)

// Reason is the classified shape of a failure: its class plus the HTTP
// status when one is known.
type Reason struct {
	Class  Class
	Status int
}

// StatusError carries an HTTP status through an error chain. Its message
// format ("http NNN") is what ExtractStatusCode parses back out.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "http " + strconv.Itoa(e.Code)
}

// ConfigError marks a configuration failure (missing API key or endpoint).
// Raised synchronously before any network call; never retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// ParseError marks an undecodable response body.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// Classify maps an error to its Reason. Typed checks run first; the
// message-substring fallback catches errors that crossed a stringification
// boundary.
func Classify(err error) Reason {
	if err == nil {
		return Reason{Class: ClassUnknown}
	}

	var se *StatusError
	if errors.As(err, &se) {
		return Reason{Class: classForStatus(se.Code), Status: se.Code}
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return Reason{Class: ClassConfig}
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return Reason{Class: ClassParse}
	}

	if errors.Is(err, context.Canceled) {
		return Reason{Class: ClassCanceled}
	}
	// A deadline is an ordinary transient failure downstream, same as a 5xx.
	if errors.Is(err, context.DeadlineExceeded) {
		return Reason{Class: ClassNetwork}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Reason{Class: ClassDNS}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Reason{Class: ClassNetwork}
	}

	msg := strings.ToLower(err.Error())
	if code := ExtractStatusCode(msg); code > 0 {
		return Reason{Class: classForStatus(code), Status: code}
	}
	if isDNSError(msg) {
		return Reason{Class: ClassDNS}
	}
	if isParseError(msg) {
		return Reason{Class: ClassParse}
	}
	if isNetworkError(msg) {
		return Reason{Class: ClassNetwork}
	}
	return Reason{Class: ClassUnknown}
}

func classForStatus(code int) Class {
	switch {
	case code == 429:
		return ClassRateLimit
	case code >= 500 && code < 600:
		return ClassServer
	case code >= 400 && code < 500:
		return ClassClient
	default:
		return ClassUnknown
	}
}

// ExtractStatusCode extracts an HTTP status code from an error message.
// Returns 0 if no code found. Handles "http 503", "http: 404", "status 429".
func ExtractStatusCode(errMsg string) int {
	msg := strings.ToLower(errMsg)
	for _, prefix := range []string{"http ", "http: ", "status ", "status: "} {
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			continue
		}
		numStr := strings.TrimSpace(msg[idx+len(prefix):])
		// Take first word (the code).
		if sp := strings.IndexByte(numStr, ' '); sp > 0 {
			numStr = numStr[:sp]
		}
		if code, err := strconv.Atoi(numStr); err == nil && code >= 100 && code < 600 {
			return code
		}
	}
	return 0
}

// NewStatusError wraps an HTTP status as an error, with context.
func NewStatusError(code int, contextMsg string) error {
	if contextMsg == "" {
		return &StatusError{Code: code}
	}
	return fmt.Errorf("%s: %w", contextMsg, &StatusError{Code: code})
}

func isDNSError(msg string) bool {
	return strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dns") ||
		strings.Contains(msg, "name resolution")
}

func isParseError(msg string) bool {
	return strings.Contains(msg, "json") && (strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid") || strings.Contains(msg, "unexpected")) ||
		strings.Contains(msg, "html") && strings.Contains(msg, "parse") ||
		strings.Contains(msg, "encoding") && strings.Contains(msg, "invalid")
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "tls handshake")
}
