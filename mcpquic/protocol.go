// Package mcpquic transports MCP sessions over QUIC.
//
// Wire contract: one bidirectional stream per session, opened by the
// client, prefixed with 4 magic bytes so a misdirected HTTP/3 request
// fails fast instead of corrupting the JSON-RPC framing. ALPN pins the
// protocol version.
package mcpquic

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// MagicBytesMCP opens every MCP stream. Anything else on the wire is
	// protocol confusion, most likely a stray h3 client.
	MagicBytesMCP = "MCP1"

	// ALPNProtocolMCP is the negotiated protocol identifier. Bump the
	// suffix on incompatible wire changes.
	ALPNProtocolMCP = "mcp-quic-v1"

	// MaxMessageSize bounds a single JSON-RPC message.
	MaxMessageSize = 10 * 1024 * 1024

	DefaultIdleTimeout = 5 * time.Minute
	DefaultKeepAlive   = 30 * time.Second
)

// Application-level connection close codes.
const (
	ConnErrorNoError           quic.ApplicationErrorCode = 0x00
	ConnErrorUnsupportedALPN   quic.ApplicationErrorCode = 0x02
	ConnErrorProtocolViolation quic.ApplicationErrorCode = 0x03
)

// StreamErrorProtocolConfusion cancels a stream whose opening bytes are
// not the MCP magic.
const StreamErrorProtocolConfusion quic.StreamErrorCode = 0x01

var (
	ErrInvalidMagicBytes = errors.New("mcpquic: invalid magic bytes")
	ErrUnsupportedALPN   = errors.New("mcpquic: unsupported ALPN protocol")
	ErrConnectionClosed  = errors.New("mcpquic: connection closed")
)

// ConnectionError reports a failed or rejected QUIC connection, with the
// application close code for the peer's logs.
type ConnectionError struct {
	RemoteAddr string
	Code       quic.ApplicationErrorCode
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcpquic: connection %s closed (0x%02x): %v", e.RemoteAddr, uint64(e.Code), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendMagicBytes writes the stream preamble.
func SendMagicBytes(w io.Writer) error {
	if _, err := io.WriteString(w, MagicBytesMCP); err != nil {
		return fmt.Errorf("mcpquic: send magic bytes: %w", err)
	}
	return nil
}

// ValidateMagicBytes reads and checks the stream preamble.
func ValidateMagicBytes(r io.Reader) error {
	buf := make([]byte, len(MagicBytesMCP))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMagicBytes, err)
	}
	if string(buf) != MagicBytesMCP {
		return fmt.Errorf("%w: got %q", ErrInvalidMagicBytes, buf)
	}
	return nil
}

// ProductionQUICConfig returns the QUIC tuning used by both ends.
// 0-RTT stays off: replayable early data and tool calls do not mix.
func ProductionQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultKeepAlive,
		Allow0RTT:       false,
	}
}
