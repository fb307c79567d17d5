package transport

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrNoToken       = errors.New("token supplier returned empty token")
)

// State is the transport connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// TokenFunc supplies a fresh access token. It is invoked on every dial,
// including internal redials, so rotated tokens are picked up without a
// full restart.
type TokenFunc func(ctx context.Context) (string, error)

// Config configures a transport client.
type Config struct {
	URL              string          // WebSocket URL of the transcription hub
	Token            TokenFunc       // Access token supplier (required)
	ReconnectDelays  []time.Duration // Internal redial schedule before giving up
	HandshakeTimeout time.Duration   // Dial timeout
	WriteTimeout     time.Duration   // Write deadline for sends
	PingInterval     time.Duration   // Keepalive ping cadence
	PingTimeout      time.Duration   // Max time without ping/pong before stale
}

// DefaultReconnectDelays is the built-in short-range redial schedule.
// Once exhausted the client gives up entirely and fires the close hook;
// longer-range recovery belongs to the connection manager.
var DefaultReconnectDelays = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelays:  DefaultReconnectDelays,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ReconnectDelays == nil {
		c.ReconnectDelays = def.ReconnectDelays
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
}
