package connection

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voxform/callstream/internal/credentials"
	"github.com/voxform/callstream/internal/events"
	"github.com/voxform/callstream/internal/transport"
)

// Errors
var (
	// ErrNotInitialized is returned by On/Off before a successful connect.
	ErrNotInitialized = errors.New("connection not initialized")

	// ErrInitFailed wraps failures on the Initialize path (preflight or
	// exhausted start retries).
	ErrInitFailed = errors.New("connection initialization failed")
)

// errStopped aborts a connection attempt that raced a Stop call. The
// attempt's result is discarded instead of resurrecting the manager.
var errStopped = errors.New("connection manager stopped")

// State is the manager's connection lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Transport is the underlying streaming connection. Implemented by
// *transport.Client; narrowed to an interface so tests can substitute a
// fake.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	Send(data []byte) error
	On(event string, h events.Handler) *transport.Registration
	Off(event string, regs ...*transport.Registration)
	Clear()
	State() transport.State
	ConnectionID() string
	OnReconnecting(fn func(error))
	OnReconnected(fn func(connID string))
	OnClose(fn func(error))
}

// CredentialSource vends fresh connection credentials. Implemented by
// *credentials.Client.
type CredentialSource interface {
	Fetch(ctx context.Context) (*credentials.Credentials, error)
}

// TransportFactory builds a transport for a connection attempt.
type TransportFactory func(cfg transport.Config, logger *slog.Logger) Transport

// Config configures the connection manager.
type Config struct {
	// Preflight runs once before the first connection attempt; failure
	// aborts Initialize. Typically wired to the credential endpoint's
	// health probe.
	Preflight func(ctx context.Context) error

	// Bounded retry budget for the initial start.
	MaxStartAttempts int           // total start attempts (default 3)
	StartRetryDelay  time.Duration // wait between start attempts (default 2s)

	// Long-range reconnect policy, layered above the transport's own
	// short-range redial schedule.
	MaxReconnectAttempts int           // attempt ceiling, then silent give-up (default 10)
	ReconnectBaseDelay   time.Duration // default 1s
	ReconnectMaxDelay    time.Duration // default 30s
	ReconnectJitter      time.Duration // upper bound on the random component (default 500ms)

	// Transport settings applied to every connection attempt. URL and
	// Token are filled in per attempt from fetched credentials.
	Transport transport.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxStartAttempts:     3,
		StartRetryDelay:      2 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectJitter:      500 * time.Millisecond,
		Transport:            transport.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxStartAttempts == 0 {
		c.MaxStartAttempts = def.MaxStartAttempts
	}
	if c.StartRetryDelay == 0 {
		c.StartRetryDelay = def.StartRetryDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = def.ReconnectJitter
	}
}

// Subscription identifies one handler registration with the manager.
// Handler funcs are not comparable, so targeted removal via Off works
// through this handle.
type Subscription struct {
	event string
	fn    events.Handler
	reg   *transport.Registration
}

// Event returns the event name this subscription is bound to.
func (s *Subscription) Event() string { return s.event }
