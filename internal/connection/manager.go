package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/voxform/callstream/internal/transport"
)

// Manager owns the lifecycle of exactly one streaming connection to the
// transcription hub: credential acquisition, transport construction,
// lifecycle handlers, subscribe/unsubscribe/send, and long-range
// reconnection with exponential backoff.
//
// The transport's built-in redial schedule owns short-range recovery; it
// signals exhaustion via its close hook, at which point the manager's own
// backoff scheduler takes over. That handoff is the formal transition
// between the two reconnection layers.
type Manager struct {
	cfg          Config
	creds        CredentialSource
	logger       *slog.Logger
	newTransport TransportFactory

	mu                sync.Mutex
	state             State
	tr                Transport
	initialized       bool
	preflightDone     bool
	isConnecting      bool
	isReconnecting    bool
	reconnectAttempts int
	retryTimer        *time.Timer
	stopGen           int
	subs              map[string][]*Subscription
}

// NewManager creates a connection manager. It does not connect.
func NewManager(cfg Config, creds CredentialSource, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		creds:  creds,
		logger: logger,
		subs:   make(map[string][]*Subscription),
	}
	m.newTransport = func(tc transport.Config, l *slog.Logger) Transport {
		return transport.NewClient(tc, l)
	}
	return m
}

var (
	sharedOnce sync.Once
	shared     *Manager
)

// Shared returns the process-wide manager, constructing it on first call.
// Later calls ignore the arguments and return the same instance, so every
// consumer observes one connection state. Tests should use NewManager.
func Shared(cfg Config, creds CredentialSource, logger *slog.Logger) *Manager {
	sharedOnce.Do(func() {
		shared = NewManager(cfg, creds, logger)
	})
	return shared
}

// Initialize establishes the connection, running the one-time preflight
// first. Idempotent: once a connection exists, later calls return it
// without repeating the preflight or dialing again. A failed Initialize
// leaves the manager able to retry.
func (m *Manager) Initialize(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	if m.initialized && m.tr != nil {
		tr := m.tr
		m.mu.Unlock()
		return tr, nil
	}
	preflightDone := m.preflightDone
	m.mu.Unlock()

	if !preflightDone && m.cfg.Preflight != nil {
		if err := m.cfg.Preflight(ctx); err != nil {
			return nil, fmt.Errorf("%w: preflight: %v", ErrInitFailed, err)
		}
		m.mu.Lock()
		m.preflightDone = true
		m.mu.Unlock()
	}

	tr, err := m.EstablishConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	return tr, nil
}

// EstablishConnection runs one bounded connection attempt sequence:
// fetch fresh credentials, tear down any previous transport, build and
// start a new one, retrying starts up to the configured budget.
//
// Returns (nil, nil) when credentials are not yet available, meaning the
// call session hasn't started. No retry is scheduled for that case; it is
// re-checked only by a future explicit call.
func (m *Manager) EstablishConnection(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	if m.isConnecting {
		// An attempt is already in flight; hand back whatever exists
		// rather than starting a second one.
		tr := m.tr
		m.mu.Unlock()
		m.logger.Debug("connection attempt already in progress")
		return tr, nil
	}
	m.isConnecting = true
	m.state = StateConnecting
	gen := m.stopGen
	m.mu.Unlock()

	// The guard must clear on every exit path, panics included.
	defer func() {
		m.mu.Lock()
		m.isConnecting = false
		m.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; ; attempt++ {
		tr, notReady, err := m.tryConnect(ctx, gen)
		if err == nil {
			if notReady {
				m.setStateIdle()
				return nil, nil
			}
			return tr, nil
		}
		lastErr = err

		if errors.Is(err, errStopped) {
			// Stop intervened mid-attempt; it already owns the state.
			return nil, err
		}

		if attempt >= m.cfg.MaxStartAttempts {
			m.setState(StateDisconnected)
			return nil, fmt.Errorf("establish connection after %d attempts: %w", attempt, lastErr)
		}

		m.logger.Warn("connection attempt failed, retrying",
			"attempt", attempt,
			"of", m.cfg.MaxStartAttempts,
			"retry_in", m.cfg.StartRetryDelay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return nil, ctx.Err()
		case <-time.After(m.cfg.StartRetryDelay):
		}
	}
}

// tryConnect performs a single credential fetch + transport start. gen is
// the stop generation captured when the attempt began; a mismatch means a
// Stop raced the attempt and its result must be discarded.
func (m *Manager) tryConnect(ctx context.Context, gen int) (Transport, bool, error) {
	creds, err := m.creds.Fetch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetch credentials: %w", err)
	}
	if !creds.Ready() {
		m.logger.Info("credentials not yet available, call session not started")
		return nil, true, nil
	}

	// At most one live transport at a time: tear down the previous one
	// before starting its replacement. Stop failures must not block the
	// new connection.
	m.mu.Lock()
	if m.stopGen != gen {
		m.mu.Unlock()
		return nil, false, errStopped
	}
	prev := m.tr
	m.tr = nil
	m.mu.Unlock()

	if prev != nil && prev.State() != transport.StateDisconnected {
		if err := prev.Stop(); err != nil {
			m.logger.Warn("failed to stop previous transport", "error", err)
		}
	}

	tc := m.cfg.Transport
	tc.URL = creds.ConnectionURL
	tc.Token = m.accessToken

	tr := m.newTransport(tc, m.logger.With("component", "transport"))
	m.installLifecycleHandlers(tr)
	m.reinstallSubscriptions(tr)

	if err := tr.Start(ctx); err != nil {
		return nil, false, fmt.Errorf("start transport: %w", err)
	}

	m.mu.Lock()
	if m.stopGen != gen {
		// Stop raced the start; the new transport must not outlive it.
		m.mu.Unlock()
		if err := tr.Stop(); err != nil {
			m.logger.Warn("failed to stop orphaned transport", "error", err)
		}
		return nil, false, errStopped
	}
	m.tr = tr
	m.initialized = true
	m.state = StateConnected
	m.reconnectAttempts = 0
	m.mu.Unlock()

	m.logger.Info("connected to transcription hub", "conn_id", tr.ConnectionID())
	return tr, false, nil
}

// accessToken is the transport's token supplier. Invoked on every dial so
// rotated tokens are picked up without manager involvement.
func (m *Manager) accessToken(ctx context.Context) (string, error) {
	creds, err := m.creds.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// installLifecycleHandlers wires the transport's hooks to the manager's
// state machine.
func (m *Manager) installLifecycleHandlers(tr Transport) {
	tr.OnReconnecting(func(err error) {
		m.setState(StateReconnecting)
		m.logger.Info("transport reconnecting", "error", err)
	})

	tr.OnReconnected(func(connID string) {
		m.mu.Lock()
		m.state = StateConnected
		m.reconnectAttempts = 0
		m.mu.Unlock()
		m.logger.Info("transport reconnected", "conn_id", connID)
	})

	tr.OnClose(func(err error) {
		m.setState(StateDisconnected)
		m.logger.Warn("transport closed, scheduling reconnect", "error", err)
		m.scheduleReconnect()
	})
}

// reinstallSubscriptions re-registers every live subscription with a new
// transport so handlers survive a full reconnect.
func (m *Manager) reinstallSubscriptions(tr Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for event, subs := range m.subs {
		for _, sub := range subs {
			sub.reg = tr.On(event, sub.fn)
		}
	}
}

// On registers a handler for a named event. Multiple independent
// subscribers per event are supported; dispatch follows registration
// order.
func (m *Manager) On(event string, h func(payload json.RawMessage)) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || m.tr == nil {
		return nil, ErrNotInitialized
	}

	sub := &Subscription{event: event, fn: h}
	sub.reg = m.tr.On(event, sub.fn)
	m.subs[event] = append(m.subs[event], sub)
	return sub, nil
}

// Off removes subscriptions for an event from both the transport and the
// registry. With no handles given, every subscription for the event is
// removed.
func (m *Manager) Off(event string, subs ...*Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(subs) == 0 {
		if m.tr != nil {
			m.tr.Off(event)
		}
		delete(m.subs, event)
		return
	}

	for _, sub := range subs {
		if m.tr != nil && sub.reg != nil {
			m.tr.Off(event, sub.reg)
		}
	}

	kept := m.subs[event][:0]
	for _, existing := range m.subs[event] {
		remove := false
		for _, sub := range subs {
			if existing == sub {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(m.subs, event)
	} else {
		m.subs[event] = kept
	}
}

// Send transmits a payload on the connection, best effort. Non-string
// payloads are JSON-serialized. Returns false instead of an error when
// the socket is not open or the payload cannot be serialized; callers are
// expected to poll connectivity, not handle transport exceptions.
func (m *Manager) Send(payload any) bool {
	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()

	if tr == nil || tr.State() != transport.StateConnected {
		m.logger.Debug("send skipped, socket not open")
		return false
	}

	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			m.logger.Warn("send payload serialization failed", "error", err)
			return false
		}
		data = b
	}

	if err := tr.Send(data); err != nil {
		m.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

// Stop cancels any pending retry, unregisters every handler, shuts the
// transport down gracefully, and resets all lifecycle flags. Idempotent
// and safe from any state. A connection attempt in flight when Stop is
// called discards its result instead of committing a live transport.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.state = StateClosing
	m.stopGen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	tr := m.tr
	m.tr = nil
	m.subs = make(map[string][]*Subscription)
	m.initialized = false
	m.isReconnecting = false
	m.reconnectAttempts = 0
	m.mu.Unlock()

	if tr != nil {
		tr.Clear()
		if err := tr.Stop(); err != nil {
			m.logger.Warn("failed to stop transport", "error", err)
		}
	}

	m.setState(StateDisconnected)
	m.logger.Info("connection manager stopped")
}

// IsConnected reports whether the underlying transport is open. Never
// blocks.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()
	return tr != nil && tr.State() == transport.StateConnected
}

// ConnectionState returns the manager's lifecycle state. Never blocks.
func (m *Manager) ConnectionState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the current long-range attempt count.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// scheduleReconnect arms the long-range backoff timer. It does nothing if
// a reconnect cycle is already in flight, or once the attempt ceiling is
// reached (a deliberate terminal state, not an error). At most one timer
// is ever outstanding; arming cancels any prior pending timer.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()

	if m.isReconnecting {
		m.mu.Unlock()
		return
	}
	if m.reconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.logger.Warn("reconnect attempt ceiling reached, giving up",
			"attempts", m.cfg.MaxReconnectAttempts,
		)
		return
	}

	m.isReconnecting = true
	m.reconnectAttempts++
	delay := m.backoffDelay(m.reconnectAttempts)
	m.state = StateReconnecting

	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(delay, m.reconnectNow)
	attempt := m.reconnectAttempts
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"of", m.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
}

// reconnectNow is the retry timer callback: one establish attempt, then
// either done or chained back into the scheduler.
func (m *Manager) reconnectNow() {
	tr, err := m.EstablishConnection(context.Background())

	m.mu.Lock()
	m.isReconnecting = false
	m.mu.Unlock()

	if err != nil {
		if errors.Is(err, errStopped) {
			return
		}
		m.logger.Warn("reconnect attempt failed", "error", err)
		m.scheduleReconnect()
		return
	}
	if tr == nil {
		// Credentials went not-ready mid-session; nothing to chain.
		m.logger.Info("reconnect found no active call session")
	}
}

// backoffDelay computes min(base * 2^(attempt-1) + jitter, max). The
// random component spreads simultaneous reconnections against a
// recovering hub.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.ReconnectMaxDelay {
			break
		}
	}
	delay += time.Duration(rand.Int63n(int64(m.cfg.ReconnectJitter)))
	if delay > m.cfg.ReconnectMaxDelay {
		delay = m.cfg.ReconnectMaxDelay
	}
	return delay
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// setStateIdle is the "credentials not ready" resting state: back to
// uninitialized if we never connected, otherwise disconnected.
func (m *Manager) setStateIdle() {
	m.mu.Lock()
	if m.initialized {
		m.state = StateDisconnected
	} else {
		m.state = StateUninitialized
	}
	m.mu.Unlock()
}
