package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxform/callstream/internal/events"
)

// Registration identifies a single handler registration. Handler funcs are
// not comparable, so targeted removal works through this handle.
type Registration struct {
	event string
	fn    events.Handler
}

// Event returns the event name this registration is bound to.
func (r *Registration) Event() string { return r.event }

// Client is a single streaming connection to the transcription hub.
//
// The client owns a short-range redial policy: on a read failure it walks
// the configured delay schedule, redialing with a freshly supplied token.
// Once the schedule is exhausted it gives up entirely and fires the close
// hook. Anything beyond that is the connection manager's responsibility.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    State
	closed   bool
	connID   string
	lastPing time.Time

	// Write serialization
	writeMu sync.Mutex

	// Named-event handlers, dispatched in registration order
	handlersMu sync.RWMutex
	handlers   map[string][]*Registration

	// Lifecycle hooks
	onReconnecting func(error)
	onReconnected  func(connID string)
	onClose        func(error)

	done chan struct{}
}

// NewClient creates a transport client. It does not connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string][]*Registration),
		done:     make(chan struct{}),
	}
}

// OnReconnecting sets the hook fired when the internal redial loop begins.
func (c *Client) OnReconnecting(fn func(error)) {
	c.mu.Lock()
	c.onReconnecting = fn
	c.mu.Unlock()
}

// OnReconnected sets the hook fired after a successful internal redial.
func (c *Client) OnReconnected(fn func(connID string)) {
	c.mu.Lock()
	c.onReconnected = fn
	c.mu.Unlock()
}

// OnClose sets the hook fired when the client gives up entirely.
func (c *Client) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Start dials the hub and begins reading frames.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.connID = uuid.NewString()
	c.lastPing = time.Now()
	c.mu.Unlock()

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("transport connected", "url", c.cfg.URL, "conn_id", c.ConnectionID())
	return nil
}

// Stop gracefully closes the connection. Idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

// Send writes raw bytes to the connection.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	open := c.state == StateConnected
	c.mu.RUnlock()

	if !open || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// On registers a handler for a named event and returns its handle.
func (c *Client) On(event string, h events.Handler) *Registration {
	reg := &Registration{event: event, fn: h}
	c.handlersMu.Lock()
	c.handlers[event] = append(c.handlers[event], reg)
	c.handlersMu.Unlock()
	return reg
}

// Off removes handler registrations for an event. With no handles given,
// every handler for the event is removed.
func (c *Client) Off(event string, regs ...*Registration) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if len(regs) == 0 {
		delete(c.handlers, event)
		return
	}

	kept := c.handlers[event][:0]
	for _, existing := range c.handlers[event] {
		remove := false
		for _, r := range regs {
			if existing == r {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(c.handlers, event)
	} else {
		c.handlers[event] = kept
	}
}

// Clear removes every handler for every event.
func (c *Client) Clear() {
	c.handlersMu.Lock()
	c.handlers = make(map[string][]*Registration)
	c.handlersMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ConnectionID returns the ID of the current underlying connection.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// dial fetches a fresh token and opens the WebSocket.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	token, err := c.cfg.Token(dialCtx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoToken
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(dialCtx, c.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	return conn, nil
}

// readLoop reads frames and dispatches them until the connection dies.
func (c *Client) readLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !c.reconnect(err) {
				return
			}
			continue
		}

		c.dispatch(data)
	}
}

// reconnect walks the redial schedule. Returns true if a new connection
// was established, false if the client is closed or the schedule ran out.
func (c *Client) reconnect(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.state = StateReconnecting
	reconnecting := c.onReconnecting
	c.mu.Unlock()

	if reconnecting != nil {
		reconnecting(cause)
	}

	for i, delay := range c.cfg.ReconnectDelays {
		if delay > 0 {
			select {
			case <-c.done:
				return false
			case <-time.After(delay):
			}
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			c.logger.Warn("transport redial failed",
				"attempt", i+1,
				"of", len(c.cfg.ReconnectDelays),
				"error", err,
			)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		c.state = StateConnected
		c.connID = uuid.NewString()
		c.lastPing = time.Now()
		id := c.connID
		reconnected := c.onReconnected
		c.mu.Unlock()

		c.logger.Info("transport reconnected", "conn_id", id)
		if reconnected != nil {
			reconnected(id)
		}
		return true
	}

	c.mu.Lock()
	c.state = StateDisconnected
	closeFn := c.onClose
	c.mu.Unlock()

	c.logger.Warn("transport gave up after redial schedule", "error", cause)
	if closeFn != nil {
		closeFn(cause)
	}
	return false
}

// dispatch decodes a frame and invokes handlers in registration order.
func (c *Client) dispatch(data []byte) {
	var frame events.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("unparseable frame", "error", err)
		return
	}

	c.handlersMu.RLock()
	regs := make([]*Registration, len(c.handlers[frame.Event]))
	copy(regs, c.handlers[frame.Event])
	c.handlersMu.RUnlock()

	if len(regs) == 0 {
		c.logger.Debug("no handlers for event", "event", frame.Event)
		return
	}

	for _, reg := range regs {
		reg.fn(frame.Payload)
	}
}

// heartbeatLoop sends keepalive pings and kills stale connections so the
// read loop notices and redials.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			open := c.state == StateConnected
			lastPing := c.lastPing
			c.mu.RUnlock()

			if conn == nil || !open {
				continue
			}

			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("connection stale, forcing close",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				conn.Close()
			}
		}
	}
}
