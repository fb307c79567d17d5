package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxform/callstream/internal/connection"
)

// Connector is the connection surface the watcher drives. Implemented by
// *connection.Manager.
type Connector interface {
	EstablishConnection(ctx context.Context) (connection.Transport, error)
	IsConnected() bool
}

// Config holds session watcher settings.
type Config struct {
	ProbeInterval time.Duration // Re-check cadence while no call session exists

	// OnConnect fires after a probe establishes a connection, letting the
	// host wire subscriptions that require a live connection.
	OnConnect func()
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 30 * time.Second,
	}
}

// Watcher re-checks for an available call session while the connection
// manager reports "credentials not ready". The manager deliberately does
// not retry that condition on its own; a future explicit call has to ask
// again, and the watcher is that caller.
type Watcher struct {
	cfg    Config
	conn   Connector
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a session watcher.
func New(cfg Config, conn Connector, logger *slog.Logger) *Watcher {
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = DefaultConfig().ProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
	}
}

// Start begins probing.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("session watcher started", "probe_interval", w.cfg.ProbeInterval)
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("session watcher stopped")
	case <-ctx.Done():
		w.logger.Warn("session watcher stop timed out")
	}
	return nil
}

// run probes until a connection exists, then idles, resuming if the
// connection disappears for good (e.g. the call ended and a new session
// has to be found).
func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if w.conn.IsConnected() {
				continue
			}
			w.probe()
		}
	}
}

// probe asks the manager for a connection once. "Not ready" is expected
// and quiet; real errors are logged and left to the next tick.
func (w *Watcher) probe() {
	tr, err := w.conn.EstablishConnection(w.ctx)
	if err != nil {
		w.logger.Warn("session probe failed", "error", err)
		return
	}
	if tr == nil {
		w.logger.Debug("no call session available yet")
		return
	}
	w.logger.Info("call session connected")
	if w.cfg.OnConnect != nil {
		w.cfg.OnConnect()
	}
}
