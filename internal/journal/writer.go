package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/voxform/callstream/internal/events"
)

// Batcher is the slice of the pgx pool the writer needs. Satisfied by
// *pgxpool.Pool.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds journal writer settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	// BufferSize caps the number of pending entries; past it, new entries
	// are dropped rather than blocking the event dispatch path.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics contains runtime counters.
type Metrics struct {
	Inserts int64
	Errors  int64
	Flushes int64
	Dropped int64
}

// Entry is one journaled call event.
type Entry struct {
	Event      string
	CallID     string
	Payload    []byte
	ReceivedAt time.Time
}

// Writer batches inbound call events into the append-only call_events
// table. Record never blocks the caller: entries accumulate in memory
// and are flushed on size or interval.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	db Batcher

	batchMu sync.Mutex
	batch   []Entry
	metrics Metrics

	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a journal writer.
func NewWriter(cfg Config, db Batcher, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		ctx:    context.Background(),
		batch:  make([]Entry, 0, cfg.BatchSize),
	}
}

// Start begins the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing anything pending.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Final flush on the caller's context; the run context is already
	// canceled and would fail every insert.
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Record appends an entry for the next flush. Never blocks; entries past
// the buffer cap are counted and dropped.
func (w *Writer) Record(entry Entry) {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now()
	}

	w.batchMu.Lock()
	if len(w.batch) >= w.cfg.BufferSize {
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("journal buffer full, dropping entry", "event", entry.Event)
		return
	}
	w.batch = append(w.batch, entry)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// Handler returns an event callback that journals payloads under the
// given event name, pulling the call ID out of the payload when present.
func (w *Writer) Handler(event string) events.Handler {
	return func(payload json.RawMessage) {
		w.Record(Entry{
			Event:   event,
			CallID:  extractCallID(payload),
			Payload: payload,
		})
	}
}

// extractCallID pulls the callId field from a payload, if any.
func extractCallID(payload json.RawMessage) string {
	var probe struct {
		CallID string `json:"callId"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.CallID
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Entry, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed call events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts entries using pgx.Batch. The journal is append-only.
func (w *Writer) batchInsert(ctx context.Context, entries []Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO call_events (received_at, event, call_id, payload)
			VALUES ($1, $2, $3, $4)
		`, e.ReceivedAt.UnixMicro(), e.Event, e.CallID, e.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
