package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/exchange-stream/internal/event"
	"github.com/rickgao/exchange-stream/internal/queue"
)

// ErrClosed is returned by Publish after Stop.
var ErrClosed = errors.New("journal closed")

// Batcher is satisfied by *pgxpool.Pool.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer batching settings.
type Config struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	MaxRetries    int           // Retries per failed batch
	RetryBackoff  time.Duration // Initial retry interval
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
		MaxRetries:    3,
		RetryBackoff:  200 * time.Millisecond,
	}
}

// Metrics tracks writer performance.
type Metrics struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Flushes   int64 `json:"flushes"`
	Retries   int64 `json:"retries"`
	Errors    int64 `json:"errors"`
	Dropped   int64 `json:"dropped"`
}

// Writer batches events into the connection_events table.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     Batcher

	input *queue.Ring[event.Event]

	// Batching
	batch   []event.Event
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewWriter creates a Writer. Call Start before publishing.
func NewWriter(cfg Config, db Batcher, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}

	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "journal"),
		db:     db,
		input:  queue.NewRing[event.Event](cfg.BufferSize),
		batch:  make([]event.Event, 0, cfg.BatchSize),
	}
}

// Publish queues ev for writing. It never blocks; when the buffer is full
// the oldest queued event is dropped.
func (w *Writer) Publish(_ context.Context, ev event.Event) error {
	w.batchMu.Lock()
	closed := w.ctx != nil && w.ctx.Err() != nil
	w.batchMu.Unlock()
	if closed {
		return ErrClosed
	}

	if w.input.Push(ev) {
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
	}
	return nil
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.batchMu.Lock()
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.batchMu.Unlock()

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the loops and writes whatever is still buffered, bounded by
// ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	w.input.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Final flush of the batch and anything still queued
	for _, ev := range w.input.Drain(0) {
		w.add(ev)
	}
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		ev, ok := w.input.Pop()
		if !ok {
			return
		}
		full := w.add(ev)
		if w.ctx.Err() != nil {
			return // Stop flushes the rest
		}
		if full {
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends ev to the batch and reports whether the batch is full.
func (w *Writer) add(ev event.Event) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, ev)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch, retrying with exponential backoff.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]event.Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryBackoff

	conflicts, err := backoff.Retry(ctx, func() (int, error) {
		return w.batchInsert(ctx, batch)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			w.batchMu.Lock()
			w.metrics.Retries++
			w.batchMu.Unlock()
			w.logger.Warn("batch insert failed, retrying", "error", err, "backoff", d)
		}),
	)
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown; keep the rows for the final flush.
		w.batchMu.Lock()
		w.batch = append(batch, w.batch...)
		w.batchMu.Unlock()
		return
	}
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

const insertEvent = `
	INSERT INTO connection_events (id, instance_id, type, source, symbol, state, message, payload, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, events []event.Event) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEvent,
			ev.ID, w.cfg.InstanceID, string(ev.Type), ev.Source,
			ev.Symbol, ev.State, ev.Message, ev.Payload, ev.Time,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
