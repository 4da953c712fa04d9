package learning

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/metrics"
)

const defaultFlushInterval = 2 * time.Second

// Flusher batches learned-statistics writes. Schedule arms a timer and every
// call made before it fires is folded into one Save.
type Flusher struct {
	backend  Backend
	source   func() map[string]Stats
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	saveMu sync.Mutex
	// released is set once the backend is closed; guarded by saveMu.
	released bool
}

// NewFlusher creates a flusher writing snapshots taken from source into backend.
func NewFlusher(backend Backend, source func() map[string]Stats, interval time.Duration, logger *zap.Logger) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Flusher{
		backend:  backend,
		source:   source,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Schedule requests a flush after the debounce interval.
func (f *Flusher) Schedule() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.timer != nil {
		return
	}
	f.timer = time.AfterFunc(f.interval, func() {
		f.mu.Lock()
		f.timer = nil
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		// failures are logged and counted inside Flush
		_ = f.Flush(ctx)
	})
}

// Flush writes the current snapshot immediately. It is a no-op once Close
// has released the backend.
func (f *Flusher) Flush(ctx context.Context) error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	if f.released {
		return nil
	}
	return f.save(ctx)
}

func (f *Flusher) save(ctx context.Context) error {
	snapshot := f.source()
	start := time.Now()
	if err := f.backend.Save(ctx, snapshot); err != nil {
		metrics.PersistenceFailures.Inc()
		f.logger.Error("Failed to persist learned statistics",
			zap.Int("rules", len(snapshot)),
			zap.Error(err))
		return dqerr.Persistence("flush", err)
	}

	metrics.Flushes.Inc()
	f.logger.Debug("Learned statistics flushed",
		zap.Int("rules", len(snapshot)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Close cancels any pending timer, performs a final flush and closes the backend.
func (f *Flusher) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	// saveMu is held until the backend is closed so an in-flight timer
	// flush either finishes first or sees released.
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	flushErr := f.save(ctx)
	if err := f.backend.Close(); err != nil {
		f.logger.Warn("Failed to close learning backend", zap.Error(err))
	}
	f.released = true
	return flushErr
}
