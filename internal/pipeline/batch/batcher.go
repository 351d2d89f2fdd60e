// Package batch accumulates accepted events and flushes them by size or
// elapsed time, whichever triggers first.
package batch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/metrics"
)

// Batch is an immutable, ordered group of events flushed together.
type Batch struct {
	ID        string
	Events    []domain.ChainEvent
	CreatedAt time.Time
}

// FlushFunc receives a flushed batch. Callbacks run in registration order
// and must not call back into the batcher.
type FlushFunc func(Batch)

// Batcher buffers events until batchSize is reached or the timeout fires.
// A flush never emits an empty batch; a flushed batch is never reused.
type Batcher struct {
	size    int
	timeout time.Duration
	log     *slog.Logger

	mu        sync.Mutex
	buf       []domain.ChainEvent
	createdAt time.Time
	timer     *time.Timer
	callbacks []FlushFunc
	closed    bool
}

// New creates a batcher flushing at batchSize events or after timeout.
func New(batchSize int, timeout time.Duration, log *slog.Logger) *Batcher {
	if log == nil {
		log = slog.Default()
	}
	return &Batcher{
		size:    batchSize,
		timeout: timeout,
		log:     log.With("component", "batcher"),
	}
}

// OnFlush registers a callback invoked for every flushed batch.
func (b *Batcher) OnFlush(cb FlushFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

// Add appends an event to the buffer. The first event of a batch arms the
// flush timer; reaching batchSize flushes immediately.
func (b *Batcher) Add(ev domain.ChainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if len(b.buf) == 0 {
		b.createdAt = time.Now()
		b.timer = time.AfterFunc(b.timeout, b.onTimeout)
	}
	b.buf = append(b.buf, ev)

	if len(b.buf) >= b.size {
		b.flushLocked("size")
	}
}

// Flush forces an out-of-band flush of a non-empty partial buffer.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked("forced")
}

// Close cancels any armed timer and drops further adds. It does not flush;
// callers flush first during shutdown.
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimerLocked()
}

// Len returns the current buffer length.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *Batcher) onTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked("timeout")
}

// flushLocked hands the buffer to every callback and clears it.
// Caller holds the mutex; callbacks run under it so batches stay FIFO.
func (b *Batcher) flushLocked(trigger string) {
	if len(b.buf) == 0 {
		return
	}
	b.stopTimerLocked()

	flushed := Batch{
		ID:        uuid.New().String(),
		Events:    b.buf,
		CreatedAt: b.createdAt,
	}
	b.buf = nil

	metrics.BatchesFlushed.WithLabelValues(trigger).Inc()
	metrics.BatchSize.Observe(float64(len(flushed.Events)))
	b.log.Debug("Flushing batch", "id", flushed.ID, "events", len(flushed.Events), "trigger", trigger)

	for _, cb := range b.callbacks {
		cb(flushed)
	}
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
