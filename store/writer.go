package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/types"
)

// DefaultWriterQueueSize bounds the pending write queue when the
// configured value is zero.
const DefaultWriterQueueSize = 1024

// writeTimeout bounds each store call so a wedged database cannot pin the
// writer goroutine forever.
const writeTimeout = 10 * time.Second

// Writer moves store writes off the live event path. Callers enqueue and
// return immediately; one background goroutine applies writes in enqueue
// order. A full queue or a failed write is counted and logged, never
// propagated.
type Writer struct {
	store     Store
	logger    *log.Logger
	collector *metrics.Collector

	ops chan func(ctx context.Context) error

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewWriter starts the background writer. queueSize bounds the pending
// queue; zero selects DefaultWriterQueueSize. Call Close to drain and stop.
func NewWriter(s Store, logger *log.Logger, collector *metrics.Collector, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultWriterQueueSize
	}
	w := &Writer{
		store:     s,
		logger:    logger,
		collector: collector,
		ops:       make(chan func(ctx context.Context) error, queueSize),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := op(ctx)
		cancel()
		if err != nil {
			w.collector.IncStoreWriteFailure()
			w.logger.Error("store write failed", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		w.collector.IncStoreWriteSuccess()
	}
}

// enqueue hands the operation to the background goroutine. Never blocks:
// when the queue is full the write is dropped and counted as a failure.
func (w *Writer) enqueue(op func(ctx context.Context) error) {
	if w == nil || w.closed.Load() {
		return
	}
	select {
	case w.ops <- op:
	default:
		w.collector.IncStoreWriteFailure()
		w.logger.Warn("store write queue full, write dropped", nil)
	}
}

// RecordSession persists the session row.
func (w *Writer) RecordSession(record SessionRecord) {
	w.enqueue(func(ctx context.Context) error {
		return w.store.AppendSession(ctx, record)
	})
}

// RecordStatus persists a session status transition.
func (w *Writer) RecordStatus(sessionID string, status types.SessionStatus, endedAt *int64) {
	w.enqueue(func(ctx context.Context) error {
		return w.store.UpdateSessionStatus(ctx, sessionID, status, endedAt)
	})
}

// RecordFragment persists one raw fragment.
func (w *Writer) RecordFragment(record MessageRecord) {
	w.enqueue(func(ctx context.Context) error {
		return w.store.AppendMessage(ctx, record)
	})
}

// RecordEvent persists one translated event's metadata.
func (w *Writer) RecordEvent(record EventMetaRecord) {
	w.enqueue(func(ctx context.Context) error {
		return w.store.AppendEventMeta(ctx, record)
	})
}

// Close stops accepting writes, drains the queue, and waits for the
// background goroutine to finish. Safe to call more than once. Safe on a
// nil writer.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.ops)
	})
	<-w.done
}
