// ABOUTME: Bounded background writer that drains audit records to the store off the request path.
// ABOUTME: Enqueue never blocks; overflow and write failures are logged, never surfaced to callers.

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultQueueSize = 256

// writeTimeout bounds a single store write so one slow insert cannot stall
// the drain goroutine indefinitely.
const writeTimeout = 10 * time.Second

// queueItem is one unit of work for the drain goroutine. A non-nil flushed
// channel marks a barrier: the goroutine closes it once every record enqueued
// before the barrier has been written.
type queueItem struct {
	rec     *Record
	flushed chan struct{}
}

// Writer decouples audit persistence from the request path. Records are
// enqueued onto a bounded channel and written by a single background
// goroutine. A full queue drops the record rather than blocking the caller.
type Writer struct {
	store  Store
	queue  chan queueItem
	logger *slog.Logger

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewWriter starts a background writer draining into the given store.
// queueSize <= 0 selects the default of 256.
func NewWriter(store Store, queueSize int, logger *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Writer{
		store:  store,
		queue:  make(chan queueItem, queueSize),
		logger: logger.With("component", "audit_writer"),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Enqueue submits a record for persistence. It never blocks and never fails
// the caller: when the queue is full or the writer is closed, the record is
// dropped and logged.
func (w *Writer) Enqueue(rec *Record) {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		w.logger.Warn("audit record dropped: writer closed", "call_id", rec.CallID)
		return
	}
	select {
	case w.queue <- queueItem{rec: rec}:
		w.closeMu.Unlock()
	default:
		w.closeMu.Unlock()
		w.logger.Error("audit record dropped: queue full",
			"call_id", rec.CallID,
			"tool", rec.ToolName,
		)
	}
}

// Flush blocks until every record enqueued before the call has been written.
// The writer stays open. A closed writer has nothing pending, so Flush
// returns immediately.
func (w *Writer) Flush() {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return
	}
	done := make(chan struct{})
	// The barrier must queue behind earlier records, so this send waits for
	// capacity instead of dropping. The mutex stays held to keep Close from
	// closing the channel mid-send; the drain goroutine never takes it.
	w.queue <- queueItem{flushed: done}
	w.closeMu.Unlock()
	<-done
}

// Close stops accepting records, drains the queue, and waits for the
// background goroutine to finish. Safe to call multiple times.
func (w *Writer) Close() {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.closeMu.Unlock()

	w.wg.Wait()
}

func (w *Writer) drain() {
	defer w.wg.Done()

	for item := range w.queue {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w.store.SaveToolCall(ctx, item.rec); err != nil {
			w.logger.Error("audit write failed",
				"call_id", item.rec.CallID,
				"tool", item.rec.ToolName,
				"error", err,
			)
		}
		cancel()
	}
}
