// Package delivery records the broker outcome of every dispatched event so that
// fire-and-forget callers can look it up after the fact.
package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/metrics"
	"github.com/jmehdipour/ingest-gateway/internal/model"
)

// Recorder accepts delivery records. Record must not block the caller.
type Recorder interface {
	Record(d model.Delivery)
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(model.Delivery) {}

// Store persists batches of delivery records.
type Store interface {
	InsertBatch(ctx context.Context, ds []model.Delivery) error
}

// BatchWriter buffers records and flushes them to a Store by size or time.
type BatchWriter struct {
	store     Store
	log       *zap.Logger
	batchSize int
	batchWait time.Duration

	mu     sync.RWMutex
	closed bool
	in     chan model.Delivery
	done   chan struct{}
}

func NewBatchWriter(store Store, cfg config.DeliveriesConfig, log *zap.Logger) *BatchWriter {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 300 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &BatchWriter{
		store:     store,
		log:       log,
		batchSize: cfg.BatchSize,
		batchWait: cfg.BatchWait,
		in:        make(chan model.Delivery, cfg.Buffer),
		done:      make(chan struct{}),
	}
}

// Record enqueues d, dropping it when the buffer is full or the writer is closed.
func (w *BatchWriter) Record(d model.Delivery) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		metrics.DeliveriesFlushed.WithLabelValues("dropped").Inc()
		return
	}

	select {
	case w.in <- d:
	default:
		metrics.DeliveriesFlushed.WithLabelValues("dropped").Inc()
		w.log.Warn("delivery buffer full, record dropped", zap.String("id", d.ID))
	}
}

// Run flushes until Close is called or ctx is cancelled.
func (w *BatchWriter) Run(ctx context.Context) {
	defer close(w.done)

	tick := time.NewTicker(w.batchWait)
	defer tick.Stop()

	batch := make([]model.Delivery, 0, w.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := w.store.InsertBatch(fctx, batch); err != nil {
			metrics.DeliveriesFlushed.WithLabelValues("error").Add(float64(len(batch)))
			w.log.Error("delivery batch insert failed", zap.Int("records", len(batch)), zap.Error(err))
		} else {
			metrics.DeliveriesFlushed.WithLabelValues("ok").Add(float64(len(batch)))
			w.log.Debug("delivery batch flushed", zap.Int("records", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case d, ok := <-w.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, d)
			if len(batch) >= w.batchSize {
				flush()
			}

		case <-tick.C:
			flush()
		}
	}
}

// Close stops accepting records and waits for Run to flush what is buffered.
func (w *BatchWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.in)
	}
	w.mu.Unlock()
	<-w.done
}
