package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]model.Delivery
	err     error
}

func (s *memStore) InsertBatch(_ context.Context, ds []model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]model.Delivery(nil), ds...))
	return s.err
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestBatchWriter_FlushesBySize(t *testing.T) {
	store := &memStore{}
	w := NewBatchWriter(store, config.DeliveriesConfig{BatchSize: 3, BatchWait: time.Hour}, nil)
	go w.Run(context.Background())

	for i := 0; i < 7; i++ {
		w.Record(model.Delivery{ID: string(rune('a' + i)), Status: model.DeliveryAcked})
	}

	require.Eventually(t, func() bool { return store.total() == 6 }, time.Second, 5*time.Millisecond)

	w.Close()
	assert.Equal(t, 7, store.total())
	assert.Len(t, store.batches, 3)
}

func TestBatchWriter_FlushesByTime(t *testing.T) {
	store := &memStore{}
	w := NewBatchWriter(store, config.DeliveriesConfig{BatchSize: 100, BatchWait: 10 * time.Millisecond}, nil)
	go w.Run(context.Background())
	defer w.Close()

	w.Record(model.Delivery{ID: "x", Status: model.DeliveryFailed, Error: "boom"})

	assert.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatchWriter_StoreErrorKeepsRunning(t *testing.T) {
	store := &memStore{err: errors.New("clickhouse down")}
	w := NewBatchWriter(store, config.DeliveriesConfig{BatchSize: 1, BatchWait: time.Hour}, nil)
	go w.Run(context.Background())

	w.Record(model.Delivery{ID: "1"})
	w.Record(model.Delivery{ID: "2"})
	w.Close()

	assert.Equal(t, 2, store.total())
}

func TestBatchWriter_RecordAfterCloseIsDropped(t *testing.T) {
	store := &memStore{}
	w := NewBatchWriter(store, config.DeliveriesConfig{}, nil)
	go w.Run(context.Background())
	w.Close()
	w.Close()

	w.Record(model.Delivery{ID: "late"})
	assert.Zero(t, store.total())
}

func TestBatchWriter_FullBufferDrops(t *testing.T) {
	store := &memStore{}
	w := NewBatchWriter(store, config.DeliveriesConfig{Buffer: 1, BatchSize: 10, BatchWait: time.Hour}, nil)

	// not running yet, so the second record finds the buffer full
	w.Record(model.Delivery{ID: "1"})
	w.Record(model.Delivery{ID: "2"})

	go w.Run(context.Background())
	w.Close()
	assert.Equal(t, 1, store.total())
}

func TestBatchWriter_ContextCancelFlushes(t *testing.T) {
	store := &memStore{}
	w := NewBatchWriter(store, config.DeliveriesConfig{BatchSize: 10, BatchWait: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	w.Record(model.Delivery{ID: "1"})
	go w.Run(ctx)
	require.Eventually(t, func() bool { return len(w.in) == 0 }, time.Second, time.Millisecond)

	cancel()
	<-w.done
	assert.Equal(t, 1, store.total())
}
