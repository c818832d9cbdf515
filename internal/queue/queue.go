package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zeromicro/go-zero/core/logx"

	"candles-api/internal/storage"
	"candles-api/pkg/candles"
)

// notifyAfterFailures is how many consecutive dispatch failures are
// tolerated before the batch is escalated to the failed-write channel.
const notifyAfterFailures = 3

// PersistenceQueue decouples high-frequency cache updates from storage
// writes. Candles are buffered in enqueue order and drained in timed
// batches; a failed batch goes back to the front of the queue for the
// next tick, giving at-least-once delivery (duplicates merge safely in
// storage).
type PersistenceQueue struct {
	mu      sync.Mutex
	pending []candles.Candle

	repo     storage.HistoryRepository
	notifier Notifier

	dispatched    atomic.Int64
	failureStreak int
}

// NewPersistenceQueue wires the queue to its durable sink and the
// operator notification channel.
func NewPersistenceQueue(repo storage.HistoryRepository, notifier Notifier) *PersistenceQueue {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &PersistenceQueue{repo: repo, notifier: notifier}
}

// Enqueue appends a candle to the pending sequence. Safe to call
// concurrently with dispatch.
func (q *PersistenceQueue) Enqueue(c candles.Candle) {
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()
}

// Len reports the current pending length for backpressure monitoring.
func (q *PersistenceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DispatchedTotal reports how many candles have been durably written.
func (q *PersistenceQueue) DispatchedTotal() int64 {
	return q.dispatched.Load()
}

// DispatchToPersist drains up to maxBatch oldest entries and writes them
// through the history repository, one InsertOrMerge per series. On any
// failure the whole batch is returned to the front of the queue; after
// several consecutive failures the batch is also reported on the
// failed-write channel.
func (q *PersistenceQueue) DispatchToPersist(ctx context.Context, maxBatch int) error {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	n := len(q.pending)
	if maxBatch > 0 && maxBatch < n {
		n = maxBatch
	}
	batch := make([]candles.Candle, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	q.mu.Unlock()

	if err := q.persistBatch(ctx, batch); err != nil {
		q.requeue(batch)
		q.mu.Lock()
		q.failureStreak++
		streak := q.failureStreak
		q.mu.Unlock()
		logx.WithContext(ctx).Errorf("persistqueue: dispatch failed size=%d streak=%d err=%v", len(batch), streak, err)
		if streak >= notifyAfterFailures {
			q.notifier.NotifyFailedWrites(ctx, batch, err)
		}
		return err
	}

	q.mu.Lock()
	q.failureStreak = 0
	q.mu.Unlock()
	q.dispatched.Add(int64(len(batch)))
	return nil
}

// State returns the pending sequence verbatim for snapshotting.
func (q *PersistenceQueue) State() []candles.Candle {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]candles.Candle, len(q.pending))
	copy(out, q.pending)
	return out
}

// SetState replaces the pending sequence, used at startup restore.
func (q *PersistenceQueue) SetState(state []candles.Candle) {
	q.mu.Lock()
	q.pending = make([]candles.Candle, len(state))
	copy(q.pending, state)
	q.mu.Unlock()
}

func (q *PersistenceQueue) persistBatch(ctx context.Context, batch []candles.Candle) error {
	type groupKey struct {
		pair     string
		interval candles.Interval
		price    candles.PriceType
	}
	groups := make(map[groupKey][]candles.Candle)
	order := make([]groupKey, 0)
	for _, c := range batch {
		key := groupKey{pair: c.AssetPairID, interval: c.Interval, price: c.PriceType}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	for _, key := range order {
		if err := q.repo.InsertOrMerge(ctx, groups[key], key.pair, key.interval, key.price); err != nil {
			return err
		}
	}
	return nil
}

func (q *PersistenceQueue) requeue(batch []candles.Candle) {
	q.mu.Lock()
	q.pending = append(batch, q.pending...)
	q.mu.Unlock()
}
