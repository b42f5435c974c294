// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"context"
	"time"

	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/metrics"
)

// BatchSink receives assembled batches. The durable spool implements
// this; tests substitute their own.
type BatchSink interface {
	WriteBatch(ctx context.Context, batch *PacketBatch) error
}

// Batcher drains the bounded queue into batches: it flushes when either
// MaxBatchSize records are collected or MaxBatchWait has elapsed since
// the first record of the batch, whichever comes first. One Batcher
// goroutine runs per capture source; spool writes may block on disk and
// never share a thread with packet capture.
//
// Batcher implements suture.Service via Serve.
type Batcher struct {
	queue        *BoundedEventQueue
	sink         BatchSink
	sourceID     string
	sessionID    string
	maxBatchSize int
	maxBatchWait time.Duration
}

// NewBatcher creates a batcher for one capture source.
func NewBatcher(queue *BoundedEventQueue, sink BatchSink, sourceID, sessionID string, maxBatchSize int, maxBatchWait time.Duration) *Batcher {
	return &Batcher{
		queue:        queue,
		sink:         sink,
		sourceID:     sourceID,
		sessionID:    sessionID,
		maxBatchSize: maxBatchSize,
		maxBatchWait: maxBatchWait,
	}
}

// Serve drains the queue until the context is canceled. A final partial
// batch is flushed on shutdown so buffered records reach the spool.
func (b *Batcher) Serve(ctx context.Context) error {
	logging.Info().
		Str("source_id", b.sourceID).
		Int("max_batch_size", b.maxBatchSize).
		Dur("max_batch_wait", b.maxBatchWait).
		Msg("batcher started")

	pending := make([]*PacketRecord, 0, b.maxBatchSize)
	timer := time.NewTimer(b.maxBatchWait)
	defer timer.Stop()
	timer.Stop() // armed when the first record of a batch arrives

	for {
		select {
		case <-ctx.Done():
			b.flush(pending)
			logging.Info().Str("source_id", b.sourceID).Msg("batcher stopped")
			return ctx.Err()

		case rec := <-b.queue.Records():
			// The gauge is also set on enqueue; updating it here keeps it
			// falling as the queue drains instead of reading stale after
			// a burst.
			metrics.QueueDepth.Set(float64(b.queue.Len()))
			if len(pending) == 0 {
				timer.Reset(b.maxBatchWait)
			}
			pending = append(pending, rec)
			if len(pending) >= b.maxBatchSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				b.flush(pending)
				pending = pending[:0]
			}

		case <-timer.C:
			if len(pending) > 0 {
				b.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

// flush hands the pending records to the sink as one batch. The records
// slice is copied; the caller may reuse its backing array.
func (b *Batcher) flush(pending []*PacketRecord) {
	if len(pending) == 0 {
		return
	}
	records := make([]*PacketRecord, len(pending))
	copy(records, pending)

	batch := NewPacketBatch(b.sourceID, b.sessionID, records)
	metrics.BatchesAssembled.Inc()

	// Spool failure is an accepted loss boundary: log it, drop the
	// batch, keep draining. Future batches retry the disk.
	if err := b.sink.WriteBatch(context.Background(), batch); err != nil {
		logging.Error().Err(err).
			Str("batch_id", batch.BatchID).
			Int("records", batch.RecordCount).
			Msg("spool write failed, batch lost")
	}
}
