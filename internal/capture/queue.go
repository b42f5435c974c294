// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"sync/atomic"

	"github.com/vigil-ac/vigil/internal/metrics"
)

// BoundedEventQueue is the fixed-capacity handoff between capture
// callbacks and the batching goroutine. TryEnqueue never blocks: when
// the queue is full the record is dropped and counted. Correctness of
// the capture path must never depend on the queue having room.
type BoundedEventQueue struct {
	ch       chan *PacketRecord
	dropped  atomic.Int64
	enqueued atomic.Int64
}

// NewBoundedEventQueue creates a queue with the given fixed capacity.
func NewBoundedEventQueue(capacity int) *BoundedEventQueue {
	return &BoundedEventQueue{
		ch: make(chan *PacketRecord, capacity),
	}
}

// TryEnqueue offers a record to the queue. Returns false (and drops the
// record) when the queue is full. Never blocks.
func (q *BoundedEventQueue) TryEnqueue(rec *PacketRecord) bool {
	select {
	case q.ch <- rec:
		q.enqueued.Add(1)
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		q.dropped.Add(1)
		metrics.QueueDepth.Set(float64(len(q.ch)))
		metrics.CaptureRecords.WithLabelValues("queue_full").Inc()
		return false
	}
}

// Records exposes the drain side to the batcher.
func (q *BoundedEventQueue) Records() <-chan *PacketRecord {
	return q.ch
}

// Len returns the current occupancy.
func (q *BoundedEventQueue) Len() int {
	return len(q.ch)
}

// Cap returns the fixed capacity.
func (q *BoundedEventQueue) Cap() int {
	return cap(q.ch)
}

// Dropped returns the total records dropped due to overflow.
func (q *BoundedEventQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Enqueued returns the total records accepted.
func (q *BoundedEventQueue) Enqueued() int64 {
	return q.enqueued.Load()
}
