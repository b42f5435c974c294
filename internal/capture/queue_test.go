// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vigil-ac/vigil/internal/metrics"
)

func testRecord(entityID string) *PacketRecord {
	return NewPacketRecord(Serverbound, "player_move", entityID, "", nil)
}

func TestTryEnqueueDropOnFull(t *testing.T) {
	q := NewBoundedEventQueue(4)

	for i := range 4 {
		if !q.TryEnqueue(testRecord("e")) {
			t.Fatalf("enqueue %d should succeed", i)
		}
	}

	// Sustained overflow: occupancy pinned at capacity, excess dropped.
	for range 100 {
		if q.TryEnqueue(testRecord("e")) {
			t.Fatal("enqueue should fail when queue is full")
		}
	}

	if q.Len() != 4 {
		t.Errorf("occupancy = %d, want capacity 4", q.Len())
	}
	if q.Dropped() != 100 {
		t.Errorf("dropped = %d, want 100", q.Dropped())
	}
	if q.Enqueued() != 4 {
		t.Errorf("enqueued = %d, want 4", q.Enqueued())
	}
}

func TestTryEnqueueNeverBlocks(t *testing.T) {
	q := NewBoundedEventQueue(1)
	q.TryEnqueue(testRecord("e"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10000 {
			q.TryEnqueue(testRecord("e"))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("TryEnqueue blocked on a full queue")
	}
}

func TestQueueDepthGaugeRefreshedOnDrop(t *testing.T) {
	q := NewBoundedEventQueue(2)
	q.TryEnqueue(testRecord("e"))
	q.TryEnqueue(testRecord("e"))
	q.TryEnqueue(testRecord("e")) // dropped, but the gauge still refreshes

	if got := testutil.ToFloat64(metrics.QueueDepth); got != 2 {
		t.Errorf("queue depth gauge = %v at capacity, want 2", got)
	}
}

func TestQueueDrainOrder(t *testing.T) {
	q := NewBoundedEventQueue(8)
	for i := range 3 {
		rec := testRecord("e")
		rec.Fields = map[string]any{"seq": i}
		q.TryEnqueue(rec)
	}

	for want := range 3 {
		rec := <-q.Records()
		if got := rec.Fields["seq"].(int); got != want {
			t.Errorf("drained seq %d, want %d (FIFO order)", got, want)
		}
	}
}
