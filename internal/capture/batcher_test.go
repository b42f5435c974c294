// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vigil-ac/vigil/internal/metrics"
)

// collectSink records every batch it receives.
type collectSink struct {
	mu      sync.Mutex
	batches []*PacketBatch
	gotOne  chan struct{}
}

func newCollectSink() *collectSink {
	return &collectSink{gotOne: make(chan struct{}, 16)}
}

func (s *collectSink) WriteBatch(_ context.Context, batch *PacketBatch) error {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	s.gotOne <- struct{}{}
	return nil
}

func (s *collectSink) snapshot() []*PacketBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PacketBatch, len(s.batches))
	copy(out, s.batches)
	return out
}

func waitForBatch(t *testing.T, sink *collectSink) {
	t.Helper()
	select {
	case <-sink.gotOne:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	queue := NewBoundedEventQueue(64)
	sink := newCollectSink()
	b := NewBatcher(queue, sink, "src-1", "sess-1", 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx) //nolint:errcheck // exits via cancel

	for range 5 {
		queue.TryEnqueue(testRecord("e"))
	}

	waitForBatch(t, sink)
	batches := sink.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if batches[0].RecordCount != 5 {
		t.Errorf("record count = %d, want 5", batches[0].RecordCount)
	}
	if batches[0].SourceID != "src-1" || batches[0].SessionID != "sess-1" {
		t.Errorf("batch metadata = %q/%q, want src-1/sess-1",
			batches[0].SourceID, batches[0].SessionID)
	}
}

func TestBatcherFlushesOnTimeout(t *testing.T) {
	queue := NewBoundedEventQueue(64)
	sink := newCollectSink()
	b := NewBatcher(queue, sink, "src-1", "sess-1", 100, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx) //nolint:errcheck // exits via cancel

	queue.TryEnqueue(testRecord("e"))
	queue.TryEnqueue(testRecord("e"))

	waitForBatch(t, sink)
	batches := sink.snapshot()
	if len(batches) != 1 || batches[0].RecordCount != 2 {
		t.Fatalf("expected one 2-record batch after wait expiry, got %+v", batches)
	}
}

func TestQueueDepthGaugeFallsAsBatcherDrains(t *testing.T) {
	queue := NewBoundedEventQueue(8)
	sink := newCollectSink()
	b := NewBatcher(queue, sink, "src-1", "sess-1", 4, time.Hour)

	for range 4 {
		queue.TryEnqueue(testRecord("e"))
	}
	if got := testutil.ToFloat64(metrics.QueueDepth); got != 4 {
		t.Fatalf("queue depth gauge = %v after burst, want 4", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx) //nolint:errcheck // exits via cancel

	waitForBatch(t, sink)
	if got := testutil.ToFloat64(metrics.QueueDepth); got != 0 {
		t.Errorf("queue depth gauge = %v after drain, want 0", got)
	}
}

func TestBatcherFlushesPartialOnShutdown(t *testing.T) {
	queue := NewBoundedEventQueue(64)
	sink := newCollectSink()
	b := NewBatcher(queue, sink, "src-1", "sess-1", 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Serve(ctx) //nolint:errcheck // exits via cancel
	}()

	queue.TryEnqueue(testRecord("e"))
	// Give the batcher a moment to drain the record into its pending set.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	batches := sink.snapshot()
	if len(batches) != 1 || batches[0].RecordCount != 1 {
		t.Fatalf("expected final partial batch on shutdown, got %+v", batches)
	}
}
