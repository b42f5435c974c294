// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/spool"
	"github.com/vigil-ac/vigil/internal/storage"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	batches []*capture.PacketBatch
	err     error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, batch *capture.PacketBatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, batch)
	return d.err
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func testDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return db
}

func testService(t *testing.T) (*Service, *recordingDispatcher) {
	t.Helper()
	store, err := NewObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	disp := &recordingDispatcher{}
	return NewService(store, NewBatchIndex(testDB(t)), disp, 32<<20), disp
}

func encodedBatch(t *testing.T, records int) (*capture.PacketBatch, []byte) {
	t.Helper()
	recs := make([]*capture.PacketRecord, 0, records)
	for i := range records {
		recs = append(recs, capture.NewPacketRecord(
			capture.Serverbound, "player_move", "e1", "Player One",
			map[string]any{"seq": i}))
	}
	batch := capture.NewPacketBatch("src-1", "sess-1", recs)
	data, err := spool.EncodeBatch(batch)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	return batch, data
}

func TestIngestIndexesAndDispatches(t *testing.T) {
	svc, disp := testService(t)
	batch, data := encodedBatch(t, 5)

	res, err := svc.Ingest(context.Background(), data, "10.0.0.1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != "indexed" || res.BatchID != batch.BatchID || res.RecordCount != 5 {
		t.Errorf("result = %+v, want indexed/%s/5", res, batch.BatchID)
	}
	if disp.count() != 1 {
		t.Errorf("dispatched %d batches, want 1", disp.count())
	}

	entry, err := svc.index.Get(batch.BatchID)
	if err != nil {
		t.Fatalf("index.Get: %v", err)
	}
	if entry.SourceID != "src-1" || entry.RecordCount != 5 || entry.SizeBytes != len(data) {
		t.Errorf("index entry = %+v", entry)
	}
	if !svc.store.Has(entry.ObjectKey) {
		t.Error("object key not present in store")
	}

	// Stored payload round-trips to the original batch.
	stored, err := svc.store.Get(entry.ObjectKey)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	decoded, err := spool.DecodeBatch(stored)
	if err != nil {
		t.Fatalf("DecodeBatch(stored): %v", err)
	}
	if decoded.BatchID != batch.BatchID || len(decoded.Records) != 5 {
		t.Errorf("stored payload decoded to %s/%d records", decoded.BatchID, len(decoded.Records))
	}
}

func TestIngestDuplicateIsNoOpSuccess(t *testing.T) {
	svc, disp := testService(t)
	_, data := encodedBatch(t, 3)

	first, err := svc.Ingest(context.Background(), data, "10.0.0.1")
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := svc.Ingest(context.Background(), data, "10.0.0.1")
	if err != nil {
		t.Fatalf("duplicate Ingest: %v", err)
	}

	if second.Status != "duplicate" || second.BatchID != first.BatchID {
		t.Errorf("duplicate result = %+v", second)
	}
	if disp.count() != 1 {
		t.Errorf("dispatched %d times, want 1 (duplicates are not re-dispatched)", disp.count())
	}
}

func TestIngestMalformedPayload(t *testing.T) {
	svc, disp := testService(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"not gzip", []byte("plain text")},
		{"gzip garbage", append([]byte{0x1f, 0x8b}, []byte("junk")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), tt.body, "10.0.0.1")
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Ingest(%s) = %v, want ErrMalformed", tt.name, err)
			}
		})
	}
	if disp.count() != 0 {
		t.Errorf("malformed input reached the dispatcher %d times", disp.count())
	}
}

func TestIngestRejectionIndexesNothing(t *testing.T) {
	svc, _ := testService(t)

	if _, err := svc.Ingest(context.Background(), []byte("not a batch"), "10.0.0.1"); err == nil {
		t.Fatal("expected error for garbage payload")
	}
	entries, err := svc.index.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("index has %d entries after failed ingest, want 0", len(entries))
	}
}

func TestIngestOversizedPayload(t *testing.T) {
	store, err := NewObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	svc := NewService(store, NewBatchIndex(testDB(t)), nil, 64)

	_, data := encodedBatch(t, 50)
	if _, err := svc.Ingest(context.Background(), data, "10.0.0.1"); !errors.Is(err, ErrMalformed) {
		t.Errorf("oversized Ingest = %v, want ErrMalformed", err)
	}
}

func TestIngestBoundsDecompressedPayload(t *testing.T) {
	store, err := NewObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	svc := NewService(store, NewBatchIndex(testDB(t)), nil, 1<<20)

	// Highly compressible records: the body sails under the 1MiB limit
	// compressed but expands to ~4MiB. Ingest must reject it instead of
	// materializing the expansion.
	pad := strings.Repeat("a", 64*1024)
	recs := make([]*capture.PacketRecord, 0, 64)
	for i := range 64 {
		recs = append(recs, capture.NewPacketRecord(
			capture.Serverbound, "player_move", "e1", "",
			map[string]any{"seq": i, "pad": pad}))
	}
	data, err := spool.EncodeBatch(capture.NewPacketBatch("src-1", "sess-1", recs))
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if int64(len(data)) > 1<<20 {
		t.Fatalf("compressed payload is %d bytes, wanted it under the limit", len(data))
	}

	if _, err := svc.Ingest(context.Background(), data, "10.0.0.1"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("amplified Ingest = %v, want ErrMalformed", err)
	}
	entries, err := svc.index.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("index has %d entries after rejected ingest, want 0", len(entries))
	}
}

func TestIngestSurvivesDispatchError(t *testing.T) {
	svc, disp := testService(t)
	disp.err = errors.New("module backend down")

	batch, data := encodedBatch(t, 2)
	res, err := svc.Ingest(context.Background(), data, "10.0.0.1")
	if err != nil {
		t.Fatalf("Ingest should succeed despite dispatch error, got %v", err)
	}
	if res.Status != "indexed" {
		t.Errorf("status = %s, want indexed", res.Status)
	}
	if ok, _ := svc.index.Has(batch.BatchID); !ok {
		t.Error("batch not indexed")
	}
}

func TestIndexListNewestFirst(t *testing.T) {
	svc, _ := testService(t)
	for range 3 {
		_, data := encodedBatch(t, 1)
		if _, err := svc.Ingest(context.Background(), data, "10.0.0.1"); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	entries, err := svc.index.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List(2) returned %d entries", len(entries))
	}
	if entries[0].ReceivedAt < entries[1].ReceivedAt {
		t.Error("List is not newest-first")
	}
}

func TestObjectStoreContentAddressing(t *testing.T) {
	store, err := NewObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}

	k1, err := store.Put([]byte("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	k2, err := store.Put([]byte("payload"))
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	if k1 != k2 {
		t.Errorf("identical payloads got keys %s and %s", k1, k2)
	}

	k3, _ := store.Put([]byte("different"))
	if k3 == k1 {
		t.Error("different payloads share a key")
	}

	if _, err := store.Get("zz"); err == nil {
		t.Error("Get accepted an invalid key")
	}
}
