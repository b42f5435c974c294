// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/spool"
)

func testSpoolWithBatches(t *testing.T, n int) *spool.Spool {
	t.Helper()
	sp, err := spool.Open(spool.Config{Dir: t.TempDir(), QuotaBytes: 1 << 20})
	if err != nil {
		t.Fatalf("spool.Open: %v", err)
	}
	t.Cleanup(func() { sp.Close() }) //nolint:errcheck
	for range n {
		rec := capture.NewPacketRecord(capture.Serverbound, "player_move", "e1", "", nil)
		batch := capture.NewPacketBatch("src-1", "sess-1", []*capture.PacketRecord{rec})
		if err := sp.WriteBatch(context.Background(), batch); err != nil {
			t.Fatalf("WriteBatch: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	return sp
}

func newTestUploader(sp *spool.Spool, endpoint string) *Uploader {
	return New(Config{
		Endpoint:           endpoint,
		SourceID:           "src-1",
		ScanInterval:       time.Hour, // tests drive ScanOnce directly
		Timeout:            2 * time.Second,
		BreakerMaxFailures: 3,
		BreakerCooldown:    time.Hour,
	}, sp)
}

func TestUploadAckDeletesFile(t *testing.T) {
	sp := testSpoolWithBatches(t, 2)

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("Content-Encoding = %q, want gzip", r.Header.Get("Content-Encoding"))
		}
		if r.Header.Get("X-Vigil-Source") != "src-1" {
			t.Errorf("X-Vigil-Source = %q, want src-1", r.Header.Get("X-Vigil-Source"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := newTestUploader(sp, srv.URL)
	u.ScanOnce(context.Background())

	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d uploads, want 2", got)
	}
	files, _ := sp.Published()
	if len(files) != 0 {
		t.Errorf("%d files remain after ack, want 0", len(files))
	}
}

func TestTransientFailureRetainsFile(t *testing.T) {
	sp := testSpoolWithBatches(t, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := newTestUploader(sp, srv.URL)
	u.ScanOnce(context.Background())

	files, _ := sp.Published()
	if len(files) != 2 {
		t.Errorf("%d files remain after 5xx, want 2 retained", len(files))
	}
}

func TestTransientFailureStopsScanEarly(t *testing.T) {
	sp := testSpoolWithBatches(t, 3)

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := newTestUploader(sp, srv.URL)
	u.ScanOnce(context.Background())

	// Oldest file failed transiently; younger files are not attempted.
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d attempts, want 1", got)
	}
}

func TestRejectionQuarantinesAndContinues(t *testing.T) {
	sp := testSpoolWithBatches(t, 2)

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := newTestUploader(sp, srv.URL)
	u.ScanOnce(context.Background())

	files, _ := sp.Published()
	if len(files) != 0 {
		t.Errorf("%d files remain, want 0 (one quarantined, one acked)", len(files))
	}
	n, err := sp.QuarantinedCount()
	if err != nil || n != 1 {
		t.Errorf("QuarantinedCount = %d, %v; want 1", n, err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d attempts, want 2 (rejection does not stop the scan)", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	sp := testSpoolWithBatches(t, 1)

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := newTestUploader(sp, srv.URL)
	for range 10 {
		u.ScanOnce(context.Background())
	}

	// Breaker trips at 3 consecutive failures; later scans short-circuit
	// without touching the network.
	if got := requests.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3 before the breaker opened", got)
	}
	files, _ := sp.Published()
	if len(files) != 1 {
		t.Errorf("file count = %d, want 1 retained through the outage", len(files))
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	sp := testSpoolWithBatches(t, 0)
	u := newTestUploader(sp, "http://127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}
