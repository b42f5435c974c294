// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/metrics"
	"github.com/vigil-ac/vigil/internal/spool"
)

// Errors
var (
	// ErrMalformed marks payloads the server will never accept. The API
	// layer maps it to a 4xx so the agent quarantines the file.
	ErrMalformed = errors.New("malformed batch payload")
)

// Dispatcher receives validated batches for module fan-out.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch *capture.PacketBatch) error
}

// Result reports the outcome of one ingestion.
type Result struct {
	BatchID     string `json:"batch_id"`
	Status      string `json:"status"` // "indexed" or "duplicate"
	RecordCount int    `json:"record_count"`
}

// Service ties validation, object storage, indexing, and dispatch
// together. Ordering matters: the object is stored before the index
// entry, so an indexed batch always has its payload; a crash between
// the two leaves an orphaned object, which a re-upload reuses.
type Service struct {
	store      *ObjectStore
	index      *BatchIndex
	dispatcher Dispatcher
	maxBytes   int64
}

// NewService constructs the ingestion service. maxBytes bounds the
// decompressed payload size accepted per batch.
func NewService(store *ObjectStore, index *BatchIndex, dispatcher Dispatcher, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &Service{store: store, index: index, dispatcher: dispatcher, maxBytes: maxBytes}
}

// Ingest validates and records one uploaded payload. Re-ingesting an
// already-indexed batch ID is a no-op success so upload retries after
// lost acks converge.
func (s *Service) Ingest(ctx context.Context, raw []byte, sourceAddr string) (*Result, error) {
	if len(raw) == 0 {
		metrics.IngestBatches.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if int64(len(raw)) > s.maxBytes {
		metrics.IngestBatches.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: payload %d bytes exceeds limit %d", ErrMalformed, len(raw), s.maxBytes)
	}

	// The limit binds the decompressed size too: a high-ratio gzip body
	// must not expand past it during decode.
	batch, err := spool.DecodeBatchLimited(raw, s.maxBytes)
	if err != nil {
		metrics.IngestBatches.WithLabelValues("invalid").Inc()
		logging.Warn().Err(err).Str("source_addr", sourceAddr).Msg("rejected malformed batch")
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	dup, err := s.index.Has(batch.BatchID)
	if err != nil {
		return nil, err
	}
	if dup {
		metrics.IngestBatches.WithLabelValues("duplicate").Inc()
		logging.Debug().Str("batch_id", batch.BatchID).Msg("duplicate batch, acking without re-index")
		return &Result{BatchID: batch.BatchID, Status: "duplicate", RecordCount: batch.RecordCount}, nil
	}

	objectKey, err := s.store.Put(raw)
	if err != nil {
		return nil, fmt.Errorf("store batch %s: %w", batch.BatchID, err)
	}

	entry := &IndexEntry{
		BatchID:     batch.BatchID,
		SourceID:    batch.SourceID,
		SessionID:   batch.SessionID,
		CreatedAt:   batch.CreatedAt,
		ReceivedAt:  time.Now().UnixMilli(),
		RecordCount: batch.RecordCount,
		SizeBytes:   len(raw),
		ObjectKey:   objectKey,
	}
	if err := s.index.Put(entry); err != nil {
		return nil, err
	}

	metrics.IngestBatches.WithLabelValues("indexed").Inc()
	metrics.IngestRecords.Add(float64(batch.RecordCount))

	// Dispatch failures do not fail ingestion: the batch is durable and
	// indexed, which is what the ack promises the agent.
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, batch); err != nil {
			logging.Error().Err(err).Str("batch_id", batch.BatchID).Msg("dispatch failed for indexed batch")
		}
	}

	logging.Info().
		Str("batch_id", batch.BatchID).
		Str("source_id", batch.SourceID).
		Int("records", batch.RecordCount).
		Int("bytes", len(raw)).
		Msg("batch ingested")
	return &Result{BatchID: batch.BatchID, Status: "indexed", RecordCount: batch.RecordCount}, nil
}
