// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package ingest

import (
	"errors"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/vigil-ac/vigil/internal/storage"
)

// Errors
var (
	ErrNotIndexed = errors.New("batch not indexed")
)

// IndexEntry records one ingested batch. The raw payload lives in the
// object store under ObjectKey; the entry is the queryable metadata.
type IndexEntry struct {
	BatchID     string `json:"batch_id"`
	SourceID    string `json:"source_id"`
	SessionID   string `json:"session_id"`
	CreatedAt   int64  `json:"created_at"`
	ReceivedAt  int64  `json:"received_at"`
	RecordCount int    `json:"record_count"`
	SizeBytes   int    `json:"size_bytes"`
	ObjectKey   string `json:"object_key"`
}

// BatchIndex is the Badger-backed registry of ingested batches, keyed
// by batch ID under the batch keyspace prefix.
type BatchIndex struct {
	db *badger.DB
}

// NewBatchIndex wraps an opened database.
func NewBatchIndex(db *badger.DB) *BatchIndex {
	return &BatchIndex{db: db}
}

func indexKey(batchID string) []byte {
	return []byte(storage.PrefixBatch + batchID)
}

// Put stores an entry. Overwrites are harmless: the entry is derived
// from an immutable payload, so a rewrite stores identical data.
func (ix *BatchIndex) Put(entry *IndexEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	err = ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(entry.BatchID), data)
	})
	if err != nil {
		return fmt.Errorf("index batch %s: %w", entry.BatchID, err)
	}
	return nil
}

// Has reports whether a batch ID is already indexed.
func (ix *BatchIndex) Has(batchID string) (bool, error) {
	err := ix.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(batchID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe index for %s: %w", batchID, err)
	}
	return true, nil
}

// Get returns the entry for a batch ID.
func (ix *BatchIndex) Get(batchID string) (*IndexEntry, error) {
	var entry IndexEntry
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(batchID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load index entry %s: %w", batchID, err)
	}
	return &entry, nil
}

// List returns up to limit entries, most recently received first.
func (ix *BatchIndex) List(limit int) ([]*IndexEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []*IndexEntry
	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(storage.PrefixBatch)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry IndexEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ReceivedAt > entries[j].ReceivedAt
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
