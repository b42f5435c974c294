// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package findings

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/metrics"
	"github.com/vigil-ac/vigil/internal/storage"
)

// Broadcaster pushes stored findings to live observers. The sink calls
// it after persistence, never before.
type Broadcaster interface {
	Broadcast(f *Finding)
}

// Sink persists findings to Badger and dedups repeats through an LRU
// window keyed by (module, entity, check, timestamp). The window is
// bounded, so a duplicate arriving after enough distinct findings have
// passed is stored again; that trades a rare double alert for a fixed
// memory ceiling.
type Sink struct {
	db          *badger.DB
	dedup       *lru.Cache[string, struct{}]
	broadcaster Broadcaster
}

// NewSink constructs a Sink. broadcaster may be nil.
func NewSink(db *badger.DB, dedupWindow int, broadcaster Broadcaster) (*Sink, error) {
	if dedupWindow <= 0 {
		dedupWindow = 4096
	}
	cache, err := lru.New[string, struct{}](dedupWindow)
	if err != nil {
		return nil, fmt.Errorf("create dedup window: %w", err)
	}
	return &Sink{db: db, dedup: cache, broadcaster: broadcaster}, nil
}

// storageKey orders findings by time, tie-broken by ID.
func storageKey(f *Finding) []byte {
	return []byte(fmt.Sprintf("%s%020d|%s", storage.PrefixFinding, f.Timestamp, f.ID))
}

// Submit validates, dedups, and persists a slice of findings. A batch
// with any invalid finding is rejected whole, so modules get a clear
// contract: fix the payload, resubmit everything, duplicates wash out.
func (s *Sink) Submit(ctx context.Context, findings []Finding) (stored int, err error) {
	for i := range findings {
		if err := findings[i].Validate(); err != nil {
			return 0, fmt.Errorf("finding %d: %w", i, err)
		}
	}

	for i := range findings {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		f := findings[i]

		if _, dup := s.dedup.Get(f.dedupKey()); dup {
			metrics.Findings.WithLabelValues("duplicate").Inc()
			continue
		}

		f.ID = uuid.New().String()
		data, err := json.Marshal(&f)
		if err != nil {
			return stored, fmt.Errorf("marshal finding: %w", err)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(storageKey(&f), data)
		})
		if err != nil {
			return stored, fmt.Errorf("store finding %s/%s: %w", f.Module, f.Check, err)
		}

		s.dedup.Add(f.dedupKey(), struct{}{})
		stored++
		metrics.Findings.WithLabelValues("stored").Inc()

		logging.Info().
			Str("module", f.Module).
			Str("entity_id", f.EntityID).
			Str("check", f.Check).
			Str("severity", f.Severity).
			Msg("finding stored")

		if s.broadcaster != nil {
			s.broadcaster.Broadcast(&f)
		}
	}
	return stored, nil
}

// List returns up to limit findings, newest first, optionally filtered
// by entity ID.
func (s *Sink) List(limit int, entityID string) ([]*Finding, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []*Finding
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(storage.PrefixFinding)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the end of the prefix range.
		seek := append([]byte(storage.PrefixFinding), 0xff)
		for it.Seek(seek); it.Valid() && len(out) < limit; it.Next() {
			var f Finding
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			})
			if err != nil {
				return err
			}
			if entityID != "" && f.EntityID != entityID {
				continue
			}
			out = append(out, &f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return out, nil
}
