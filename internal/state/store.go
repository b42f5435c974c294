// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package state

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vigil-ac/vigil/internal/metrics"
	"github.com/vigil-ac/vigil/internal/storage"
)

// stripeCount is the lock stripe fanout. Power of two.
const stripeCount = 64

// Errors
var (
	ErrEmptyEntity = errors.New("entity id is required")
	ErrEmptyKey    = errors.New("state key is required")
)

// Store is the Badger-backed player state store. Concurrent access to
// distinct keys proceeds in parallel; writes to the same key serialize
// through a lock stripe chosen by key hash, so there is no global
// lock anywhere on the read or write path.
type Store struct {
	db      *badger.DB
	stripes [stripeCount]sync.RWMutex
}

// NewStore wraps an opened database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func stateKey(entity, key string) []byte {
	return []byte(storage.PrefixState + entity + "|" + key)
}

// stripeFor hashes an entity|key pair onto a lock stripe.
func stripeFor(entity, key string) int {
	h := fnv.New32a()
	h.Write([]byte(entity)) //nolint:errcheck // fnv never fails
	h.Write([]byte{'|'})    //nolint:errcheck
	h.Write([]byte(key))    //nolint:errcheck
	return int(h.Sum32() % stripeCount)
}

// lockStripes locks the given stripe indices in ascending order and
// returns the unlock function. Ascending order makes overlapping
// BatchSet calls deadlock-free.
func (s *Store) lockStripes(indices []int, write bool) func() {
	sort.Ints(indices)
	locked := indices[:0]
	prev := -1
	for _, idx := range indices {
		if idx == prev {
			continue
		}
		prev = idx
		if write {
			s.stripes[idx].Lock()
		} else {
			s.stripes[idx].RLock()
		}
		locked = append(locked, idx)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			if write {
				s.stripes[locked[i]].Unlock()
			} else {
				s.stripes[locked[i]].RUnlock()
			}
		}
	}
}

// BatchGet reads the requested keys for one entity. Every requested
// key appears in the result; keys never written read as null.
func (s *Store) BatchGet(ctx context.Context, entity string, keys []string) (map[string]Value, error) {
	if entity == "" {
		return nil, ErrEmptyEntity
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			return nil, ErrEmptyKey
		}
		indices = append(indices, stripeFor(entity, k))
	}
	unlock := s.lockStripes(indices, false)
	defer unlock()

	start := time.Now()
	defer func() {
		metrics.StateOps.WithLabelValues("batch_get").Inc()
		metrics.StateOpDuration.WithLabelValues("batch_get").Observe(time.Since(start).Seconds())
	}()

	out := make(map[string]Value, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			item, err := txn.Get(stateKey(entity, k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				out[k] = Null()
				continue
			}
			if err != nil {
				return fmt.Errorf("get %s|%s: %w", entity, k, err)
			}
			var v Value
			if err := item.Value(func(val []byte) error {
				return v.UnmarshalJSON(val)
			}); err != nil {
				return fmt.Errorf("decode %s|%s: %w", entity, k, err)
			}
			out[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchSet writes the given key/value pairs for one entity. Each key
// is last-write-wins; the batch carries no atomicity guarantee across
// keys beyond sharing one transaction here.
func (s *Store) BatchSet(ctx context.Context, entity string, values map[string]Value) error {
	if entity == "" {
		return ErrEmptyEntity
	}
	if len(values) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	indices := make([]int, 0, len(values))
	for k := range values {
		if k == "" {
			return ErrEmptyKey
		}
		indices = append(indices, stripeFor(entity, k))
	}
	unlock := s.lockStripes(indices, true)
	defer unlock()

	start := time.Now()
	defer func() {
		metrics.StateOps.WithLabelValues("batch_set").Inc()
		metrics.StateOpDuration.WithLabelValues("batch_set").Observe(time.Since(start).Seconds())
	}()

	err := s.db.Update(func(txn *badger.Txn) error {
		for k, v := range values {
			data, err := v.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encode %s|%s: %w", entity, k, err)
			}
			if err := txn.Set(stateKey(entity, k), data); err != nil {
				return fmt.Errorf("set %s|%s: %w", entity, k, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("state batch set for %s: %w", entity, err)
	}
	return nil
}
