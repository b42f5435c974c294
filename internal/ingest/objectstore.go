// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package ingest receives uploaded batches: validates the payload,
// stores the raw bytes content-addressed, records the batch in the
// index, and hands it to the dispatcher. Ingestion is idempotent per
// batch ID so agents can safely re-upload after an unacked attempt.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ObjectStore keeps raw batch payloads on the filesystem, addressed by
// the SHA-256 of their bytes. Identical payloads share one object, so
// a duplicate upload costs nothing beyond the hash. Writes follow the
// same two-phase temp-then-rename protocol as the spool: a key path
// either holds the complete object or does not exist.
type ObjectStore struct {
	dir string
}

// NewObjectStore creates the backing directory if needed.
func NewObjectStore(dir string) (*ObjectStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create object store dir: %w", err)
	}
	return &ObjectStore{dir: dir}, nil
}

// Put stores data and returns its content key. Storing bytes that are
// already present is a no-op returning the same key.
func (s *ObjectStore) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	path := s.path(key)

	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create object shard dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("create object temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()      //nolint:errcheck,gosec // already failing
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()      //nolint:errcheck,gosec // already failing
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("sync object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("publish object: %w", err)
	}
	return key, nil
}

// Get returns the payload stored under key.
func (s *ObjectStore) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Has reports whether key is stored.
func (s *ObjectStore) Has(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

// path shards objects by the first byte of the hash to keep directory
// fanout sane.
func (s *ObjectStore) path(key string) string {
	return filepath.Join(s.dir, key[:2], key+".gz")
}

func validateKey(key string) error {
	if len(key) != 64 {
		return fmt.Errorf("invalid object key %q", key)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
