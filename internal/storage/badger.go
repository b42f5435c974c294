// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package storage opens the server's embedded Badger database. The
// batch index, player state store, and findings sink share one DB and
// partition the keyspace by prefix:
//
//	batch|<batch-id>                 ingestion index entries
//	state|<entity-id>|<state-key>    player state values
//	finding|<timestamp>|<uuid>       findings, time-ordered
package storage

import (
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vigil-ac/vigil/internal/logging"
)

// Key prefixes. Components build keys through these so a stray write
// cannot land in another component's range.
const (
	PrefixBatch   = "batch|"
	PrefixState   = "state|"
	PrefixFinding = "finding|"
)

// Open opens (or creates) the Badger database under dir.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{}).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	logging.Info().Str("dir", dir).Msg("badger database opened")
	return db, nil
}

// OpenInMemory opens an ephemeral database, used by tests.
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return db, nil
}

// badgerLogger routes Badger's internal logging into zerolog. Badger is
// chatty at info level during compaction, so its info goes to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Msgf("badger: %s", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Msgf("badger: %s", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Msgf("badger: %s", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Trace().Msgf("badger: %s", strings.TrimSpace(fmt.Sprintf(format, args...)))
}
