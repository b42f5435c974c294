// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package spool persists batches of captured events as immutable,
// atomically-published files and bounds the directory's total size.
//
// The write protocol is two-phase: the batch is written and fsynced
// under a ".tmp" name, then renamed to its final published name. A
// reader scanning the directory therefore never observes a partially
// written file under a final name, even across a crash mid-write.
// Quota enforcement runs before each write, evicting oldest files
// first, so the directory is self-bounding without an external reaper.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/metrics"
)

const (
	// tmpSuffix marks files in the write phase. Never visible to the
	// uploader's scan.
	tmpSuffix = ".tmp"

	// publishedSuffix is the extension of published spool files.
	publishedSuffix = ".ndjson.gz"

	// quarantineDir holds permanently rejected files, out of the
	// uploader's scan path.
	quarantineDir = "quarantine"
)

// Errors
var (
	// ErrClosed is returned for operations on a closed spool.
	ErrClosed = fmt.Errorf("spool is closed")
)

// Spool owns one spool directory. All mutations of the directory
// (eviction, publication, deletion) are serialized behind the spool's
// writer lock; the uploader only reads and deletes through the Spool so
// enumeration never races an in-progress write. Multiple capture
// sources use independent Spool instances over distinct directories and
// run fully in parallel.
type Spool struct {
	dir    string
	prefix string
	quota  int64

	// mu is the single-writer discipline for the directory.
	mu     sync.Mutex
	closed bool
}

// Config configures a Spool.
type Config struct {
	// Dir is the spool directory, created if missing.
	Dir string

	// QuotaBytes bounds the total size of published files.
	QuotaBytes int64

	// FilePrefix prefixes published file names. Defaults to "batch".
	FilePrefix string
}

// Open creates the spool directory (and its quarantine subdirectory)
// if needed and returns a Spool over it. Leftover temporary files from
// a previous crash are removed: they were never published, so their
// batches were already lost at the crash boundary.
func Open(cfg Config) (*Spool, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool dir is required")
	}
	if cfg.QuotaBytes <= 0 {
		return nil, fmt.Errorf("spool quota must be positive, got %d", cfg.QuotaBytes)
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "batch"
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, quarantineDir), 0o750); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}

	s := &Spool{
		dir:    cfg.Dir,
		prefix: cfg.FilePrefix,
		quota:  cfg.QuotaBytes,
	}

	removed, err := s.removeTempFiles()
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		logging.Warn().Int("files", removed).Str("dir", cfg.Dir).
			Msg("removed orphaned temp files from previous run")
	}

	logging.Info().Str("dir", cfg.Dir).Int64("quota_bytes", cfg.QuotaBytes).Msg("spool opened")
	return s, nil
}

// removeTempFiles deletes any *.tmp leftovers in the spool directory.
func (s *Spool) removeTempFiles() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read spool dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), tmpSuffix) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// WriteBatch durably persists a batch:
//
//  1. Enforce the quota, evicting oldest published files until the new
//     write fits (best effort: a single write larger than the whole
//     quota is still permitted).
//  2. Write header + records, gzip-compressed, to a temporary file and
//     fsync it.
//  3. Atomically rename to the final published name.
//
// On any failure the temporary file is removed and an error returned;
// the batch is lost, which is an accepted loss boundary. A canceled
// context aborts before the rename so no final name appears.
func (s *Spool) WriteBatch(ctx context.Context, batch *capture.PacketBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeBatch(batch)
	if err != nil {
		metrics.SpoolWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("encode batch: %w", err)
	}

	if err := s.enforceQuotaLocked(int64(len(data))); err != nil {
		// Eviction trouble is logged but does not block the write; the
		// next write retries enforcement.
		logging.Warn().Err(err).Msg("spool quota enforcement incomplete")
	}

	finalName := fmt.Sprintf("%s-%d-%s%s",
		s.prefix, time.Now().UnixMilli(), uuid.New().String()[:8], publishedSuffix)
	tmpPath := filepath.Join(s.dir, finalName+tmpSuffix)
	finalPath := filepath.Join(s.dir, finalName)

	if err := s.writeTemp(tmpPath, data); err != nil {
		metrics.SpoolWrites.WithLabelValues("failed").Inc()
		return err
	}

	// Abort cleanly on shutdown: temp removed, no final name published.
	if err := ctx.Err(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		metrics.SpoolWrites.WithLabelValues("failed").Inc()
		return err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		metrics.SpoolWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("publish spool file: %w", err)
	}

	metrics.SpoolWrites.WithLabelValues("published").Inc()
	logging.Debug().
		Str("file", finalName).
		Str("batch_id", batch.BatchID).
		Int("records", batch.RecordCount).
		Int("bytes", len(data)).
		Msg("batch spooled")
	return nil
}

// writeTemp writes data to path and fsyncs it. The file is removed on
// any failure.
func (s *Spool) writeTemp(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("create temp spool file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()         //nolint:errcheck,gosec // already failing
		os.Remove(path)   //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write temp spool file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()         //nolint:errcheck,gosec // already failing
		os.Remove(path)   //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("sync temp spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp spool file: %w", err)
	}
	return nil
}

// enforceQuotaLocked deletes oldest published files until incoming
// bytes fit under the quota. Must be called with mu held.
func (s *Spool) enforceQuotaLocked(incoming int64) error {
	files, total, err := s.publishedLocked()
	if err != nil {
		return err
	}

	// Oldest first by modification time.
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})

	for _, f := range files {
		if total+incoming <= s.quota {
			break
		}
		if err := os.Remove(filepath.Join(s.dir, f.Name)); err != nil {
			return fmt.Errorf("evict %s: %w", f.Name, err)
		}
		total -= f.Size
		metrics.SpoolEvictions.Inc()
		logging.Warn().Str("file", f.Name).Int64("bytes", f.Size).
			Msg("spool quota eviction, batch never uploaded")
	}

	metrics.SpoolBytes.Set(float64(total))
	return nil
}

// FileInfo describes one published spool file.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Published returns the published (final-name) files, oldest first.
// Temp files and the quarantine directory are excluded.
func (s *Spool) Published() ([]FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	files, _, err := s.publishedLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// publishedLocked lists published files and their total size.
func (s *Spool) publishedLocked() ([]FileInfo, int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read spool dir: %w", err)
	}

	var files []FileInfo
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), publishedSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // deleted between ReadDir and Info
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
		total += info.Size()
	}
	return files, total, nil
}

// Read opens a published file and decodes its batch.
func (s *Spool) Read(name string) (*capture.PacketBatch, error) {
	data, err := s.ReadRaw(name)
	if err != nil {
		return nil, err
	}
	return DecodeBatch(data)
}

// ReadRaw returns a published file's raw (still compressed) contents.
// The uploader sends these bytes as the request body unchanged.
func (s *Spool) ReadRaw(name string) ([]byte, error) {
	if err := s.validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read spool file: %w", err)
	}
	return data, nil
}

// Remove deletes a published file after confirmed remote receipt.
func (s *Spool) Remove(name string) error {
	if err := s.validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("remove spool file: %w", err)
	}
	return nil
}

// Quarantine moves a permanently rejected file into the quarantine
// subdirectory so it is never retried but remains for inspection.
func (s *Spool) Quarantine(name string) error {
	if err := s.validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	src := filepath.Join(s.dir, name)
	dst := filepath.Join(s.dir, quarantineDir, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("quarantine spool file: %w", err)
	}
	metrics.QuarantinedFiles.Inc()
	return nil
}

// QuarantinedCount returns the number of quarantined files.
func (s *Spool) QuarantinedCount() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, quarantineDir))
	if err != nil {
		return 0, fmt.Errorf("read quarantine dir: %w", err)
	}
	return len(entries), nil
}

// validateName rejects names that could escape the spool directory.
func (s *Spool) validateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasSuffix(name, tmpSuffix) {
		return fmt.Errorf("invalid spool file name %q", name)
	}
	return nil
}

// Close marks the spool closed. In-flight writes hold the writer lock,
// so Close returning means no write is mid-flight.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
