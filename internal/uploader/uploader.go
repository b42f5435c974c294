// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package uploader drains the durable spool toward the backend. Files
// are uploaded oldest first and deleted locally only after a confirmed
// 2xx ack, so an upload interrupted at any point is simply retried on
// the next scan. Permanently rejected files move to quarantine instead
// of being retried forever.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/metrics"
	"github.com/vigil-ac/vigil/internal/spool"
)

// Errors
var (
	// ErrTransient marks failures worth retrying on the next scan.
	ErrTransient = errors.New("transient upload failure")

	// ErrRejected marks permanent rejections; the file is quarantined.
	ErrRejected = errors.New("batch permanently rejected")
)

// Config configures an Uploader.
type Config struct {
	// Endpoint is the full ingest URL, e.g. http://host:8480/ingest.
	Endpoint string

	// SourceID identifies this agent to the backend.
	SourceID string

	// ScanInterval is the delay between spool scans.
	ScanInterval time.Duration

	// Timeout bounds each upload attempt.
	Timeout time.Duration

	// BreakerMaxFailures consecutive failures open the circuit.
	BreakerMaxFailures uint32

	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

// Uploader periodically ships published spool files to the ingest
// endpoint. It is a suture-compatible service: Serve blocks until the
// context is canceled.
type Uploader struct {
	cfg     Config
	spool   *spool.Spool
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
}

// New constructs an Uploader over an opened spool.
func New(cfg Config, sp *spool.Spool) *Uploader {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "ingest-upload",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("upload circuit breaker state change")
		},
		// Permanent rejections are the server judging the payload, not
		// the server being unhealthy. They do not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
	})

	return &Uploader{
		cfg:     cfg,
		spool:   sp,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

// Serve runs the scan loop until ctx is canceled.
func (u *Uploader) Serve(ctx context.Context) error {
	logging.Info().Str("endpoint", u.cfg.Endpoint).
		Dur("scan_interval", u.cfg.ScanInterval).
		Msg("uploader started")

	ticker := time.NewTicker(u.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u.ScanOnce(ctx)
		}
	}
}

// ScanOnce walks the published files oldest first and attempts each.
// The walk stops early on a transient failure: the endpoint is likely
// down, and ordering means retrying younger files first would be
// pointless.
func (u *Uploader) ScanOnce(ctx context.Context) {
	files, err := u.spool.Published()
	if err != nil {
		logging.Error().Err(err).Msg("spool scan failed")
		return
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		switch err := u.uploadFile(ctx, f.Name); {
		case err == nil:
			if err := u.spool.Remove(f.Name); err != nil {
				logging.Error().Err(err).Str("file", f.Name).
					Msg("acked file could not be removed, will re-upload")
			}
		case errors.Is(err, ErrRejected):
			logging.Warn().Err(err).Str("file", f.Name).
				Msg("batch rejected, quarantining")
			if err := u.spool.Quarantine(f.Name); err != nil {
				logging.Error().Err(err).Str("file", f.Name).Msg("quarantine failed")
			}
		default:
			logging.Warn().Err(err).Str("file", f.Name).
				Msg("upload failed, retaining for next scan")
			return
		}
	}
}

// uploadFile POSTs one spool file through the circuit breaker.
func (u *Uploader) uploadFile(ctx context.Context, name string) error {
	data, err := u.spool.ReadRaw(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	start := time.Now()
	_, err = u.breaker.Execute(func() (int, error) {
		return 0, u.post(ctx, data)
	})
	metrics.UploadDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.Uploads.WithLabelValues("acked").Inc()
	case errors.Is(err, ErrRejected):
		metrics.Uploads.WithLabelValues("quarantined").Inc()
	case errors.Is(err, gobreaker.ErrOpenState):
		metrics.Uploads.WithLabelValues("breaker_open").Inc()
	default:
		metrics.Uploads.WithLabelValues("transient_error").Inc()
	}
	return err
}

// post performs the HTTP exchange and classifies the response.
func (u *Uploader) post(ctx context.Context, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-Vigil-Source", u.cfg.SourceID)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
}
