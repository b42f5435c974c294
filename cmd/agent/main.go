// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// The agent runs next to the game host. It filters tapped protocol
// events, absorbs them into a bounded queue, spools batches durably to
// disk, and uploads them to the backend. Events arrive on stdin as
// newline-delimited JSON from the game-side tap.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/config"
	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/spool"
	"github.com/vigil-ac/vigil/internal/supervisor"
	"github.com/vigil-ac/vigil/internal/uploader"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vigil-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	sourceID := cfg.Agent.SourceID
	if sourceID == "" {
		sourceID = "agent-" + uuid.New().String()[:8]
	}
	sessionID := uuid.New().String()

	logging.Info().
		Str("source_id", sourceID).
		Str("session_id", sessionID).
		Msg("vigil agent starting")

	// Capture pipeline.
	filter := capture.NewEventFilter(capture.FilterLists{
		Deny:              cfg.Agent.Capture.DenyEvents,
		Allow:             cfg.Agent.Capture.AllowEvents,
		DefaultCategories: cfg.Agent.Capture.DefaultCategories,
	})
	tracker := capture.NewExemptionTracker(capture.ExemptionConfig{
		ConnectGrace:  cfg.Agent.Capture.ConnectGrace,
		TransferGrace: cfg.Agent.Capture.TransferGrace,
		EntityTTL:     cfg.Agent.Capture.EntityTTL,
		ExemptClients: cfg.Agent.Capture.ExemptClients,
	})
	queue := capture.NewBoundedEventQueue(cfg.Agent.Queue.Capacity)
	pipeline := capture.NewPipeline(filter, tracker, queue)

	// Durability and transport.
	sp, err := spool.Open(spool.Config{
		Dir:        cfg.Agent.Spool.Dir,
		QuotaBytes: cfg.Agent.Spool.QuotaBytes,
		FilePrefix: cfg.Agent.Spool.FilePrefix,
	})
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer sp.Close() //nolint:errcheck

	batcher := capture.NewBatcher(queue, sp, sourceID, sessionID,
		cfg.Agent.Queue.MaxBatchSize, cfg.Agent.Queue.MaxBatchWait)
	up := uploader.New(uploader.Config{
		Endpoint:           cfg.Agent.Uploader.Endpoint,
		SourceID:           sourceID,
		ScanInterval:       cfg.Agent.Uploader.ScanInterval,
		Timeout:            cfg.Agent.Uploader.Timeout,
		BreakerMaxFailures: uint32(cfg.Agent.Uploader.BreakerMaxFailures), //nolint:gosec // validated min=1
		BreakerCooldown:    cfg.Agent.Uploader.BreakerCooldown,
	}, sp)

	tree := supervisor.NewTree("vigil-agent", supervisor.TreeConfig{}, "capture", "transport")
	tree.Add("capture", newTapReader(os.Stdin, pipeline, tracker, cfg.Agent.Capture.WarmupSeconds))
	tree.Add("capture", supervisor.ServiceFunc("batcher", batcher.Serve))
	tree.Add("capture", supervisor.ServiceFunc("entity-sweeper",
		sweeper(tracker, pipeline, cfg.Agent.Capture.SweepInterval)))
	tree.Add("transport", supervisor.ServiceFunc("uploader", up.Serve))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	logging.Info().Msg("vigil agent stopped")
	return nil
}

// sweeper periodically expires idle entities from the tracker and logs
// a snapshot of the pipeline drop counters.
func sweeper(tracker *capture.ExemptionTracker, pipeline *capture.Pipeline, interval time.Duration) func(context.Context) error {
	if interval <= 0 {
		interval = time.Minute
	}
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if removed := tracker.Sweep(); removed > 0 {
					logging.Debug().Int("removed", removed).Msg("swept idle entities")
				}
				stats := pipeline.Stats()
				logging.Debug().
					Int64("enqueued", stats.Enqueued).
					Int64("queue_full", stats.QueueFull).
					Int64("filtered", stats.Filtered).
					Int64("exempt", stats.Exempt).
					Int64("no_identity", stats.NoIdentity).
					Int("tracked_entities", tracker.TrackedEntities()).
					Msg("capture pipeline counters")
			}
		}
	}
}
