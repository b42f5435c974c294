// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// The server is the backend half of the pipeline: it ingests uploaded
// batches, indexes them, fans them out to detection modules, and
// serves the module callback and operator APIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vigil-ac/vigil/internal/api"
	"github.com/vigil-ac/vigil/internal/config"
	"github.com/vigil-ac/vigil/internal/dispatch"
	"github.com/vigil-ac/vigil/internal/findings"
	"github.com/vigil-ac/vigil/internal/ingest"
	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/state"
	"github.com/vigil-ac/vigil/internal/storage"
	"github.com/vigil-ac/vigil/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vigil-server: %v\n", err)
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
	if len(cfg.Server.ModuleTokenSecret) < 32 {
		return fmt.Errorf("server.module_token_secret must be set (min 32 bytes)")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Int("port", cfg.Server.Port).Msg("vigil server starting")

	// Storage.
	db, err := storage.Open(filepath.Join(cfg.Server.DataDir, "db"))
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	objects, err := ingest.NewObjectStore(filepath.Join(cfg.Server.DataDir, "objects"))
	if err != nil {
		return err
	}
	index := ingest.NewBatchIndex(db)
	states := state.NewStore(db)

	// Findings path.
	hub := findings.NewHub()
	sink, err := findings.NewSink(db, 4096, hub)
	if err != nil {
		return err
	}

	// Dispatch.
	dispatcher := dispatch.New(dispatch.Config{
		BufferSize:    int64(cfg.Server.Dispatch.BufferSize),
		ModuleTimeout: cfg.Server.Dispatch.ModuleTimeout,
	})
	modules, err := dispatch.BuildModules(cfg.Server.Modules, cfg.Server.Dispatch.ModuleTimeout)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}
	for _, spec := range modules {
		if err := dispatcher.Register(spec); err != nil {
			return fmt.Errorf("register module: %w", err)
		}
	}

	// HTTP surface.
	handler := api.NewHandler(api.HandlerConfig{
		Ingest:        ingest.NewService(objects, index, dispatcher, cfg.Server.MaxBatchBytes),
		Index:         index,
		States:        states,
		Findings:      sink,
		Hub:           hub,
		Dispatcher:    dispatcher,
		MaxBatchBytes: cfg.Server.MaxBatchBytes,
		Ready: func() bool {
			select {
			case <-dispatcher.Ready():
				return true
			default:
				return false
			}
		},
	})
	router := api.NewRouter(api.RouterConfig{
		TokenSecret:       []byte(cfg.Server.ModuleTokenSecret),
		RateLimitRequests: cfg.Server.RateLimitReqs,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	}, handler)
	server := api.NewServer(cfg.Server.Host, cfg.Server.Port, router, cfg.Server.ShutdownTimeout)

	tree := supervisor.NewTree("vigil-server", supervisor.TreeConfig{}, "dispatch", "api")
	tree.Add("dispatch", supervisor.ServiceFunc("dispatcher", dispatcher.Run))
	tree.Add("dispatch", supervisor.ServiceFunc("findings-hub", hub.Run))
	tree.Add("api", supervisor.ServiceFunc("http-server", server.Serve))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	logging.Info().Msg("vigil server stopped")
	return nil
}
