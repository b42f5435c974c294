// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package config defines the layered configuration for the capture agent
// and the backend server. Configuration is loaded via Koanf with the
// precedence ENV > YAML file > built-in defaults, and validated with
// go-playground/validator before use. A loaded Config is an immutable
// snapshot; reloading produces a new value, never an in-place mutation.
package config

import (
	"time"
)

// Config is the root configuration shared by both binaries. The agent
// reads Agent plus Logging; the server reads Server plus Logging.
type Config struct {
	Agent   AgentConfig   `koanf:"agent"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// AgentConfig configures the capture-side pipeline.
type AgentConfig struct {
	// SourceID identifies this capture agent in batch metadata.
	// Auto-generated if empty.
	SourceID string `koanf:"source_id"`

	Capture  CaptureConfig  `koanf:"capture"`
	Queue    QueueConfig    `koanf:"queue"`
	Spool    SpoolConfig    `koanf:"spool"`
	Uploader UploaderConfig `koanf:"uploader"`
}

// CaptureConfig configures the event filter and exemption tracker.
type CaptureConfig struct {
	// AllowEvents is an explicit allow-list of event type names. When
	// non-empty it is authoritative for anything not denied.
	AllowEvents []string `koanf:"allow_events"`

	// DenyEvents is an explicit deny-list. Deny always wins.
	DenyEvents []string `koanf:"deny_events"`

	// DefaultCategories are substring patterns used when neither list
	// decides. Defaults cover movement, combat, block and inventory
	// traffic.
	DefaultCategories []string `koanf:"default_categories"`

	// ConnectGrace suppresses capture for an entity for this long after
	// it connects.
	ConnectGrace time.Duration `koanf:"connect_grace" validate:"min=0"`

	// TransferGrace suppresses capture after a platform transfer.
	TransferGrace time.Duration `koanf:"transfer_grace" validate:"min=0"`

	// ExemptClients lists client categories that are never captured.
	ExemptClients []string `koanf:"exempt_clients"`

	// EntityTTL expires idle entity tracking records.
	EntityTTL time.Duration `koanf:"entity_ttl" validate:"min=0"`

	// SweepInterval controls how often expired entity records are swept.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=0"`

	// WarmupSeconds is the dev-session warmup length before recording
	// becomes active.
	WarmupSeconds int `koanf:"warmup_seconds" validate:"min=0"`
}

// QueueConfig configures the bounded queue and batch assembly.
type QueueConfig struct {
	// Capacity is the fixed queue capacity. Enqueue beyond capacity
	// drops the record.
	Capacity int `koanf:"capacity" validate:"min=1"`

	// MaxBatchSize caps the records drained into one batch.
	MaxBatchSize int `koanf:"max_batch_size" validate:"min=1"`

	// MaxBatchWait bounds how long a partial batch waits before flush.
	MaxBatchWait time.Duration `koanf:"max_batch_wait" validate:"min=1ms"`
}

// SpoolConfig configures the durable on-disk spool.
type SpoolConfig struct {
	// Dir is the spool directory. Created if missing.
	Dir string `koanf:"dir" validate:"required"`

	// QuotaBytes bounds the total size of published files. Oldest files
	// are evicted first when the quota is exceeded.
	QuotaBytes int64 `koanf:"quota_bytes" validate:"min=1"`

	// FilePrefix prefixes published spool file names.
	FilePrefix string `koanf:"file_prefix"`
}

// UploaderConfig configures the batch uploader.
type UploaderConfig struct {
	// Endpoint is the full URL of the backend /ingest endpoint.
	Endpoint string `koanf:"endpoint" validate:"required,url"`

	// ScanInterval is the delay between spool directory scans.
	ScanInterval time.Duration `koanf:"scan_interval" validate:"min=100ms"`

	// Timeout bounds a single upload attempt.
	Timeout time.Duration `koanf:"timeout" validate:"min=100ms"`

	// BreakerMaxFailures opens the circuit breaker after this many
	// consecutive failures.
	BreakerMaxFailures int `koanf:"breaker_max_failures" validate:"min=1"`

	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"min=1s"`
}

// ServerConfig configures the backend.
type ServerConfig struct {
	// Host and Port for the HTTP listener.
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// DataDir is the root for the object store, batch index, player
	// state store, and findings store.
	DataDir string `koanf:"data_dir" validate:"required"`

	// ModuleTokenSecret signs module callback bearer tokens. Must be
	// distinct from any player-facing credential. Required by the server
	// binary; the agent ignores it, so presence is enforced at server
	// startup rather than here.
	ModuleTokenSecret string `koanf:"module_token_secret" validate:"omitempty,min=32"`

	// MaxBatchBytes rejects ingest payloads larger than this after
	// decompression.
	MaxBatchBytes int64 `koanf:"max_batch_bytes" validate:"min=1024"`

	// RateLimitReqs and RateLimitWindow bound request rates per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`

	Dispatch DispatchConfig `koanf:"dispatch"`

	// Modules declares the registered detection modules.
	Modules []ModuleConfig `koanf:"modules" validate:"dive"`
}

// DispatchConfig tunes batch fan-out to detection modules.
type DispatchConfig struct {
	// BufferSize is the per-topic buffer between the dispatcher and a
	// module's consumer. A slow module queues here without delaying
	// siblings.
	BufferSize int `koanf:"buffer_size" validate:"min=1"`

	// ModuleTimeout bounds one module call per batch.
	ModuleTimeout time.Duration `koanf:"module_timeout" validate:"min=100ms"`
}

// ModuleConfig declares one detection module's registration: its name,
// cost/precision tier, and the event categories it subscribes to.
type ModuleConfig struct {
	Name       string   `koanf:"name" validate:"required"`
	Tier       string   `koanf:"tier" validate:"required,oneof=core advanced"`
	Categories []string `koanf:"categories" validate:"required,min=1"`

	// Endpoint is the module's batch delivery URL. Empty for in-process
	// modules registered programmatically.
	Endpoint string `koanf:"endpoint" validate:"omitempty,url"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			SourceID: "", // Auto-generated if empty
			Capture: CaptureConfig{
				AllowEvents: []string{},
				DenyEvents:  []string{},
				DefaultCategories: []string{
					"move", "position", "look", "velocity", "teleport",
					"attack", "combat", "hit", "swing",
					"block_place", "block_break", "block_dig", "use_item",
					"inventory", "held_item", "window_click",
				},
				ConnectGrace:  5 * time.Second,
				TransferGrace: 10 * time.Second,
				ExemptClients: []string{"spectator", "replay"},
				EntityTTL:     30 * time.Minute,
				SweepInterval: 1 * time.Minute,
				WarmupSeconds: 3,
			},
			Queue: QueueConfig{
				Capacity:     8192,
				MaxBatchSize: 500,
				MaxBatchWait: 2 * time.Second,
			},
			Spool: SpoolConfig{
				Dir:        "/data/vigil/spool",
				QuotaBytes: 256 << 20, // 256MB
				FilePrefix: "batch",
			},
			Uploader: UploaderConfig{
				Endpoint:           "http://127.0.0.1:8480/ingest",
				ScanInterval:       5 * time.Second,
				Timeout:            30 * time.Second,
				BreakerMaxFailures: 5,
				BreakerCooldown:    30 * time.Second,
			},
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8480,
			DataDir:           "/data/vigil",
			ModuleTokenSecret: "",
			MaxBatchBytes:     32 << 20, // 32MB decompressed
			RateLimitReqs:     300,
			RateLimitWindow:   1 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
			Dispatch: DispatchConfig{
				BufferSize:    256,
				ModuleTimeout: 10 * time.Second,
			},
			Modules: []ModuleConfig{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
