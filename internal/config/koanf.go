// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"vigil.yaml",
	"vigil.yml",
	"/etc/vigil/vigil.yaml",
	"/etc/vigil/vigil.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "VIGIL_CONFIG"

// envPrefix namespaces all Vigil environment variables.
const envPrefix = "VIGIL_"

// Load builds a Config from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
//
// VIGIL_AGENT_SPOOL_QUOTA_BYTES maps to agent.spool.quota_bytes, and so
// on: the prefix is stripped, the rest lowercased with single
// underscores becoming dots on known section boundaries.
//
// An explicit non-empty path skips the search order and must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sectionPrefixes are koanf path segments that envTransform recognizes as
// section boundaries when converting VIGIL_FOO_BAR_BAZ to foo.bar.baz.
// Longest prefixes are checked first.
var sectionPrefixes = []string{
	"agent_capture_", "agent_queue_", "agent_spool_", "agent_uploader_",
	"server_dispatch_",
	"agent_", "server_", "logging_",
}

// envTransform converts an environment variable name to a koanf path.
// VIGIL_AGENT_SPOOL_QUOTA_BYTES -> agent.spool.quota_bytes
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, prefix := range sectionPrefixes {
		if strings.HasPrefix(s, prefix) {
			section := strings.ReplaceAll(strings.TrimSuffix(prefix, "_"), "_", ".")
			return section + "." + strings.TrimPrefix(s, prefix)
		}
	}
	return s
}
