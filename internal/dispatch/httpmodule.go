// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/config"
	"github.com/vigil-ac/vigil/internal/spool"
)

// httpModuleHandler delivers batches to an out-of-process detection
// module over HTTP. The body is the same gzip NDJSON wire format the
// agent uploads, so module implementations reuse one decoder.
type httpModuleHandler struct {
	endpoint string
	client   *http.Client
}

func newHTTPModuleHandler(endpoint string, timeout time.Duration) *httpModuleHandler {
	return &httpModuleHandler{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *httpModuleHandler) HandleBatch(ctx context.Context, batch *capture.PacketBatch) error {
	payload, err := spool.EncodeBatch(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build module request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-Vigil-Batch", batch.BatchID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver batch to module: %w", err)
	}
	defer resp.Body.Close()                              //nolint:errcheck // read-side close
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("module returned status %d", resp.StatusCode)
	}
	return nil
}

// BuildModules converts configured modules into registrable specs with
// HTTP delivery handlers.
func BuildModules(cfgs []config.ModuleConfig, defaultTimeout time.Duration) ([]*ModuleSpec, error) {
	specs := make([]*ModuleSpec, 0, len(cfgs))
	for _, mc := range cfgs {
		if mc.Endpoint == "" {
			return nil, fmt.Errorf("module %s has no endpoint", mc.Name)
		}
		specs = append(specs, &ModuleSpec{
			Name:       mc.Name,
			Tier:       Tier(mc.Tier),
			Categories: mc.Categories,
			Timeout:    defaultTimeout,
			Handler:    newHTTPModuleHandler(mc.Endpoint, defaultTimeout),
		})
	}
	return specs, nil
}
