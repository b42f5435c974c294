// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vigil-ac/vigil/internal/logging"
)

// Server runs the HTTP listener with graceful shutdown. It is a
// suture-compatible service.
type Server struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
}

// NewServer constructs the listener service.
func NewServer(host string, port int, handler http.Handler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &Server{
		addr:            net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve blocks until ctx is canceled, then drains in-flight requests
// within the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("http server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown incomplete, closing")
		srv.Close() //nolint:errcheck // already failing
	}
	<-errCh
	return ctx.Err()
}
