// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree("test", TreeConfig{
		FailureThreshold: 100,
		FailureBackoff:   10 * time.Millisecond,
	}, "work")

	var starts atomic.Int64
	tree.Add("work", ServiceFunc("flaky", func(ctx context.Context) error {
		if starts.Add(1) < 3 {
			return errors.New("transient crash")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(5 * time.Second)
	for starts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("service restarted %d times, want 3", starts.Load())
		case err := <-errCh:
			t.Fatalf("tree stopped early: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop on cancel")
	}
}

func TestLayerIsolation(t *testing.T) {
	tree := NewTree("test", TreeConfig{
		FailureThreshold: 100,
		FailureBackoff:   10 * time.Millisecond,
	}, "capture", "upload")

	var captureStarts, uploadStarts atomic.Int64
	tree.Add("capture", ServiceFunc("stable", func(ctx context.Context) error {
		captureStarts.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))
	tree.Add("upload", ServiceFunc("crashy", func(ctx context.Context) error {
		if uploadStarts.Add(1) < 4 {
			return errors.New("endpoint down")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(5 * time.Second)
	for uploadStarts.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("upload restarted %d times, want 4", uploadStarts.Load())
		case err := <-errCh:
			t.Fatalf("tree stopped early: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if captureStarts.Load() != 1 {
		t.Errorf("capture layer restarted %d times, want 1 (isolated from upload crashes)",
			captureStarts.Load())
	}
	cancel()
	<-errCh
}

func TestUnknownLayerFallsBackToRoot(t *testing.T) {
	tree := NewTree("test", TreeConfig{}, "only")

	ran := make(chan struct{})
	tree.Add("nonexistent", ServiceFunc("orphan", func(ctx context.Context) error {
		close(ran)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ran:
	case err := <-errCh:
		t.Fatalf("tree stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("service in unknown layer never ran")
	}
	cancel()
	<-errCh
}
