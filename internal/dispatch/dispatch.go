// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package dispatch fans ingested batches out to detection modules.
// Each registered module gets its own intake channel and topic on an
// in-memory pub/sub; consumers run concurrently with per-module
// timeouts, so one slow or failing module never delays its siblings.
// Dispatch only performs non-blocking sends into the intakes: a module
// whose intake is full loses the batch for itself alone, counted per
// module, and a batch counts as dispatched once every interested
// module's intake has been offered it.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/logging"
	"github.com/vigil-ac/vigil/internal/metrics"
	"github.com/vigil-ac/vigil/internal/spool"
)

// Tier labels a module's class. Core modules ship with the pipeline;
// advanced modules are operator add-ons. The tier is routing metadata
// only, both tiers dispatch identically.
type Tier string

const (
	TierCore     Tier = "core"
	TierAdvanced Tier = "advanced"
)

// Handler consumes batches on behalf of one module.
type Handler interface {
	HandleBatch(ctx context.Context, batch *capture.PacketBatch) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, batch *capture.PacketBatch) error

func (f HandlerFunc) HandleBatch(ctx context.Context, batch *capture.PacketBatch) error {
	return f(ctx, batch)
}

// ModuleSpec declares one detection module's routing interest.
type ModuleSpec struct {
	// Name is the unique module name, also its topic suffix.
	Name string

	// Tier is core or advanced.
	Tier Tier

	// Categories are event-type substrings the module subscribes to. A
	// batch is routed to the module if any record's event type contains
	// any category. Empty means every batch.
	Categories []string

	// Timeout bounds one HandleBatch call. Zero uses the dispatcher
	// default.
	Timeout time.Duration

	// Handler processes routed batches.
	Handler Handler
}

// Config configures a Dispatcher.
type Config struct {
	// BufferSize is the per-module buffer, applied to both the intake
	// channel and the topic. A module that falls behind fills its own
	// buffers and starts losing batches; Dispatch never blocks on it.
	BufferSize int64

	// ModuleTimeout is the default per-call timeout.
	ModuleTimeout time.Duration
}

// Dispatcher routes batches to module consumers over a Watermill
// gochannel pub/sub.
type Dispatcher struct {
	cfg    Config
	pubsub *gochannel.GoChannel

	mu      sync.RWMutex
	modules []*ModuleSpec
	intakes map[string]chan *message.Message

	ready         chan struct{}
	consumersOnce sync.Once
	consumerWG    sync.WaitGroup
}

// New constructs a Dispatcher. Modules must be registered before Run.
func New(cfg Config) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.ModuleTimeout <= 0 {
		cfg.ModuleTimeout = 10 * time.Second
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, newWatermillLogger())
	return &Dispatcher{
		cfg:     cfg,
		pubsub:  pubsub,
		intakes: make(map[string]chan *message.Message),
		ready:   make(chan struct{}),
	}
}

// Register adds a module. Names must be unique.
func (d *Dispatcher) Register(spec *ModuleSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("module name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("module %s has no handler", spec.Name)
	}
	if spec.Tier != TierCore && spec.Tier != TierAdvanced {
		return fmt.Errorf("module %s has invalid tier %q", spec.Name, spec.Tier)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.modules {
		if m.Name == spec.Name {
			return fmt.Errorf("module %s already registered", spec.Name)
		}
	}
	d.modules = append(d.modules, spec)
	d.intakes[spec.Name] = make(chan *message.Message, int(d.cfg.BufferSize))
	logging.Info().Str("module", spec.Name).Str("tier", string(spec.Tier)).
		Strs("categories", spec.Categories).Msg("detection module registered")
	return nil
}

// Modules returns the registered specs.
func (d *Dispatcher) Modules() []*ModuleSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*ModuleSpec, len(d.modules))
	copy(out, d.modules)
	return out
}

func topicFor(module string) string {
	return "batches." + module
}

// Run starts one consumer and one intake forwarder per registered
// module and blocks until ctx is canceled. Suture-compatible.
func (d *Dispatcher) Run(ctx context.Context) error {
	var startErr error
	d.consumersOnce.Do(func() {
		for _, spec := range d.Modules() {
			msgs, err := d.pubsub.Subscribe(ctx, topicFor(spec.Name))
			if err != nil {
				startErr = fmt.Errorf("subscribe module %s: %w", spec.Name, err)
				return
			}
			d.consumerWG.Add(2)
			go d.consume(ctx, spec, msgs)
			go d.forward(ctx, spec)
		}
		close(d.ready)
	})
	if startErr != nil {
		return startErr
	}

	<-ctx.Done()
	// Close the pub/sub before waiting: it unblocks any forwarder stuck
	// publishing against a full topic and ends the consumer ranges.
	if err := d.pubsub.Close(); err != nil {
		logging.Warn().Err(err).Msg("pubsub close")
	}
	d.consumerWG.Wait()
	return ctx.Err()
}

// forward drains one module's intake into its topic. Publish blocks
// when the topic buffer is full; that backpressure stays between this
// goroutine and the module's intake, never inside Dispatch.
func (d *Dispatcher) forward(ctx context.Context, spec *ModuleSpec) {
	defer d.consumerWG.Done()
	intake := d.intakeFor(spec.Name)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-intake:
			if err := d.pubsub.Publish(topicFor(spec.Name), msg); err != nil {
				logging.Warn().Err(err).Str("module", spec.Name).
					Msg("publish to module topic failed")
			}
		}
	}
}

func (d *Dispatcher) intakeFor(name string) chan *message.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.intakes[name]
}

// consume drains one module's topic.
func (d *Dispatcher) consume(ctx context.Context, spec *ModuleSpec, msgs <-chan *message.Message) {
	defer d.consumerWG.Done()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = d.cfg.ModuleTimeout
	}

	for msg := range msgs {
		batch, err := spool.DecodeBatch(msg.Payload)
		if err != nil {
			// Cannot happen for batches we published; guard anyway.
			logging.Error().Err(err).Str("module", spec.Name).Msg("undecodable dispatch payload")
			msg.Ack()
			continue
		}

		d.handleOne(ctx, spec, batch, timeout)
		// Always ack: a module failure is isolated to that module and
		// surfaced via metrics, never replayed to stall the topic.
		msg.Ack()
	}
}

func (d *Dispatcher) handleOne(ctx context.Context, spec *ModuleSpec, batch *capture.PacketBatch, timeout time.Duration) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := spec.Handler.HandleBatch(callCtx, batch)
	metrics.DispatchDuration.WithLabelValues(spec.Name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.DispatchOutcomes.WithLabelValues(spec.Name, "ok").Inc()
	case callCtx.Err() != nil:
		metrics.DispatchOutcomes.WithLabelValues(spec.Name, "timeout").Inc()
		logging.Warn().Str("module", spec.Name).Str("batch_id", batch.BatchID).
			Dur("timeout", timeout).Msg("module timed out handling batch")
	default:
		metrics.DispatchOutcomes.WithLabelValues(spec.Name, "error").Inc()
		logging.Warn().Err(err).Str("module", spec.Name).Str("batch_id", batch.BatchID).
			Msg("module failed handling batch")
	}
}

// Ready is closed once every module consumer is subscribed. Batches
// dispatched before that point sit in the intakes, bounded by the
// buffer size, until the forwarders start.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Dispatch offers a batch to every interested module's intake and
// returns without waiting on any of them; module processing is
// asynchronous. A module whose intake is full loses this batch for
// itself alone, and the drop is counted per module so a saturated
// module never delays delivery to the modules after it.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *capture.PacketBatch) error {
	payload, err := spool.EncodeBatch(batch)
	if err != nil {
		return fmt.Errorf("encode batch for dispatch: %w", err)
	}

	for _, spec := range d.Modules() {
		if !interested(spec, batch) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := message.NewMessage(batch.BatchID+"."+spec.Name, payload)
		select {
		case d.intakeFor(spec.Name) <- msg:
		default:
			metrics.DispatchOutcomes.WithLabelValues(spec.Name, "dropped").Inc()
			logging.Warn().Str("module", spec.Name).Str("batch_id", batch.BatchID).
				Msg("module intake full, batch dropped for this module")
		}
	}
	return nil
}

// interested reports whether any record in the batch matches the
// module's category subscriptions. Matching mirrors the capture
// filter's category rule: case-insensitive substring on event type.
func interested(spec *ModuleSpec, batch *capture.PacketBatch) bool {
	if len(spec.Categories) == 0 {
		return true
	}
	for _, rec := range batch.Records {
		event := strings.ToLower(rec.EventType)
		for _, cat := range spec.Categories {
			if strings.Contains(event, strings.ToLower(cat)) {
				return true
			}
		}
	}
	return false
}
