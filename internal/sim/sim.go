/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sim drives an fq-codel scheduler instance with synthetic traffic over a fixed-rate link. It provides the
// deficit round-robin dequeue loop the scheduler core leaves to its caller, and models senders that pause while a
// flow-control advisory is outstanding.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/advisory"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/directory"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/droplimit"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/scheduler"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// Simulator runs one scenario against one scheduler instance.
type Simulator struct {
	config *Config
	logger logr.Logger
	clock  clock.WithTicker
	sinks  []contracts.EventSink
	id     string

	sched   *scheduler.Scheduler
	server  Server
	sources []*source
	byKey   map[types.FlowKey]*source
	rng     *rand.Rand
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock sets the clock the virtual timeline starts from and, in realtime mode, is paced against.
func WithClock(clk clock.WithTicker) Option {
	return func(s *Simulator) { s.clock = clk }
}

// WithEventSink adds a sink that observes every scheduler event, e.g. `metrics.Sink`.
func WithEventSink(sink contracts.EventSink) Option {
	return func(s *Simulator) { s.sinks = append(s.sinks, sink) }
}

// WithSchedulerID sets the scheduler instance ID.
func WithSchedulerID(id string) Option {
	return func(s *Simulator) { s.id = id }
}

// New builds the scheduler instance and traffic sources described by config.
func New(config *Config, logger logr.Logger, opts ...Option) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	s := &Simulator{
		config: config,
		logger: logger.WithName("simulator"),
		clock:  clock.RealClock{},
		byKey:  make(map[types.FlowKey]*source),
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(s)
	}

	sources, err := newSources(config, s.server.Group)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if _, dup := s.byKey[src.key]; dup {
			return nil, fmt.Errorf("flow %s collides with another flow on key %s", src.name, src.key)
		}
		s.byKey[src.key] = src
	}
	s.sources = sources

	schedCfg, err := config.Scheduler.schedulerConfig()
	if err != nil {
		return nil, err
	}
	limitCfg, err := config.Scheduler.dropLimitConfig()
	if err != nil {
		return nil, err
	}
	advCfg, err := config.Scheduler.advisoryConfig(s.onFeedback)
	if err != nil {
		return nil, err
	}
	dirCfg, err := config.Scheduler.directoryConfig()
	if err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithClock(s.clock),
		scheduler.WithDirectory(directory.New(dirCfg, logger)),
		scheduler.WithAdvisor(advisory.New(advCfg, logger)),
		scheduler.WithDropLimitPolicy(droplimit.New(limitCfg, logger)),
		scheduler.WithEventSink(append(contracts.MultiSink{contracts.EventSinkFunc(s.observe)}, s.sinks...)),
	}
	if s.id != "" {
		schedOpts = append(schedOpts, scheduler.WithID(s.id))
	}
	s.sched, err = scheduler.New(schedCfg, logger, schedOpts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Scheduler returns the simulated scheduler instance.
func (s *Simulator) Scheduler() *scheduler.Scheduler { return s.sched }

// Realtime reports whether ticks are paced against the wall clock.
func (s *Simulator) Realtime() bool { return s.config.Realtime }

// Run plays the scenario to completion or until ctx is done. The report reflects the progress made either way.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	cfg := s.config
	start := s.clock.Now()
	steps := int(cfg.Duration / cfg.Tick)
	linkBytesPerTick := cfg.LinkRateMbps * 1e6 / 8 * cfg.Tick.Seconds()
	purgeInterval := s.sched.Config().PurgeInterval

	var ticks <-chan time.Time
	if cfg.Realtime {
		ticker := s.clock.NewTicker(cfg.Tick)
		defer ticker.Stop()
		ticks = ticker.C()
	}

	s.logger.Info("Simulation starting", "instance", s.sched.ID(), "flows", len(s.sources),
		"duration", cfg.Duration, "tick", cfg.Tick, "linkRateMbps", cfg.LinkRateMbps, "realtime", cfg.Realtime)

	var linkCredit float64
	var lastPurge, elapsed time.Duration
	for step := 1; step <= steps; step++ {
		if ticks != nil {
			select {
			case <-ctx.Done():
				return s.report(elapsed), ctx.Err()
			case <-ticks:
			}
		} else if err := ctx.Err(); err != nil {
			return s.report(elapsed), err
		}

		elapsed = time.Duration(step) * cfg.Tick
		now := start.Add(elapsed)
		s.sched.Do(func(txn *scheduler.Txn) {
			s.offer(txn, now, elapsed)

			linkCredit += linkBytesPerTick
			for linkCredit > 0 {
				p, ok := s.server.Next(txn, now)
				if !ok {
					// An idle link does not bank transmission credit.
					linkCredit = 0
					break
				}
				linkCredit -= float64(p.Len())
				p.Free()
			}

			// In realtime mode the scheduler's own purge loop runs against the same clock.
			if !cfg.Realtime && elapsed-lastPurge >= purgeInterval {
				if n := txn.PurgeIdleFlows(now); n > 0 {
					s.logger.V(logutil.DEBUG).Info("Reclaimed idle flows", "count", n, "elapsed", elapsed)
				}
				lastPurge = elapsed
			}
		})
		if step%1000 == 0 {
			s.logger.V(logutil.VERBOSE).Info("Simulation progress", "elapsed", elapsed,
				"queued", s.sched.Snapshot().Len)
		}
	}

	r := s.report(elapsed)
	s.logger.Info("Simulation finished", "sent", r.Sent, "delivered", r.Delivered, "dropped", r.Dropped,
		"compressed", r.Compressed, "queued", r.Queued)
	return r, nil
}

// offer enqueues the tick's arrivals of every source. Compressible flows enqueue packet by packet so each arrival
// can replace the previous one.
func (s *Simulator) offer(txn *scheduler.Txn, now time.Time, elapsed time.Duration) {
	for _, src := range s.sources {
		pkts := src.arrivals(now, elapsed, 0.5+s.rng.Float64())
		if len(pkts) == 0 {
			continue
		}
		if src.gen != 0 {
			for _, p := range pkts {
				txn.Enqueue(src.key.Group, types.NewBatch(p), src.key.Class)
			}
			continue
		}
		txn.Enqueue(src.key.Group, types.NewBatch(pkts...), src.key.Class)
	}
}

// observe attributes scheduler events to their sources. It runs with the scheduler capability held.
func (s *Simulator) observe(ev contracts.Event) {
	src, ok := s.byKey[ev.Key]
	if !ok {
		return
	}
	switch ev.Kind {
	case contracts.EventDequeue:
		src.stats.Delivered++
		src.stats.DeliveredBytes += ev.Bytes
		src.stats.delaySum += ev.Delay
		if ev.Delay > src.stats.MaxDelay {
			src.stats.MaxDelay = ev.Delay
		}
	case contracts.EventDrop:
		src.stats.Dropped += uint64(ev.Packets)
	case contracts.EventCompressed:
		src.stats.Compressed += uint64(ev.Packets)
	case contracts.EventFlowControl, contracts.EventOverwhelming:
		src.stats.Advisories++
		src.paused = true
	}
}

// onFeedback is the advisory table's release callback: the sender may transmit again.
func (s *Simulator) onFeedback(key types.FlowKey, _ types.FlowSource) {
	src, ok := s.byKey[key]
	if !ok {
		return
	}
	src.stats.Feedbacks++
	src.paused = false
}
