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

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/advisory"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/directory"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/droplimit"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// Scheduler is one FQ-CoDel instance: the flow queues, service class queues and groups of a single transmit edge,
// together with the collaborators that locate flows, register advisories and enforce the aggregate limit.
//
// # Concurrency
//
// A Scheduler has exactly one writer at a time. Every core operation is a method of `Txn`, which is only obtainable
// through `Lock`. Collaborators are called synchronously while the capability is held and must not call back into
// the Scheduler through any other path.
type Scheduler struct {
	id     string
	config *Config
	logger logr.Logger
	clock  clock.WithTicker

	directory contracts.FlowDirectory
	advisor   contracts.Advisor
	dropLimit contracts.DropLimitPolicy
	sink      contracts.EventSink

	mu sync.Mutex

	arena     flowArena
	groups    map[types.GroupID]*Group
	groupList []*Group
	largeFlow types.FlowHandle

	ifLen         uint64
	ifBytes       uint64
	ifDropPackets uint64
	ifDropBytes   uint64
}

// Option configures optional collaborators of a Scheduler.
type Option func(*Scheduler)

// WithDirectory sets the flow directory. Defaults to a `directory.Directory` with default aging.
func WithDirectory(d contracts.FlowDirectory) Option {
	return func(s *Scheduler) {
		s.directory = d
	}
}

// WithAdvisor sets the advisory channel. Defaults to an `advisory.Table` with default capacity.
func WithAdvisor(a contracts.Advisor) Option {
	return func(s *Scheduler) {
		s.advisor = a
	}
}

// WithDropLimitPolicy sets the aggregate limit policy. Defaults to a `droplimit.Policy` with default limits.
func WithDropLimitPolicy(p contracts.DropLimitPolicy) Option {
	return func(s *Scheduler) {
		s.dropLimit = p
	}
}

// WithEventSink sets the observability sink. Defaults to `contracts.NopSink`.
func WithEventSink(sink contracts.EventSink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithClock sets the clock used by `Run`. Defaults to the real clock.
func WithClock(clk clock.WithTicker) Option {
	return func(s *Scheduler) {
		s.clock = clk
	}
}

// WithID sets the instance identifier used in logs and events. Defaults to a random UUID.
func WithID(id string) Option {
	return func(s *Scheduler) {
		s.id = id
	}
}

// New creates a Scheduler. A nil config selects the defaults of `NewConfig`.
func New(config *Config, logger logr.Logger, opts ...Option) (*Scheduler, error) {
	if config == nil {
		var err error
		if config, err = NewConfig(); err != nil {
			return nil, fmt.Errorf("failed to build default scheduler config: %w", err)
		}
	}

	s := &Scheduler{
		config: config,
		arena:  newFlowArena(config.MaxFlows),
		groups: make(map[types.GroupID]*Group, len(config.Groups)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.logger = logger.WithName("fq-scheduler").WithValues("instance", s.id)
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.sink == nil {
		s.sink = contracts.NopSink{}
	}
	if s.directory == nil {
		s.directory = directory.New(nil, s.logger)
	}
	if s.advisor == nil {
		s.advisor = advisory.New(nil, s.logger)
	}
	if s.dropLimit == nil {
		s.dropLimit = droplimit.New(nil, s.logger)
	}

	for _, gc := range config.Groups {
		g := newGroup(config, gc)
		s.groups[gc.ID] = g
		s.groupList = append(s.groupList, g)
	}

	s.logger.V(logutil.DEFAULT).Info("Scheduler instance created",
		"packetType", config.PacketType, "groups", len(config.Groups), "maxFlows", config.MaxFlows,
		"compression", config.CompressionEnabled)
	return s, nil
}

// ID returns the instance identifier.
func (s *Scheduler) ID() string { return s.id }

// Config returns the instance configuration. It must not be modified.
func (s *Scheduler) Config() *Config { return s.config }

// Lock acquires the instance's single-writer capability. The returned Txn must be released with `Txn.Unlock`.
func (s *Scheduler) Lock() *Txn {
	s.mu.Lock()
	return &Txn{s: s}
}

// Do runs fn with the capability held.
func (s *Scheduler) Do(fn func(txn *Txn)) {
	txn := s.Lock()
	defer txn.Unlock()
	fn(txn)
}

// Run starts the idle flow reclamation loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.V(logutil.DEFAULT).Info("Starting idle flow reclamation loop", "interval", s.config.PurgeInterval)
	defer s.logger.V(logutil.DEFAULT).Info("Idle flow reclamation loop stopped")

	ticker := s.clock.NewTicker(s.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			var n int
			s.Do(func(txn *Txn) { n = txn.PurgeIdleFlows(s.clock.Now()) })
			if n > 0 {
				s.logger.V(logutil.DEBUG).Info("Reclaimed idle flows", "count", n)
			}
		}
	}
}

// emit delivers an event to the sink, stamped with the instance ID.
func (s *Scheduler) emit(ev contracts.Event) {
	ev.Instance = s.id
	s.sink.Emit(ev)
}

// --- Snapshots ---

// ClassSnapshot is a copy of one service class queue's state.
type ClassSnapshot struct {
	Class    types.ServiceClass
	Quantum  uint32
	NewFlows int
	OldFlows int
	Stats    ClassStats
}

// GroupSnapshot is a copy of one group's state.
type GroupSnapshot struct {
	ID             types.GroupID
	TargetDelay    time.Duration
	UpdateInterval time.Duration
	Len            uint64
	Bytes          uint64
	Classes        []ClassSnapshot
}

// Snapshot is a point-in-time copy of an instance's aggregates and counters.
type Snapshot struct {
	ID          string
	Len         uint64
	Bytes       uint64
	DropPackets uint64
	DropBytes   uint64
	Flows       int
	// LargeFlow is the key of the tracked large flow, valid if HasLargeFlow.
	LargeFlow    types.FlowKey
	HasLargeFlow bool
	Groups       []GroupSnapshot
}

// Snapshot acquires the capability and copies the instance state.
func (s *Scheduler) Snapshot() Snapshot {
	var snap Snapshot
	s.Do(func(txn *Txn) { snap = txn.Snapshot() })
	return snap
}
