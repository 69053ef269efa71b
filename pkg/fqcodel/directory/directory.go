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

// Package directory provides the reference `contracts.FlowDirectory`: a hash table from flow key to flow queue handle
// plus the Empty list on which drained flow queues age until they are reclaimed.
package directory

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/queue"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

const (
	// defaultIdleTimeout is how long a drained flow queue stays parked before it is reclaimed.
	defaultIdleTimeout = 10 * time.Second
	// defaultMaxPurgePerCall bounds the flow queues reclaimed by one Purge call.
	defaultMaxPurgePerCall = 1024
)

// Config holds the configuration for a `Directory`.
type Config struct {
	// IdleTimeout is how long a flow queue must stay parked on the Empty list before Purge reclaims it.
	// Optional: Defaults to `defaultIdleTimeout` (10 seconds).
	IdleTimeout time.Duration

	// MaxPurgePerCall bounds the work of one Purge call so that reclamation cannot monopolize the scheduler.
	// Optional: Defaults to `defaultMaxPurgePerCall` (1024).
	MaxPurgePerCall int
}

// ConfigOption is a functional option for configuring a Directory.
type ConfigOption func(*Config)

// WithIdleTimeout sets the idle timeout.
func WithIdleTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithMaxPurgePerCall sets the per-call reclamation bound.
func WithMaxPurgePerCall(n int) ConfigOption {
	return func(c *Config) {
		c.MaxPurgePerCall = n
	}
}

// NewConfig creates a new Config with the given options, applying defaults and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		IdleTimeout:     defaultIdleTimeout,
		MaxPurgePerCall: defaultMaxPurgePerCall,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.IdleTimeout < 0 {
		return nil, fmt.Errorf("%w: IdleTimeout must not be negative, but got %v", types.ErrInvalidConfig,
			c.IdleTimeout)
	}
	if c.MaxPurgePerCall <= 0 {
		return nil, fmt.Errorf("%w: MaxPurgePerCall must be positive, but got %d", types.ErrInvalidConfig,
			c.MaxPurgePerCall)
	}
	return c, nil
}

// entry is the directory's record of one flow queue.
type entry struct {
	key    types.FlowKey
	handle types.FlowHandle
	// becameIdleAt is when the flow queue was parked. A zero value means the flow queue is in use.
	becameIdleAt time.Time
	// parked is the entry's element on the Empty list while parked.
	parked *queue.Handle[*entry]
}

// Directory is the reference flow directory.
//
// It is not safe for concurrent use; the owning scheduler calls it under its single-writer capability.
type Directory struct {
	config *Config
	logger logr.Logger

	flows map[types.FlowKey]*entry
	// empty holds parked entries in the order they were parked, so the oldest is at the head.
	empty *queue.List[*entry]
}

var _ contracts.FlowDirectory = &Directory{}

// New creates a Directory. A nil config selects the defaults of `NewConfig`.
func New(config *Config, logger logr.Logger) *Directory {
	if config == nil {
		config, _ = NewConfig()
	}
	return &Directory{
		config: config,
		logger: logger.WithName("flow-directory"),
		flows:  make(map[types.FlowKey]*entry),
		empty:  queue.NewList[*entry](),
	}
}

// LookupOrCreate returns the flow queue for key, unparking it if needed, or allocates one from pool.
func (d *Directory) LookupOrCreate(
	pool contracts.FlowPool,
	key types.FlowKey,
	src types.FlowSource,
	now time.Time,
	create bool,
) (types.FlowHandle, error) {
	if e, ok := d.flows[key]; ok {
		if pool.Valid(e.handle) {
			if !e.parked.IsInvalidated() {
				d.unpark(e)
				pool.Unpark(e.handle)
			}
			return e.handle, nil
		}
		// The pool destroyed the flow queue behind our back.
		d.logger.V(logutil.DEBUG).Info("Dropping stale directory entry", "flow", key, "handle", e.handle)
		d.forget(e)
	}

	if !create {
		return types.FlowHandle{}, fmt.Errorf("lookup of flow %s: %w", key, types.ErrFlowNotFound)
	}
	h, err := pool.Alloc(key, src, now)
	if err != nil {
		return types.FlowHandle{}, fmt.Errorf("failed to allocate flow %s: %w", key, err)
	}
	d.flows[key] = &entry{key: key, handle: h}
	return h, nil
}

// Park starts aging the flow queue h.
func (d *Directory) Park(h types.FlowHandle, key types.FlowKey, now time.Time) {
	e, ok := d.flows[key]
	if !ok || e.handle != h {
		e = &entry{key: key, handle: h}
		d.flows[key] = e
	}
	if !e.parked.IsInvalidated() {
		return
	}
	e.becameIdleAt = now
	e.parked = d.empty.PushBack(e)
	d.logger.V(logutil.TRACE).Info("Flow parked", "flow", key)
}

// Purge reclaims parked flow queues idle for at least the idle timeout at now, oldest first.
func (d *Directory) Purge(pool contracts.FlowPool, now time.Time) int {
	n := 0
	for n < d.config.MaxPurgePerCall {
		e, ok := d.empty.PeekHead()
		if !ok || now.Sub(e.becameIdleAt) < d.config.IdleTimeout {
			break
		}
		d.forget(e)
		if pool.Valid(e.handle) {
			pool.Reclaim(e.handle)
			n++
		}
	}
	if n > 0 {
		d.logger.V(logutil.DEBUG).Info("Purged idle flows", "count", n, "remaining", len(d.flows))
	}
	return n
}

// Len returns the number of flow queues known to the directory.
func (d *Directory) Len() int { return len(d.flows) }

// Parked returns the number of flow queues on the Empty list.
func (d *Directory) Parked() int { return d.empty.Len() }

func (d *Directory) unpark(e *entry) {
	if _, err := d.empty.Remove(e.parked); err != nil {
		panic(fmt.Sprintf("flow directory: parked entry for %s not on the Empty list: %v", e.key, err))
	}
	e.parked = nil
	e.becameIdleAt = time.Time{}
}

func (d *Directory) forget(e *entry) {
	if !e.parked.IsInvalidated() {
		d.unpark(e)
	}
	if cur, ok := d.flows[e.key]; ok && cur == e {
		delete(d.flows, e.key)
	}
}
