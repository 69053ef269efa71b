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
	"fmt"
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// --- Defaults ---

const (
	// defaultTargetDelay is the sojourn delay above which a flow is classified as experiencing high delay.
	defaultTargetDelay = 10 * time.Millisecond
	// defaultUpdateInterval is the length of a delay classification epoch.
	defaultUpdateInterval = 100 * time.Millisecond
	// defaultQuantum is the byte budget granted to a flow when it is activated.
	defaultQuantum uint32 = 1500
	// defaultMinFlowControlThresholdBytes is the backlog below which a flow is never considered stalled.
	defaultMinFlowControlThresholdBytes uint64 = 7500
	// defaultLargeFlowByteLimit is the backlog a flow must hold to be tracked as the instance's large flow.
	defaultLargeFlowByteLimit uint64 = 15000
	// defaultMaxFlows bounds the flow arena across all groups of an instance.
	defaultMaxFlows = 32 * 1024
	// defaultPurgeInterval is how often Run asks the flow directory to reclaim idle flows.
	defaultPurgeInterval = 1 * time.Second
)

// GroupConfig describes one flow group.
type GroupConfig struct {
	// ID identifies the group. IDs must be unique within a Config.
	ID types.GroupID

	// TargetDelay is the group's CoDel target: a flow whose minimum sojourn delay over an update interval exceeds it
	// is classified DelayHigh.
	// Optional: Defaults to `defaultTargetDelay` (10ms).
	TargetDelay time.Duration

	// UpdateInterval is the delay classification epoch, also used as the dequeue stall threshold.
	// Optional: Defaults to `defaultUpdateInterval` (100ms).
	UpdateInterval time.Duration

	// Quanta overrides the activation quantum per service class.
	// Optional: Classes not listed use `Config.Quantum`.
	Quanta map[types.ServiceClass]uint32
}

// Config holds the configuration for a `Scheduler` instance.
type Config struct {
	// PacketType is the packet representation the instance handles for its whole lifetime.
	// Optional: Defaults to `types.PacketTypeBuffer`.
	PacketType types.PacketType

	// Groups lists the flow groups of the instance.
	// Optional: Defaults to a single group with ID 0 and default delay targets.
	Groups []GroupConfig

	// Quantum is the default activation quantum for every service class.
	// Optional: Defaults to `defaultQuantum` (1500 bytes).
	Quantum uint32

	// CompressionEnabled turns on merging of successive compressible packets of a flow.
	// Optional: Defaults to true.
	CompressionEnabled bool

	// MinFlowControlThresholdBytes is the backlog a flow must hold before dequeue stall detection applies.
	// Optional: Defaults to `defaultMinFlowControlThresholdBytes` (7500 bytes).
	MinFlowControlThresholdBytes uint64

	// LargeFlowByteLimit is the backlog a flow must hold to be tracked as the large flow.
	// Optional: Defaults to `defaultLargeFlowByteLimit` (15000 bytes).
	LargeFlowByteLimit uint64

	// MaxFlows bounds the number of flow queues allocated at once.
	// Optional: Defaults to `defaultMaxFlows` (32768).
	MaxFlows int

	// PurgeInterval is how often the background loop started by `Scheduler.Run` reclaims idle flows.
	// Optional: Defaults to `defaultPurgeInterval` (1 second).
	PurgeInterval time.Duration
}

// ConfigOption is a functional option for configuring a Scheduler.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		PacketType:                   types.PacketTypeBuffer,
		Quantum:                      defaultQuantum,
		CompressionEnabled:           true,
		MinFlowControlThresholdBytes: defaultMinFlowControlThresholdBytes,
		LargeFlowByteLimit:           defaultLargeFlowByteLimit,
		MaxFlows:                     defaultMaxFlows,
		PurgeInterval:                defaultPurgeInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	if len(c.Groups) == 0 {
		c.Groups = []GroupConfig{{ID: 0}}
	}
	for i := range c.Groups {
		g := &c.Groups[i]
		if g.TargetDelay == 0 {
			g.TargetDelay = defaultTargetDelay
		}
		if g.UpdateInterval == 0 {
			g.UpdateInterval = defaultUpdateInterval
		}
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	return c, nil
}

// WithPacketType sets the packet representation.
func WithPacketType(t types.PacketType) ConfigOption {
	return func(c *Config) {
		c.PacketType = t
	}
}

// WithGroups sets the flow groups.
func WithGroups(groups ...GroupConfig) ConfigOption {
	return func(c *Config) {
		c.Groups = append([]GroupConfig(nil), groups...)
	}
}

// WithQuantum sets the default activation quantum.
func WithQuantum(q uint32) ConfigOption {
	return func(c *Config) {
		c.Quantum = q
	}
}

// WithCompression enables or disables packet compression.
func WithCompression(enabled bool) ConfigOption {
	return func(c *Config) {
		c.CompressionEnabled = enabled
	}
}

// WithMinFlowControlThresholdBytes sets the stall detection backlog threshold.
func WithMinFlowControlThresholdBytes(n uint64) ConfigOption {
	return func(c *Config) {
		c.MinFlowControlThresholdBytes = n
	}
}

// WithLargeFlowByteLimit sets the large-flow tracking threshold.
func WithLargeFlowByteLimit(n uint64) ConfigOption {
	return func(c *Config) {
		c.LargeFlowByteLimit = n
	}
}

// WithMaxFlows sets the flow arena capacity.
func WithMaxFlows(n int) ConfigOption {
	return func(c *Config) {
		c.MaxFlows = n
	}
}

// WithPurgeInterval sets the idle flow reclamation interval.
func WithPurgeInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.PurgeInterval = d
	}
}

// validate checks the configuration for validity.
func (c *Config) validate() error {
	if c.PacketType == types.PacketTypeInvalid {
		return fmt.Errorf("PacketType must be set")
	}
	if c.Quantum == 0 {
		return fmt.Errorf("Quantum must be positive")
	}
	if c.MaxFlows <= 0 {
		return fmt.Errorf("MaxFlows must be positive, but got %d", c.MaxFlows)
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("PurgeInterval must be positive, but got %v", c.PurgeInterval)
	}
	seen := make(map[types.GroupID]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if _, dup := seen[g.ID]; dup {
			return fmt.Errorf("duplicate group ID %d", g.ID)
		}
		seen[g.ID] = struct{}{}
		if g.TargetDelay <= 0 {
			return fmt.Errorf("group %d: TargetDelay must be positive, but got %v", g.ID, g.TargetDelay)
		}
		if g.UpdateInterval <= 0 {
			return fmt.Errorf("group %d: UpdateInterval must be positive, but got %v", g.ID, g.UpdateInterval)
		}
		for class, q := range g.Quanta {
			if !class.Valid() {
				return fmt.Errorf("group %d: quantum set for invalid service class %d", g.ID, class)
			}
			if q == 0 {
				return fmt.Errorf("group %d: quantum for class %s must be positive", g.ID, class)
			}
		}
	}
	return nil
}

// quantumFor returns the activation quantum of class within g.
func (c *Config) quantumFor(g GroupConfig, class types.ServiceClass) uint32 {
	if q, ok := g.Quanta[class]; ok {
		return q
	}
	return c.Quantum
}
