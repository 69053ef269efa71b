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

// Package advisory provides the reference `contracts.Advisor`: a bounded table of outstanding flow-control entries
// and the delivery of release feedback to the paused senders.
package advisory

import (
	"fmt"

	"github.com/go-logr/logr"

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// defaultCapacity bounds the number of flows that can be paused at once.
const defaultCapacity = 1024

// FeedbackFunc delivers release feedback for a flow to the layer identified by src.
type FeedbackFunc func(key types.FlowKey, src types.FlowSource)

// Config holds the configuration for a `Table`.
type Config struct {
	// Capacity bounds the number of outstanding entries. Registration fails once it is reached.
	// Optional: Defaults to `defaultCapacity` (1024).
	Capacity int

	// Feedback is called for every released entry.
	// Optional: Defaults to a no-op.
	Feedback FeedbackFunc
}

// ConfigOption is a functional option for configuring a Table.
type ConfigOption func(*Config)

// WithCapacity sets the table capacity.
func WithCapacity(n int) ConfigOption {
	return func(c *Config) {
		c.Capacity = n
	}
}

// WithFeedback sets the release feedback callback.
func WithFeedback(fn FeedbackFunc) ConfigOption {
	return func(c *Config) {
		c.Feedback = fn
	}
}

// NewConfig creates a new Config with the given options, applying defaults and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{Capacity: defaultCapacity}
	for _, opt := range opts {
		opt(c)
	}
	if c.Capacity <= 0 {
		return nil, fmt.Errorf("%w: Capacity must be positive, but got %d", types.ErrInvalidConfig, c.Capacity)
	}
	if c.Feedback == nil {
		c.Feedback = func(types.FlowKey, types.FlowSource) {}
	}
	return c, nil
}

// Table is the reference advisory channel. It is not safe for concurrent use; the owning scheduler calls it under
// its single-writer capability.
type Table struct {
	config  *Config
	logger  logr.Logger
	entries map[types.FlowKey]types.FlowSource
}

var _ contracts.Advisor = &Table{}

// New creates a Table. A nil config selects the defaults of `NewConfig`.
func New(config *Config, logger logr.Logger) *Table {
	if config == nil {
		config, _ = NewConfig()
	}
	return &Table{
		config:  config,
		logger:  logger.WithName("flow-advisory"),
		entries: make(map[types.FlowKey]types.FlowSource),
	}
}

// RequestAdvisory registers an entry for key. Registering a flow that already has an entry succeeds without using
// more capacity; a source that cannot receive advisories is refused.
func (t *Table) RequestAdvisory(key types.FlowKey, src types.FlowSource) bool {
	if !src.FlowControlCapable() {
		return false
	}
	if _, ok := t.entries[key]; ok {
		t.entries[key] = src
		return true
	}
	if len(t.entries) >= t.config.Capacity {
		t.logger.V(logutil.VERBOSE).Info("Flow advisory table full", "flow", key, "capacity", t.config.Capacity,
			"error", types.ErrAdvisoryTableFull)
		return false
	}
	t.entries[key] = src
	t.logger.V(logutil.DEBUG).Info("Flow advisory registered", "flow", key, "source", src)
	return true
}

// Release removes key's entry and delivers feedback to its source.
func (t *Table) Release(key types.FlowKey) bool {
	src, ok := t.entries[key]
	if !ok {
		return false
	}
	delete(t.entries, key)
	t.config.Feedback(key, src)
	t.logger.V(logutil.DEBUG).Info("Flow advisory released", "flow", key, "source", src)
	return true
}

// Outstanding reports whether key has an entry.
func (t *Table) Outstanding(key types.FlowKey) bool {
	_, ok := t.entries[key]
	return ok
}

// Len returns the number of outstanding entries.
func (t *Table) Len() int { return len(t.entries) }
