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

// Package droplimit provides the reference `contracts.DropLimitPolicy`: an aggregate packet limit per scheduler
// instance, a near-limit band in which an overwhelming flow stays classified, and a victim selection that drops from
// the head of the instance's large flow.
package droplimit

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

const (
	// defaultPacketLimit is the aggregate number of packets an instance may hold.
	defaultPacketLimit = 2048
	// defaultNearLimitPercent is the share of the packet limit above which the instance counts as near its limit.
	defaultNearLimitPercent = 90
)

// Config holds the configuration for a `Policy`.
type Config struct {
	// PacketLimit is the aggregate packet limit.
	// Optional: Defaults to `defaultPacketLimit` (2048).
	PacketLimit uint64

	// NearLimitPercent is the share of PacketLimit, in percent, at or above which the instance is near its limit.
	// Optional: Defaults to `defaultNearLimitPercent` (90).
	NearLimitPercent uint64
}

// ConfigOption is a functional option for configuring a Policy.
type ConfigOption func(*Config)

// WithPacketLimit sets the aggregate packet limit.
func WithPacketLimit(n uint64) ConfigOption {
	return func(c *Config) {
		c.PacketLimit = n
	}
}

// WithNearLimitPercent sets the near-limit band.
func WithNearLimitPercent(p uint64) ConfigOption {
	return func(c *Config) {
		c.NearLimitPercent = p
	}
}

// NewConfig creates a new Config with the given options, applying defaults and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		PacketLimit:      defaultPacketLimit,
		NearLimitPercent: defaultNearLimitPercent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.PacketLimit == 0 {
		return nil, fmt.Errorf("%w: PacketLimit must be positive", types.ErrInvalidConfig)
	}
	if c.NearLimitPercent == 0 || c.NearLimitPercent > 100 {
		return nil, fmt.Errorf("%w: NearLimitPercent must be in (0, 100], but got %d", types.ErrInvalidConfig,
			c.NearLimitPercent)
	}
	return c, nil
}

// Policy is the reference drop-limit policy.
type Policy struct {
	config    *Config
	nearLimit uint64
	logger    logr.Logger
}

var _ contracts.DropLimitPolicy = &Policy{}

// New creates a Policy. A nil config selects the defaults of `NewConfig`.
func New(config *Config, logger logr.Logger) *Policy {
	if config == nil {
		config, _ = NewConfig()
	}
	return &Policy{
		config:    config,
		nearLimit: config.PacketLimit * config.NearLimitPercent / 100,
		logger:    logger.WithName("drop-limit"),
	}
}

// AtDropLimit reports whether the instance holds at least PacketLimit packets.
func (p *Policy) AtDropLimit(inst contracts.Instance) bool {
	return inst.Len() >= p.config.PacketLimit
}

// NearDropLimit reports whether the instance holds at least NearLimitPercent of PacketLimit packets.
func (p *Policy) NearDropLimit(inst contracts.Instance, _ types.FlowHandle) bool {
	return inst.Len() >= p.nearLimit
}

// DropVictim head-drops one packet from the instance's large flow, if one is tracked.
func (p *Policy) DropVictim(inst contracts.Instance, _ time.Time) {
	h, ok := inst.LargeFlow()
	if !ok {
		return
	}
	if !inst.HeadDrop(h) {
		p.logger.V(logutil.DEBUG).Info("Large flow had nothing to drop", "handle", h)
	}
}

// PacketLimit returns the configured aggregate packet limit.
func (p *Policy) PacketLimit() uint64 { return p.config.PacketLimit }
