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

package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/advisory"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/directory"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/droplimit"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/scheduler"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// Config describes one simulation run.
type Config struct {
	// Duration is the simulated time to run for.
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`
	// Tick is the simulated time step. Arrivals and link service are computed once per tick.
	Tick time.Duration `mapstructure:"tick" yaml:"tick"`
	// Realtime paces every tick against the wall clock instead of running as fast as possible.
	Realtime bool `mapstructure:"realtime" yaml:"realtime"`
	// LinkRateMbps is the drain rate of the simulated interface.
	LinkRateMbps float64 `mapstructure:"linkRateMbps" yaml:"linkRateMbps"`
	// Seed seeds the arrival jitter.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`

	Scheduler SchedulerSpec `mapstructure:"scheduler" yaml:"scheduler"`
	Flows     []FlowSpec    `mapstructure:"flows" yaml:"flows"`
}

// SchedulerSpec holds the scheduler tunables exposed to the simulator.
type SchedulerSpec struct {
	TargetDelay                  time.Duration `mapstructure:"targetDelay" yaml:"targetDelay"`
	UpdateInterval               time.Duration `mapstructure:"updateInterval" yaml:"updateInterval"`
	Quantum                      uint32        `mapstructure:"quantum" yaml:"quantum"`
	Compression                  bool          `mapstructure:"compression" yaml:"compression"`
	PacketLimit                  uint64        `mapstructure:"packetLimit" yaml:"packetLimit"`
	NearLimitPercent             uint64        `mapstructure:"nearLimitPercent" yaml:"nearLimitPercent"`
	LargeFlowByteLimit           uint64        `mapstructure:"largeFlowByteLimit" yaml:"largeFlowByteLimit"`
	MinFlowControlThresholdBytes uint64        `mapstructure:"minFlowControlThresholdBytes" yaml:"minFlowControlThresholdBytes"`
	MaxFlows                     int           `mapstructure:"maxFlows" yaml:"maxFlows"`
	AdvisoryCapacity             int           `mapstructure:"advisoryCapacity" yaml:"advisoryCapacity"`
	IdleTimeout                  time.Duration `mapstructure:"idleTimeout" yaml:"idleTimeout"`
	PurgeInterval                time.Duration `mapstructure:"purgeInterval" yaml:"purgeInterval"`
}

// FlowSpec describes a set of identical synthetic flows.
type FlowSpec struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Class is the service class name, e.g. "BE" or "VO".
	Class string `mapstructure:"class" yaml:"class"`
	// Protocol is one of tcp, udp or quic.
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
	// Source is one of none, socket, interface or channel. Socket and channel flows request advisories.
	Source string `mapstructure:"source" yaml:"source"`
	// RateMbps is the offered load of each flow.
	RateMbps   float64 `mapstructure:"rateMbps" yaml:"rateMbps"`
	PacketSize uint32  `mapstructure:"packetSize" yaml:"packetSize"`
	// Count is the number of flows generated from this spec.
	Count int `mapstructure:"count" yaml:"count"`
	// Compressible tags every packet with the same compression generation, like a stream of pure ACKs.
	Compressible bool `mapstructure:"compressible" yaml:"compressible"`
	// Start and Stop bound the flow's activity in simulated time. A zero Stop means "until the end".
	Start time.Duration `mapstructure:"start" yaml:"start"`
	Stop  time.Duration `mapstructure:"stop" yaml:"stop"`
}

// Default returns a Config with a mix of bulk, real-time and ACK traffic over a 100 Mbit/s link.
func Default() *Config {
	return &Config{
		Duration:     10 * time.Second,
		Tick:         time.Millisecond,
		LinkRateMbps: 100,
		Seed:         1,
		Scheduler: SchedulerSpec{
			TargetDelay:                  10 * time.Millisecond,
			UpdateInterval:               100 * time.Millisecond,
			Quantum:                      1500,
			Compression:                  true,
			PacketLimit:                  2048,
			NearLimitPercent:             90,
			LargeFlowByteLimit:           15000,
			MinFlowControlThresholdBytes: 7500,
			MaxFlows:                     32768,
			AdvisoryCapacity:             1024,
			IdleTimeout:                  10 * time.Second,
			PurgeInterval:                time.Second,
		},
		Flows: []FlowSpec{
			{Name: "bulk", Class: "BE", Protocol: "tcp", Source: "socket", RateMbps: 60, PacketSize: 1500, Count: 4},
			{Name: "video", Class: "VI", Protocol: "udp", Source: "interface", RateMbps: 8, PacketSize: 1200, Count: 2},
			{Name: "voice", Class: "VO", Protocol: "udp", Source: "channel", RateMbps: 0.1, PacketSize: 200, Count: 2},
			{Name: "acks", Class: "BE", Protocol: "tcp", Source: "socket", RateMbps: 1, PacketSize: 64, Count: 1,
				Compressible: true},
		},
	}
}

// Validate checks c for consistency.
func (c *Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, but got %v", c.Duration)
	}
	if c.Tick <= 0 || c.Tick > c.Duration {
		return fmt.Errorf("tick must be in (0, duration], but got %v", c.Tick)
	}
	if c.LinkRateMbps <= 0 {
		return fmt.Errorf("linkRateMbps must be positive, but got %v", c.LinkRateMbps)
	}
	if len(c.Flows) == 0 {
		return fmt.Errorf("at least one flow must be configured")
	}
	for i, f := range c.Flows {
		if _, err := types.ParseServiceClass(f.Class); err != nil {
			return fmt.Errorf("flows[%d] (%s): %w", i, f.Name, err)
		}
		if _, err := parseProtocol(f.Protocol); err != nil {
			return fmt.Errorf("flows[%d] (%s): %w", i, f.Name, err)
		}
		if _, err := parseSource(f.Source); err != nil {
			return fmt.Errorf("flows[%d] (%s): %w", i, f.Name, err)
		}
		if f.RateMbps <= 0 || f.PacketSize == 0 || f.Count <= 0 {
			return fmt.Errorf("flows[%d] (%s): rateMbps, packetSize and count must be positive", i, f.Name)
		}
		if f.Stop != 0 && f.Stop <= f.Start {
			return fmt.Errorf("flows[%d] (%s): stop %v must be after start %v", i, f.Name, f.Stop, f.Start)
		}
	}
	return nil
}

func parseProtocol(s string) (types.Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return types.ProtocolTCP, nil
	case "udp":
		return types.ProtocolUDP, nil
	case "quic":
		return types.ProtocolQUIC, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func parseSource(s string) (types.FlowSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return types.FlowSourceNone, nil
	case "socket":
		return types.FlowSourceSocket, nil
	case "interface":
		return types.FlowSourceInterface, nil
	case "channel":
		return types.FlowSourceChannel, nil
	default:
		return 0, fmt.Errorf("unknown flow source %q", s)
	}
}

// schedulerConfig translates the tunables into the scheduler's own config. Zero values keep the scheduler defaults.
func (s SchedulerSpec) schedulerConfig() (*scheduler.Config, error) {
	opts := []scheduler.ConfigOption{
		scheduler.WithGroups(scheduler.GroupConfig{TargetDelay: s.TargetDelay, UpdateInterval: s.UpdateInterval}),
		scheduler.WithCompression(s.Compression),
	}
	if s.Quantum != 0 {
		opts = append(opts, scheduler.WithQuantum(s.Quantum))
	}
	if s.LargeFlowByteLimit != 0 {
		opts = append(opts, scheduler.WithLargeFlowByteLimit(s.LargeFlowByteLimit))
	}
	if s.MinFlowControlThresholdBytes != 0 {
		opts = append(opts, scheduler.WithMinFlowControlThresholdBytes(s.MinFlowControlThresholdBytes))
	}
	if s.MaxFlows != 0 {
		opts = append(opts, scheduler.WithMaxFlows(s.MaxFlows))
	}
	if s.PurgeInterval != 0 {
		opts = append(opts, scheduler.WithPurgeInterval(s.PurgeInterval))
	}
	return scheduler.NewConfig(opts...)
}

func (s SchedulerSpec) dropLimitConfig() (*droplimit.Config, error) {
	var opts []droplimit.ConfigOption
	if s.PacketLimit != 0 {
		opts = append(opts, droplimit.WithPacketLimit(s.PacketLimit))
	}
	if s.NearLimitPercent != 0 {
		opts = append(opts, droplimit.WithNearLimitPercent(s.NearLimitPercent))
	}
	return droplimit.NewConfig(opts...)
}

func (s SchedulerSpec) advisoryConfig(feedback advisory.FeedbackFunc) (*advisory.Config, error) {
	opts := []advisory.ConfigOption{advisory.WithFeedback(feedback)}
	if s.AdvisoryCapacity != 0 {
		opts = append(opts, advisory.WithCapacity(s.AdvisoryCapacity))
	}
	return advisory.NewConfig(opts...)
}

func (s SchedulerSpec) directoryConfig() (*directory.Config, error) {
	var opts []directory.ConfigOption
	if s.IdleTimeout != 0 {
		opts = append(opts, directory.WithIdleTimeout(s.IdleTimeout))
	}
	return directory.NewConfig(opts...)
}
