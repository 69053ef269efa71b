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
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/queue"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// ClassStats holds the counters of a `ServiceClassQueue`.
type ClassStats struct {
	// ByteCount and PktCount are the bytes and packets currently queued in the class.
	ByteCount uint64
	PktCount  uint64

	// NewFlowsCount and OldFlowsCount are the current lengths of the activation lists.
	NewFlowsCount uint64
	OldFlowsCount uint64

	// Drop-cause counters, in packets. Every discarded packet is counted in exactly one of these.
	DropEarly       uint64
	DropOverflow    uint64
	DropMemFailure  uint64
	DropFlowControl uint64

	// FlowControl counts successful advisory registrations, FlowControlFail failed ones.
	FlowControl     uint64
	FlowControlFail uint64
	// FlowFeedback counts release feedback deliveries.
	FlowFeedback uint64

	PktsCompressible uint64
	PktsCompressed   uint64

	// Dequeue and DequeueBytes count delivered packets. They restart from zero if the average delay computation
	// would overflow.
	Dequeue      uint64
	DequeueBytes uint64

	MinQDelay time.Duration
	MaxQDelay time.Duration
	AvgQDelay time.Duration

	DequeueStall uint64
	Overwhelming uint64
}

// Drops returns the sum of the drop-cause counters.
func (s ClassStats) Drops() uint64 {
	return s.DropEarly + s.DropOverflow + s.DropMemFailure + s.DropFlowControl
}

// ServiceClassQueue holds the activation lists of one service class within a group.
type ServiceClassQueue struct {
	group   types.GroupID
	class   types.ServiceClass
	quantum uint32

	newFlows *queue.List[types.FlowHandle]
	oldFlows *queue.List[types.FlowHandle]

	stats ClassStats
}

func newServiceClassQueue(group types.GroupID, class types.ServiceClass, quantum uint32) *ServiceClassQueue {
	return &ServiceClassQueue{
		group:    group,
		class:    class,
		quantum:  quantum,
		newFlows: queue.NewList[types.FlowHandle](),
		oldFlows: queue.NewList[types.FlowHandle](),
	}
}

// Class returns the service class.
func (c *ServiceClassQueue) Class() types.ServiceClass { return c.class }

// Quantum returns the byte budget granted to a flow on activation.
func (c *ServiceClassQueue) Quantum() uint32 { return c.quantum }

// NewFlowsHead returns the first flow on the new-flows list.
func (c *ServiceClassQueue) NewFlowsHead() (types.FlowHandle, bool) { return c.newFlows.PeekHead() }

// OldFlowsHead returns the first flow on the old-flows list.
func (c *ServiceClassQueue) OldFlowsHead() (types.FlowHandle, bool) { return c.oldFlows.PeekHead() }

// NewFlowsLen returns the length of the new-flows list.
func (c *ServiceClassQueue) NewFlowsLen() int { return c.newFlows.Len() }

// OldFlowsLen returns the length of the old-flows list.
func (c *ServiceClassQueue) OldFlowsLen() int { return c.oldFlows.Len() }

// EachNewFlow calls fn for every flow on the new-flows list, in order, until fn returns false.
func (c *ServiceClassQueue) EachNewFlow(fn func(h types.FlowHandle) bool) { c.newFlows.Each(fn) }

// EachOldFlow calls fn for every flow on the old-flows list, in order, until fn returns false.
func (c *ServiceClassQueue) EachOldFlow(fn func(h types.FlowHandle) bool) { c.oldFlows.Each(fn) }

// Backlogged reports whether any flow of the class is active.
func (c *ServiceClassQueue) Backlogged() bool { return !c.newFlows.Empty() || !c.oldFlows.Empty() }

// Stats returns a copy of the class counters.
func (c *ServiceClassQueue) Stats() ClassStats { return c.stats }

// Group is a set of service class queues sharing one delay target. A flow's classification parameters are those of
// its group.
type Group struct {
	id             types.GroupID
	targetDelay    time.Duration
	updateInterval time.Duration

	classes [types.NumServiceClasses]*ServiceClassQueue

	len   uint64
	bytes uint64
}

func newGroup(cfg *Config, gc GroupConfig) *Group {
	g := &Group{
		id:             gc.ID,
		targetDelay:    gc.TargetDelay,
		updateInterval: gc.UpdateInterval,
	}
	for i := range g.classes {
		class := types.ServiceClass(i)
		g.classes[i] = newServiceClassQueue(gc.ID, class, cfg.quantumFor(gc, class))
	}
	return g
}

// ID returns the group's identifier.
func (g *Group) ID() types.GroupID { return g.id }

// TargetDelay returns the group's CoDel target delay.
func (g *Group) TargetDelay() time.Duration { return g.targetDelay }

// UpdateInterval returns the group's classification epoch.
func (g *Group) UpdateInterval() time.Duration { return g.updateInterval }

// Class returns the queue of the given service class.
func (g *Group) Class(class types.ServiceClass) *ServiceClassQueue { return g.classes[class] }

// Len returns the number of packets queued in the group.
func (g *Group) Len() uint64 { return g.len }

// Bytes returns the number of bytes queued in the group.
func (g *Group) Bytes() uint64 { return g.bytes }
