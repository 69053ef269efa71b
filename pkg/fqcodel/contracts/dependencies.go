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

package contracts

import (
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// FlowPool is the scheduler's flow arena, exposed to a `FlowDirectory`.
//
// A flow queue returned by Alloc starts Detached: it is neither parked on the directory's Empty list nor on an
// activation list. The directory drives the Empty side of the lifecycle through Unpark and Reclaim; the core drives
// the New and Old side.
type FlowPool interface {
	// Alloc creates a zero-initialized flow queue for key.
	// Returns `types.ErrFlowPoolExhausted` if the pool is at capacity.
	Alloc(key types.FlowKey, src types.FlowSource, now time.Time) (types.FlowHandle, error)

	// Unpark moves a parked (Empty) flow queue back to Detached because a packet arrived for it.
	Unpark(h types.FlowHandle)

	// Reclaim destroys a parked (Empty) flow queue. The queue must satisfy every destroy precondition; a violation
	// panics.
	Reclaim(h types.FlowHandle)

	// Valid reports whether h refers to a live flow queue.
	Valid(h types.FlowHandle) bool
}

// FlowDirectory locates flow queues by key and owns the aging of Empty flow queues.
type FlowDirectory interface {
	// LookupOrCreate returns the flow queue for key. If no flow queue exists and create is true, one is allocated
	// from pool. A parked flow queue is unparked before it is returned.
	// Returns `types.ErrFlowNotFound` when create is false and no flow queue exists, or the pool's allocation error.
	LookupOrCreate(pool FlowPool, key types.FlowKey, src types.FlowSource, now time.Time, create bool) (
		types.FlowHandle, error)

	// Park records that the flow queue h (with key) has just become Empty at now and starts aging it.
	Park(h types.FlowHandle, key types.FlowKey, now time.Time)

	// Purge reclaims every parked flow queue that has been idle long enough at now, returning the number reclaimed.
	Purge(pool FlowPool, now time.Time) int

	// Len returns the number of flow queues known to the directory.
	Len() int
}

// Advisor is the transport-advisory channel of the owning interface.
type Advisor interface {
	// RequestAdvisory registers a flow-control entry for the flow so that its sender is paused. It returns false if
	// the entry could not be registered, in which case the caller must fall back to dropping.
	RequestAdvisory(key types.FlowKey, src types.FlowSource) bool

	// Release removes the flow's entry, if any, and delivers release feedback to its sender.
	// It reports whether an entry was found.
	Release(key types.FlowKey) bool
}

// Instance is the read/penalize view of a scheduler instance handed to a `DropLimitPolicy`.
type Instance interface {
	// Len returns the number of packets queued across the instance.
	Len() uint64
	// Bytes returns the number of bytes queued across the instance.
	Bytes() uint64
	// LargeFlow returns the currently tracked heaviest flow, if any.
	LargeFlow() (types.FlowHandle, bool)
	// HeadDrop discards the oldest packet of h. It returns false if h is stale or its backlog is empty.
	HeadDrop(h types.FlowHandle) bool
}

// DropLimitPolicy owns the aggregate backlog threshold of a scheduler instance.
type DropLimitPolicy interface {
	// AtDropLimit reports whether the instance has reached its aggregate limit.
	AtDropLimit(inst Instance) bool
	// NearDropLimit reports whether the instance is close enough to its limit that the flow h should keep its
	// Overwhelming classification.
	NearDropLimit(inst Instance, h types.FlowHandle) bool
	// DropVictim discards one packet chosen from across the instance to make room for an arrival.
	DropVictim(inst Instance, now time.Time)
}
