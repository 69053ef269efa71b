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

// FlowQueue is the per-flow state of the scheduler: the flow's packet backlog, its scheduling lifecycle and its
// delay/congestion classification.
//
// A FlowQueue is owned by the scheduler's arena and referenced everywhere else through a `types.FlowHandle`. All
// fields are guarded by the instance's `Txn` capability.
type FlowQueue struct {
	key    types.FlowKey
	source types.FlowSource

	backlog *queue.List[types.Packet]
	bytes   uint64
	packets uint32

	lifecycle  Lifecycle
	conditions Conditions
	// activation is the flow's element on its class's new- or old-flows list while Active.
	activation *queue.Handle[types.FlowHandle]

	minQDelay       time.Duration
	updateTime      time.Time
	lastDequeueTime time.Time

	deficit       int64
	inDequeueList bool
}

func (fq *FlowQueue) set(c Conditions)   { fq.conditions |= c }
func (fq *FlowQueue) clear(c Conditions) { fq.conditions &^= c }

// transition moves the flow queue along a lifecycle edge.
func (fq *FlowQueue) transition(op string, to Lifecycle) {
	if !canTransition(fq.lifecycle, to) {
		invariantf(op, fq.key, "invalid lifecycle transition %s -> %s", fq.lifecycle, to)
	}
	fq.lifecycle = to
}

// FlowInfo is a read-only snapshot of a `FlowQueue`.
type FlowInfo struct {
	Key             types.FlowKey
	Source          types.FlowSource
	Lifecycle       Lifecycle
	Conditions      Conditions
	Bytes           uint64
	Packets         uint32
	Deficit         int64
	InDequeueList   bool
	MinQDelay       time.Duration
	UpdateTime      time.Time
	LastDequeueTime time.Time
}

func (fq *FlowQueue) info() FlowInfo {
	return FlowInfo{
		Key:             fq.key,
		Source:          fq.source,
		Lifecycle:       fq.lifecycle,
		Conditions:      fq.conditions,
		Bytes:           fq.bytes,
		Packets:         fq.packets,
		Deficit:         fq.deficit,
		InDequeueList:   fq.inDequeueList,
		MinQDelay:       fq.minQDelay,
		UpdateTime:      fq.updateTime,
		LastDequeueTime: fq.lastDequeueTime,
	}
}

// --- Arena ---

// flowSlot is one arena slot. A slot is live while fq is non-nil; gen is bumped on every allocation so that handles
// to a previous occupant are detected as stale.
type flowSlot struct {
	gen uint32
	fq  *FlowQueue
	// spare keeps the last occupant's struct for reuse by the next allocation.
	spare *FlowQueue
}

// flowArena is the pooled flow queue allocator of an instance.
type flowArena struct {
	slots    []flowSlot
	free     []uint32
	live     int
	capacity int
}

func newFlowArena(capacity int) flowArena {
	return flowArena{capacity: capacity}
}

// alloc returns a zero-initialized flow queue and its handle.
func (a *flowArena) alloc() (types.FlowHandle, *FlowQueue, error) {
	if a.live >= a.capacity {
		return types.FlowHandle{}, nil, types.ErrFlowPoolExhausted
	}
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, flowSlot{})
	}
	slot := &a.slots[idx]
	slot.gen++
	if slot.gen == 0 {
		// Generation zero is reserved for the zero handle.
		slot.gen = 1
	}
	fq := slot.spare
	if fq == nil {
		fq = &FlowQueue{}
	}
	slot.spare = nil
	*fq = FlowQueue{backlog: queue.NewList[types.Packet]()}
	slot.fq = fq
	a.live++
	return types.NewFlowHandle(idx, slot.gen), fq, nil
}

// get resolves h, reporting false for stale or zero handles.
func (a *flowArena) get(h types.FlowHandle) (*FlowQueue, bool) {
	if h.IsZero() || int(h.Index()) >= len(a.slots) {
		return nil, false
	}
	slot := &a.slots[h.Index()]
	if slot.fq == nil || slot.gen != h.Generation() {
		return nil, false
	}
	return slot.fq, true
}

// release returns h's slot to the free list. The caller has verified h.
func (a *flowArena) release(h types.FlowHandle) {
	slot := &a.slots[h.Index()]
	slot.spare = slot.fq
	slot.fq = nil
	a.free = append(a.free, h.Index())
	a.live--
}

// each calls fn for every live flow queue.
func (a *flowArena) each(fn func(h types.FlowHandle, fq *FlowQueue)) {
	for i := range a.slots {
		if fq := a.slots[i].fq; fq != nil {
			fn(types.NewFlowHandle(uint32(i), a.slots[i].gen), fq)
		}
	}
}
