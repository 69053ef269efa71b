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

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// Txn is the single-writer capability of a `Scheduler`, returned by `Scheduler.Lock`. Every core operation is a Txn
// method. Using a Txn after `Unlock` panics.
//
// Txn also implements `contracts.FlowPool`, handed to the flow directory, and `contracts.Instance`, handed to the
// drop-limit policy, so that collaborators act on the instance under the same capability.
type Txn struct {
	s        *Scheduler
	released bool
}

var (
	_ contracts.FlowPool = &Txn{}
	_ contracts.Instance = &Txn{}
)

// Unlock releases the capability.
func (t *Txn) Unlock() {
	s := t.sched()
	t.released = true
	s.mu.Unlock()
}

func (t *Txn) sched() *Scheduler {
	if t.released {
		panic(&InvariantError{Op: "txn", Detail: "use of scheduler capability after Unlock"})
	}
	return t.s
}

// Group returns the group with the given ID.
func (t *Txn) Group(id types.GroupID) (*Group, bool) {
	g, ok := t.sched().groups[id]
	return g, ok
}

// Groups returns every group in configuration order.
func (t *Txn) Groups() []*Group {
	return t.sched().groupList
}

// Class returns the service class queue of class within group.
func (t *Txn) Class(group types.GroupID, class types.ServiceClass) (*ServiceClassQueue, bool) {
	g, ok := t.Group(group)
	if !ok || !class.Valid() {
		return nil, false
	}
	return g.classes[class], true
}

// Flow returns a snapshot of the flow queue h.
func (t *Txn) Flow(h types.FlowHandle) (FlowInfo, bool) {
	fq, ok := t.sched().arena.get(h)
	if !ok {
		return FlowInfo{}, false
	}
	return fq.info(), true
}

// mustFlow resolves h or panics.
func (t *Txn) mustFlow(op string, h types.FlowHandle) *FlowQueue {
	fq, ok := t.sched().arena.get(h)
	if !ok {
		invariantf(op, types.FlowKey{}, "%v: %s", types.ErrStaleFlowHandle, h)
	}
	return fq
}

// placement returns the group and class queue a flow queue belongs to.
func (t *Txn) placement(fq *FlowQueue) (*Group, *ServiceClassQueue) {
	g := t.sched().groups[fq.key.Group]
	return g, g.classes[fq.key.Class]
}

// --- contracts.FlowPool ---

// Alloc creates a zero-initialized, Detached flow queue for key.
func (t *Txn) Alloc(key types.FlowKey, src types.FlowSource, now time.Time) (types.FlowHandle, error) {
	s := t.sched()
	g, ok := s.groups[key.Group]
	if !ok {
		return types.FlowHandle{}, fmt.Errorf("cannot allocate flow %s: %w", key, types.ErrUnknownGroup)
	}
	if !key.Class.Valid() {
		invariantf("alloc", key, "invalid service class %d", key.Class)
	}
	h, fq, err := s.arena.alloc()
	if err != nil {
		s.logger.V(logutil.DEBUG).Info("Flow queue allocation failed", "flow", key, "error", err)
		return types.FlowHandle{}, err
	}
	fq.key = key
	fq.source = src
	fq.lifecycle = LifecycleDetached
	fq.updateTime = now.Add(g.updateInterval)
	if src.FlowControlCapable() {
		fq.set(ConditionFlowControlCapable)
	}
	s.logger.V(logutil.TRACE).Info("Flow queue allocated", "flow", key, "handle", h, "source", src)
	s.emit(contracts.Event{Kind: contracts.EventFlowAlloc, Key: key})
	return h, nil
}

// Unpark moves a parked flow queue back to Detached.
func (t *Txn) Unpark(h types.FlowHandle) {
	fq := t.mustFlow("unpark", h)
	fq.transition("unpark", LifecycleDetached)
}

// Reclaim destroys a parked flow queue.
func (t *Txn) Reclaim(h types.FlowHandle) {
	fq := t.mustFlow("reclaim", h)
	fq.transition("reclaim", LifecycleDetached)
	t.destroy(h, fq)
}

// Valid reports whether h refers to a live flow queue.
func (t *Txn) Valid(h types.FlowHandle) bool {
	_, ok := t.sched().arena.get(h)
	return ok
}

// DestroyFlow destroys a Detached flow queue. It panics unless the flow is not in a dequeue list, has no backlog,
// holds zero bytes, carries no lifecycle state and has no outstanding flow-control advisory.
func (t *Txn) DestroyFlow(h types.FlowHandle) {
	t.destroy(h, t.mustFlow("destroy", h))
}

func (t *Txn) destroy(h types.FlowHandle, fq *FlowQueue) {
	s := t.sched()
	const op = "destroy"
	switch {
	case fq.inDequeueList:
		invariantf(op, fq.key, "flow is in a dequeue list")
	case !fq.backlog.Empty():
		invariantf(op, fq.key, "backlog holds %d packets", fq.backlog.Len())
	case fq.lifecycle != LifecycleDetached:
		invariantf(op, fq.key, "lifecycle is %s", fq.lifecycle)
	case fq.bytes != 0:
		invariantf(op, fq.key, "byte count is %d", fq.bytes)
	case fq.conditions.Has(ConditionFlowControlOn):
		invariantf(op, fq.key, "flow-control advisory outstanding")
	}
	if s.largeFlow == h {
		s.largeFlow = types.FlowHandle{}
	}
	key := fq.key
	s.arena.release(h)
	s.logger.V(logutil.TRACE).Info("Flow queue destroyed", "flow", key, "handle", h)
	s.emit(contracts.Event{Kind: contracts.EventFlowDestroy, Key: key})
}

// --- contracts.Instance ---

// Len returns the number of packets queued across the instance.
func (t *Txn) Len() uint64 { return t.sched().ifLen }

// Bytes returns the number of bytes queued across the instance.
func (t *Txn) Bytes() uint64 { return t.sched().ifBytes }

// LargeFlow returns the tracked large flow, dropping the reference if it no longer resolves.
func (t *Txn) LargeFlow() (types.FlowHandle, bool) {
	h, _, ok := t.trackedLargeFlow()
	return h, ok
}

// HeadDrop discards the oldest packet of h on behalf of the drop-limit policy. The packet is accounted to the
// flow's class as an overflow drop.
func (t *Txn) HeadDrop(h types.FlowHandle) bool {
	fq, ok := t.sched().arena.get(h)
	if !ok {
		return false
	}
	if !t.headDrop(fq, contracts.DropCauseOverflow) {
		return false
	}
	_, cl := t.placement(fq)
	cl.stats.DropOverflow++
	t.updateLargeFlow(h, fq)
	return true
}

// DropCounters returns the interface-level drop counters.
func (t *Txn) DropCounters() (packets, bytes uint64) {
	s := t.sched()
	return s.ifDropPackets, s.ifDropBytes
}

// FlowCount returns the number of live flow queues.
func (t *Txn) FlowCount() int { return t.sched().arena.live }

// Snapshot copies the instance state.
func (t *Txn) Snapshot() Snapshot {
	s := t.sched()
	snap := Snapshot{
		ID:          s.id,
		Len:         s.ifLen,
		Bytes:       s.ifBytes,
		DropPackets: s.ifDropPackets,
		DropBytes:   s.ifDropBytes,
		Flows:       s.arena.live,
	}
	if _, fq, ok := t.trackedLargeFlow(); ok {
		snap.LargeFlow, snap.HasLargeFlow = fq.key, true
	}
	for _, g := range s.groupList {
		gs := GroupSnapshot{
			ID:             g.id,
			TargetDelay:    g.targetDelay,
			UpdateInterval: g.updateInterval,
			Len:            g.len,
			Bytes:          g.bytes,
		}
		for _, cl := range g.classes {
			gs.Classes = append(gs.Classes, ClassSnapshot{
				Class:    cl.class,
				Quantum:  cl.quantum,
				NewFlows: cl.newFlows.Len(),
				OldFlows: cl.oldFlows.Len(),
				Stats:    cl.stats,
			})
		}
		snap.Groups = append(snap.Groups, gs)
	}
	return snap
}

// CheckInvariants walks every live flow queue and activation list and reports the first inconsistency found.
func (t *Txn) CheckInvariants() error {
	s := t.sched()
	var err error
	var totalLen, totalBytes uint64
	s.arena.each(func(h types.FlowHandle, fq *FlowQueue) {
		if err != nil {
			return
		}
		var sum uint64
		fq.backlog.Each(func(p types.Packet) bool {
			sum += uint64(p.Len())
			return true
		})
		switch {
		case sum != fq.bytes:
			err = fmt.Errorf("flow %s: bytes %d != backlog sum %d", fq.key, fq.bytes, sum)
		case int(fq.packets) != fq.backlog.Len():
			err = fmt.Errorf("flow %s: packets %d != backlog length %d", fq.key, fq.packets, fq.backlog.Len())
		case (fq.bytes == 0) != fq.backlog.Empty():
			err = fmt.Errorf("flow %s: zero bytes with non-empty backlog", fq.key)
		case fq.lifecycle.Active() && fq.activation.IsInvalidated():
			err = fmt.Errorf("flow %s: %s flow not on an activation list", fq.key, fq.lifecycle)
		case !fq.lifecycle.Active() && !fq.activation.IsInvalidated():
			err = fmt.Errorf("flow %s: %s flow still on an activation list", fq.key, fq.lifecycle)
		case !fq.lifecycle.Active() && !fq.backlog.Empty():
			err = fmt.Errorf("flow %s: %s flow holds a backlog", fq.key, fq.lifecycle)
		}
		totalLen += uint64(fq.packets)
		totalBytes += fq.bytes
	})
	if err != nil {
		return err
	}
	if totalLen != s.ifLen || totalBytes != s.ifBytes {
		return fmt.Errorf("instance aggregates %d/%d != flow sums %d/%d", s.ifLen, s.ifBytes, totalLen, totalBytes)
	}
	for _, g := range s.groupList {
		for _, cl := range g.classes {
			for list, want := range map[string]Lifecycle{"new": LifecycleNew, "old": LifecycleOld} {
				l := cl.newFlows
				if want == LifecycleOld {
					l = cl.oldFlows
				}
				l.Each(func(h types.FlowHandle) bool {
					fq, ok := s.arena.get(h)
					if !ok {
						err = fmt.Errorf("class %s: stale handle %s on %s-flows list", cl.class, h, list)
					} else if fq.lifecycle != want {
						err = fmt.Errorf("flow %s: %s flow on %s-flows list", fq.key, fq.lifecycle, list)
					}
					return err == nil
				})
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
