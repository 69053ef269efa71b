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

// This file holds the surface used by the external deficit round-robin loop: activation list movement, deficit
// bookkeeping and idle flow reclamation.

// activate puts a Detached flow queue on its class's new-flows list and grants it one quantum.
func (t *Txn) activate(h types.FlowHandle, fq *FlowQueue, cl *ServiceClassQueue) {
	fq.transition("activate", LifecycleNew)
	fq.activation = cl.newFlows.PushBack(h)
	fq.deficit = int64(cl.quantum)
	cl.stats.NewFlowsCount++
}

// park moves a Detached, empty flow queue onto the directory's Empty list.
func (t *Txn) park(h types.FlowHandle, fq *FlowQueue, now time.Time) {
	fq.transition("park", LifecycleEmpty)
	t.sched().directory.Park(h, fq.key, now)
}

// MoveToOld moves a New flow queue to the tail of its class's old-flows list, or rotates an Old flow queue to the
// tail. The caller tops up the deficit.
func (t *Txn) MoveToOld(h types.FlowHandle) {
	const op = "move-to-old"
	fq := t.mustFlow(op, h)
	_, cl := t.placement(fq)
	switch fq.lifecycle {
	case LifecycleNew:
		t.unlink(op, fq, cl.newFlows)
		fq.transition(op, LifecycleOld)
		subUint64(op, fq.key, "new flows count", &cl.stats.NewFlowsCount, 1)
		cl.stats.OldFlowsCount++
	case LifecycleOld:
		t.unlink(op, fq, cl.oldFlows)
	default:
		invariantf(op, fq.key, "flow is %s", fq.lifecycle)
	}
	fq.activation = cl.oldFlows.PushBack(h)
}

// Deactivate takes a drained flow queue off the activation lists and parks it with the flow directory. A New flow
// first passes through Old. Any outstanding flow-control advisory is released.
func (t *Txn) Deactivate(h types.FlowHandle, now time.Time) {
	const op = "deactivate"
	fq := t.mustFlow(op, h)
	if !fq.backlog.Empty() {
		invariantf(op, fq.key, "backlog holds %d packets", fq.backlog.Len())
	}
	_, cl := t.placement(fq)
	switch fq.lifecycle {
	case LifecycleNew:
		t.unlink(op, fq, cl.newFlows)
		fq.transition(op, LifecycleOld)
		subUint64(op, fq.key, "new flows count", &cl.stats.NewFlowsCount, 1)
	case LifecycleOld:
		t.unlink(op, fq, cl.oldFlows)
		subUint64(op, fq.key, "old flows count", &cl.stats.OldFlowsCount, 1)
	default:
		invariantf(op, fq.key, "flow is %s", fq.lifecycle)
	}
	fq.transition(op, LifecycleEmpty)
	fq.clear(ConditionDelayHigh | ConditionOverwhelming)
	if fq.conditions.Has(ConditionFlowControlOn) {
		t.flowFeedback(fq, cl)
	}
	fq.deficit = 0
	t.sched().directory.Park(h, fq.key, now)
}

func (t *Txn) unlink(op string, fq *FlowQueue, l *queue.List[types.FlowHandle]) {
	if _, err := l.Remove(fq.activation); err != nil {
		invariantf(op, fq.key, "flow not on its %s activation list: %v", fq.lifecycle, err)
	}
	fq.activation = nil
}

// Deficit returns the remaining byte credit of h.
func (t *Txn) Deficit(h types.FlowHandle) int64 {
	return t.mustFlow("deficit", h).deficit
}

// SetDeficit overwrites the byte credit of h.
func (t *Txn) SetDeficit(h types.FlowHandle, deficit int64) {
	t.mustFlow("set-deficit", h).deficit = deficit
}

// SetInDequeueList records whether h sits in a dequeue batch assembled by the external loop. Such a flow cannot be
// destroyed.
func (t *Txn) SetInDequeueList(h types.FlowHandle, in bool) {
	t.mustFlow("set-in-dequeue-list", h).inDequeueList = in
}

// PurgeIdleFlows asks the flow directory to reclaim parked flow queues that have aged out at now. It returns the
// number of flow queues destroyed.
func (t *Txn) PurgeIdleFlows(now time.Time) int {
	return t.sched().directory.Purge(t, now)
}
