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
	"math"
	"math/bits"
	"time"

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// Dequeue removes the head packet of the flow queue h and runs delay measurement and classification against now. It
// returns false if the backlog is empty.
//
// Ownership of the returned packet passes to the caller. Its timestamp is cleared.
func (t *Txn) Dequeue(h types.FlowHandle, now time.Time) (types.Packet, bool) {
	s := t.sched()
	fq := t.mustFlow("dequeue", h)
	g, cl := t.placement(fq)

	pkt, ok := t.dequeueInternal(fq, g, cl)
	if !ok {
		return nil, false
	}

	var qdelay time.Duration
	if ts := pkt.Timestamp(); now.After(ts) {
		qdelay = now.Sub(ts)
	}

	if fq.minQDelay == 0 || (qdelay > 0 && qdelay < fq.minQDelay) {
		fq.minQDelay = qdelay
	}
	t.recordClassDelay(cl, qdelay, uint64(pkt.Len()))

	if !now.Before(fq.updateTime) {
		if fq.minQDelay > g.targetDelay {
			if !fq.conditions.Has(ConditionDelayHigh) {
				fq.set(ConditionDelayHigh)
				s.logger.Error(nil, "Flow delay above target", "flow", fq.key, "minDelay", fq.minQDelay,
					"target", g.targetDelay, "bytes", fq.bytes)
				s.emit(contracts.Event{Kind: contracts.EventDelayHigh, Key: fq.key, Packets: fq.packets,
					Bytes: fq.bytes, Delay: fq.minQDelay})
			}
		} else {
			fq.clear(ConditionDelayHigh)
		}
		fq.updateTime = now.Add(g.updateInterval)
		fq.minQDelay = 0
	}

	if lf, _, tracked := t.trackedLargeFlow(); !tracked || lf != h || !s.dropLimit.NearDropLimit(t, h) {
		fq.clear(ConditionOverwhelming)
	}
	if fq.backlog.Empty() {
		fq.clear(ConditionDelayHigh)
	}

	if fq.conditions.Has(ConditionFlowControlOn) && !fq.conditions.Any(ConditionDelayHigh|ConditionOverwhelming) {
		t.flowFeedback(fq, cl)
	}

	if fq.backlog.Empty() {
		fq.lastDequeueTime = time.Time{}
	} else {
		fq.lastDequeueTime = now
	}

	t.updateLargeFlow(h, fq)

	pkt.SetTimestamp(time.Time{})
	pkt.SetFlags(pkt.Flags() &^ types.FlagGuarded)

	s.emit(contracts.Event{Kind: contracts.EventDequeue, Key: fq.key, Packets: 1, Bytes: uint64(pkt.Len()),
		Delay: qdelay})
	return pkt, true
}

// dequeueInternal pops the head packet and updates every byte and packet aggregate.
func (t *Txn) dequeueInternal(fq *FlowQueue, g *Group, cl *ServiceClassQueue) (types.Packet, bool) {
	s := t.sched()
	const op = "dequeue"
	pkt, ok := fq.backlog.PopHead()
	if !ok {
		return nil, false
	}
	n := uint64(pkt.Len())
	subUint64(op, fq.key, "flow bytes", &fq.bytes, n)
	if fq.packets == 0 {
		invariantf(op, fq.key, "flow packet count underflow")
	}
	fq.packets--
	subUint64(op, fq.key, "class bytes", &cl.stats.ByteCount, n)
	subUint64(op, fq.key, "class packets", &cl.stats.PktCount, 1)
	subUint64(op, fq.key, "group bytes", &g.bytes, n)
	subUint64(op, fq.key, "group packets", &g.len, 1)
	subUint64(op, fq.key, "instance bytes", &s.ifBytes, n)
	subUint64(op, fq.key, "instance packets", &s.ifLen, 1)

	if fq.backlog.Empty() {
		if fq.bytes != 0 {
			invariantf(op, fq.key, "empty backlog with %d bytes", fq.bytes)
		}
		fq.lastDequeueTime = time.Time{}
	}
	return pkt, true
}

// recordClassDelay folds a sojourn sample into the class's min, max and running average, then counts the dequeue.
//
// The running average is avg' = (avg*n + q) / (n+1). If n+1 would wrap, the dequeue counters restart and the
// average is reseeded with q; if the product or the sum would wrap, the average alone is reseeded.
func (t *Txn) recordClassDelay(cl *ServiceClassQueue, qdelay time.Duration, bytes uint64) {
	st := &cl.stats
	if st.MinQDelay == 0 || (qdelay > 0 && qdelay < st.MinQDelay) {
		st.MinQDelay = qdelay
	}
	if st.MaxQDelay == 0 || qdelay > st.MaxQDelay {
		st.MaxQDelay = qdelay
	}

	q := uint64(qdelay)
	switch {
	case st.Dequeue == 0:
		st.AvgQDelay = qdelay
	case q > 0:
		n := st.Dequeue
		if n == math.MaxUint64 {
			t.sched().logger.V(logutil.DEFAULT).Info("Class dequeue counter wrapped, restarting delay average",
				"class", cl.class, "group", cl.group)
			st.Dequeue = 0
			st.DequeueBytes = 0
			st.AvgQDelay = qdelay
			break
		}
		hi, product := bits.Mul64(uint64(st.AvgQDelay), n)
		sum, carry := bits.Add64(product, q, 0)
		if hi != 0 || carry != 0 {
			st.AvgQDelay = qdelay
			break
		}
		st.AvgQDelay = time.Duration(sum / (n + 1))
	}

	st.Dequeue++
	st.DequeueBytes += bytes
}

// headDrop discards the oldest packet of fq and charges it to the instance drop counters. The caller charges the
// class drop-cause counter. It returns false if the backlog is empty.
func (t *Txn) headDrop(fq *FlowQueue, cause contracts.DropCause) bool {
	s := t.sched()
	g, cl := t.placement(fq)
	pkt, ok := t.dequeueInternal(fq, g, cl)
	if !ok {
		return false
	}
	pkt.SetTimestamp(time.Time{})
	pkt.SetFlags(pkt.Flags() &^ types.FlagGuarded)

	n := uint64(pkt.Len())
	s.ifDropPackets++
	s.ifDropBytes += n
	pkt.Free()

	s.logger.V(logutil.TRACE).Info("Head drop", "flow", fq.key, "bytes", n, "cause", cause)
	s.emit(contracts.Event{Kind: contracts.EventDrop, Key: fq.key, Packets: 1, Bytes: n, Cause: cause})
	return true
}

// flowFeedback releases the flow's advisory and clears FlowControlOn.
func (t *Txn) flowFeedback(fq *FlowQueue, cl *ServiceClassQueue) {
	s := t.sched()
	if s.advisor.Release(fq.key) {
		cl.stats.FlowFeedback++
		s.logger.V(logutil.DEBUG).Info("Flow-control released", "flow", fq.key)
		s.emit(contracts.Event{Kind: contracts.EventFlowFeedback, Key: fq.key, Packets: fq.packets, Bytes: fq.bytes})
	}
	fq.clear(ConditionFlowControlOn)
}

// --- Large flow tracking ---

// trackedLargeFlow resolves the tracked large flow, forgetting it if its handle went stale.
func (t *Txn) trackedLargeFlow() (types.FlowHandle, *FlowQueue, bool) {
	s := t.sched()
	if s.largeFlow.IsZero() {
		return types.FlowHandle{}, nil, false
	}
	fq, ok := s.arena.get(s.largeFlow)
	if !ok {
		s.largeFlow = types.FlowHandle{}
		return types.FlowHandle{}, nil, false
	}
	return s.largeFlow, fq, true
}

// updateLargeFlow re-evaluates the instance's heaviest flow after fq (handle h) changed size.
func (t *Txn) updateLargeFlow(h types.FlowHandle, fq *FlowQueue) {
	s := t.sched()
	limit := s.config.LargeFlowByteLimit

	if _, prev, ok := t.trackedLargeFlow(); ok && prev.bytes < limit {
		s.largeFlow = types.FlowHandle{}
	}
	if fq == nil || fq.bytes < limit {
		return
	}
	_, prev, ok := t.trackedLargeFlow()
	switch {
	case !ok:
		if !fq.backlog.Empty() {
			s.largeFlow = h
		}
	case fq.bytes > prev.bytes:
		s.largeFlow = h
	}
}
