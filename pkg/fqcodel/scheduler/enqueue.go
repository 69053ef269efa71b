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

	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// dropVerdict is the admission pipeline's running decision about the arriving batch.
type dropVerdict int

const (
	dropNone dropVerdict = iota
	// dropEarly discards the batch because its flow is congested.
	dropEarly
	// dropForced discards the batch because an advisory could not be registered or the instance is full.
	dropForced
)

// Enqueue admits a batch of packets of one flow into the given group and service class.
//
// The batch's head packet supplies the flow identity, the advisory source, the protocol and the enqueue time. Every
// packet of the batch must carry an enqueue timestamp. The pipeline is:
//
//  1. Locate or create the flow queue. Allocation failure drops the batch.
//  2. Detect a dequeue stall.
//  3. If the flow is DelayHigh or Overwhelming, respond to congestion: request an advisory from
//     capable senders, otherwise head-drop from the backlog, or early-drop the batch if there is nothing to drop.
//  4. Register the advisory, dropping the batch if registration fails.
//  5. At the instance drop limit, penalize the large flow.
//  6. Compress a single compressible packet against the flow's tail.
//  7. Queue the batch and activate the flow if it was not active.
//
// A dropped batch is freed and counted in exactly one drop-cause counter of the class and in the instance drop
// counters.
func (t *Txn) Enqueue(group types.GroupID, batch types.Batch, class types.ServiceClass) types.Result {
	s := t.sched()
	const op = "enqueue"

	head := batch.Head()
	if head == nil {
		invariantf(op, types.FlowKey{Group: group, Class: class}, "empty batch")
	}
	key := types.FlowKey{Group: group, FlowID: head.FlowID(), Class: class}
	t.checkArrival(key, batch)

	g, ok := s.groups[group]
	if !ok {
		invariantf(op, key, "%v", types.ErrUnknownGroup)
	}
	cl := g.classes[class]
	cnt := batch.Count()
	now := head.Timestamp()
	flags := head.Flags()
	head.SetFlags(flags | types.FlagGuarded)

	h, err := s.directory.LookupOrCreate(t, key, head.FlowSource(), now, true)
	if err != nil {
		cl.stats.DropMemFailure += uint64(cnt)
		s.logger.V(logutil.DEBUG).Info("Dropping batch, no flow queue", "flow", key, "packets", cnt, "error", err)
		t.dropBatch(key, batch, contracts.DropCauseMemFailure)
		return types.ResultDrop
	}
	fq := t.mustFlow(op, h)
	if fq.key != key {
		invariantf(op, key, "directory returned flow %s", fq.key)
	}

	t.detectDequeueStall(fq, g, cl, now)

	var (
		verdict    = dropNone
		cause      contracts.DropCause
		fcAdvisory bool
		ret        = types.ResultSuccess
		proto      = head.Protocol()
	)

	if fq.conditions.Any(ConditionDelayHigh | ConditionOverwhelming) {
		if fq.conditions.Has(ConditionFlowControlCapable) && flags.Has(types.FlagFlowAdvisory) {
			fcAdvisory = true
			// Transports that only react to loss are dropped as well as throttled.
			if !proto.ReactsToAdvisory() {
				verdict, cause = dropEarly, contracts.DropCauseEarly
				cl.stats.DropEarly += uint64(cnt)
			}
		} else if !fq.backlog.Empty() {
			// Make room for the new arrival by dropping from the head of the queue.
			var dropped uint64
			for i := uint32(0); i < cnt; i++ {
				if !t.headDrop(fq, contracts.DropCauseEarly) {
					break
				}
				dropped++
			}
			cl.stats.DropEarly += dropped
		} else {
			verdict, cause = dropEarly, contracts.DropCauseEarly
			cl.stats.DropEarly += uint64(cnt)
		}
	}

	if fcAdvisory {
		if s.advisor.RequestAdvisory(key, fq.source) {
			fq.set(ConditionFlowControlOn)
			cl.stats.FlowControl++
			s.emit(contracts.Event{Kind: contracts.EventFlowControl, Key: key, Packets: fq.packets, Bytes: fq.bytes})
			if verdict == dropNone {
				ret = types.ResultSuccessWithFlowControl
			} else {
				ret = types.ResultDropWithFlowControl
			}
		} else {
			cl.stats.FlowControlFail++
			if verdict == dropNone {
				verdict, cause = dropForced, contracts.DropCauseFlowControl
				cl.stats.DropFlowControl += uint64(cnt)
			}
			ret = types.ResultDropWithFlowControl
			s.logger.V(logutil.DEBUG).Info("Flow advisory registration failed, dropping batch", "flow", key)
		}
	}

	if verdict == dropNone && s.dropLimit.AtDropLimit(t) {
		lf, _, tracked := t.trackedLargeFlow()
		switch {
		case tracked && lf == h:
			// This flow is the cause of the overflow. Drop from its head and, for a loss-based transport that can
			// be throttled, also pause it.
			var dropped uint64
			for i := uint32(0); i < cnt; i++ {
				if !t.headDrop(fq, contracts.DropCauseOverflow) {
					break
				}
				dropped++
			}
			cl.stats.DropOverflow += dropped
			if fq.conditions.Has(ConditionFlowControlCapable) && flags.Has(types.FlagFlowAdvisory) &&
				!proto.ReactsToAdvisory() {
				if s.advisor.RequestAdvisory(key, fq.source) {
					fq.set(ConditionFlowControlOn | ConditionOverwhelming)
					cl.stats.FlowControl++
					cl.stats.Overwhelming++
					ret = types.ResultSuccessWithFlowControl
					s.logger.V(logutil.VERBOSE).Info("Flow is overwhelming the interface", "flow", key,
						"bytes", fq.bytes, "packets", fq.packets)
					s.emit(contracts.Event{Kind: contracts.EventOverwhelming, Key: key, Packets: fq.packets,
						Bytes: fq.bytes})
				} else {
					cl.stats.FlowControlFail++
				}
			}
		case !tracked:
			// No flow is large enough to blame. Drop the arrival.
			verdict, cause = dropForced, contracts.DropCauseOverflow
			cl.stats.DropOverflow += uint64(cnt)
			ret = types.ResultDrop
			if fq.backlog.Empty() && fq.lifecycle == LifecycleDetached {
				t.park(h, fq, now)
			}
		default:
			for i := uint32(0); i < cnt; i++ {
				s.dropLimit.DropVictim(t, now)
			}
		}
	}

	if verdict != dropNone {
		t.dropBatch(key, batch, cause)
		if fq.lifecycle == LifecycleDetached {
			t.park(h, fq, now)
		}
		if ret == types.ResultSuccess {
			return types.ResultDrop
		}
		return ret
	}

	if cnt == 1 && s.config.CompressionEnabled {
		if t.compress(fq, g, cl, head) == types.ResultCompressed {
			cl.stats.PktsCompressed++
			s.emit(contracts.Event{Kind: contracts.EventCompressed, Key: key, Packets: 1, Bytes: uint64(head.Len())})
		}
	}

	bytes := batch.Bytes()
	for _, p := range batch.Packets {
		fq.backlog.PushBack(p)
	}
	fq.bytes += bytes
	fq.packets += cnt
	cl.stats.ByteCount += bytes
	cl.stats.PktCount += uint64(cnt)
	g.len += uint64(cnt)
	g.bytes += bytes
	s.ifLen += uint64(cnt)
	s.ifBytes += bytes

	t.updateLargeFlow(h, fq)

	if !fq.lifecycle.Active() {
		t.activate(h, fq, cl)
	}

	s.logger.V(logutil.TRACE).Info("Batch enqueued", "flow", key, "packets", cnt, "bytes", bytes, "result", ret)
	s.emit(contracts.Event{Kind: contracts.EventEnqueue, Key: key, Packets: cnt, Bytes: bytes})
	return ret
}

// checkArrival verifies the batch is fit to be queued.
func (t *Txn) checkArrival(key types.FlowKey, batch types.Batch) {
	s := t.sched()
	const op = "enqueue"
	if !key.Class.Valid() {
		invariantf(op, key, "invalid service class %d", key.Class)
	}
	for _, p := range batch.Packets {
		if p.Timestamp().IsZero() {
			invariantf(op, key, "packet has no enqueue timestamp")
		}
		if p.Type() != s.config.PacketType {
			invariantf(op, key, "packet type %s does not match instance packet type %s", p.Type(),
				s.config.PacketType)
		}
		if p.Flags().Has(types.FlagGuarded) {
			invariantf(op, key, "packet is already queued")
		}
		if p.Len() == 0 {
			invariantf(op, key, "zero-length packet")
		}
	}
}

// dropBatch frees a rejected batch and charges it to the instance drop counters.
func (t *Txn) dropBatch(key types.FlowKey, batch types.Batch, cause contracts.DropCause) {
	s := t.sched()
	bytes := batch.Bytes()
	s.ifDropPackets += uint64(batch.Count())
	s.ifDropBytes += bytes
	for _, p := range batch.Packets {
		p.SetFlags(p.Flags() &^ types.FlagGuarded)
	}
	batch.Free()
	s.logger.V(logutil.TRACE).Info("Batch dropped", "flow", key, "packets", batch.Count(), "cause", cause)
	s.emit(contracts.Event{Kind: contracts.EventDrop, Key: key, Packets: batch.Count(), Bytes: bytes, Cause: cause})
}

// detectDequeueStall marks a flow DelayHigh when it holds a meaningful backlog but has not been serviced for a whole
// update interval, which happens when the dequeue loop starves it before any delay sample could be taken.
func (t *Txn) detectDequeueStall(fq *FlowQueue, g *Group, cl *ServiceClassQueue, now time.Time) {
	s := t.sched()
	if fq.conditions.Has(ConditionDelayHigh) || fq.lastDequeueTime.IsZero() || fq.backlog.Empty() ||
		fq.bytes < s.config.MinFlowControlThresholdBytes {
		return
	}
	deadline := fq.lastDequeueTime.Add(g.updateInterval)
	if !now.After(deadline) {
		return
	}
	fq.set(ConditionDelayHigh)
	cl.stats.DequeueStall++
	since := now.Sub(fq.lastDequeueTime)
	s.logger.Error(nil, "Flow dequeue stall detected", "flow", fq.key, "bytes", fq.bytes, "packets", fq.packets,
		"sinceLastDequeue", since, "lifecycle", fq.lifecycle)
	s.emit(contracts.Event{Kind: contracts.EventDequeueStall, Key: fq.key, Packets: fq.packets, Bytes: fq.bytes,
		Delay: since})
}

// compress replaces the flow's tail packet with pkt when both carry the same non-zero compression generation. pkt
// inherits the tail's timestamp so the merged packet keeps its place in delay accounting.
func (t *Txn) compress(fq *FlowQueue, g *Group, cl *ServiceClassQueue, pkt types.Packet) types.Result {
	s := t.sched()
	const op = "compress"
	gen := pkt.CompressionGen()
	if gen == 0 {
		return types.ResultSuccess
	}
	cl.stats.PktsCompressible++

	tail, ok := fq.backlog.PeekTail()
	if !ok || tail.CompressionGen() != gen {
		return types.ResultSuccess
	}
	fq.backlog.PopTail()

	n := uint64(tail.Len())
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

	pkt.SetTimestamp(tail.Timestamp())
	tail.SetTimestamp(time.Time{})
	tail.SetFlags(tail.Flags() &^ types.FlagGuarded)
	tail.Free()
	return types.ResultCompressed
}
