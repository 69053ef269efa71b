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
	"strconv"
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// EventKind classifies an observability event.
type EventKind int

const (
	// EventFlowAlloc is emitted when a flow queue is allocated.
	EventFlowAlloc EventKind = iota
	// EventFlowDestroy is emitted when a flow queue is destroyed.
	EventFlowDestroy
	// EventEnqueue is emitted when a batch is queued. Packets and Bytes describe the batch.
	EventEnqueue
	// EventDequeue is emitted for every delivered packet. Delay carries the sojourn delay.
	EventDequeue
	// EventDrop is emitted whenever packets are discarded. Cause names the drop counter.
	EventDrop
	// EventCompressed is emitted when an arriving packet replaced the flow's tail packet.
	EventCompressed
	// EventDequeueStall is emitted when a backlogged flow has not been serviced for an update interval.
	EventDequeueStall
	// EventDelayHigh is emitted when a flow transitions into the DelayHigh condition.
	EventDelayHigh
	// EventOverwhelming is emitted when a flow is marked Overwhelming at the drop limit.
	EventOverwhelming
	// EventFlowControl is emitted when a flow-control advisory is registered for a flow.
	EventFlowControl
	// EventFlowFeedback is emitted when release feedback is delivered to a flow.
	EventFlowFeedback
)

func (k EventKind) String() string {
	switch k {
	case EventFlowAlloc:
		return "FlowAlloc"
	case EventFlowDestroy:
		return "FlowDestroy"
	case EventEnqueue:
		return "Enqueue"
	case EventDequeue:
		return "Dequeue"
	case EventDrop:
		return "Drop"
	case EventCompressed:
		return "Compressed"
	case EventDequeueStall:
		return "DequeueStall"
	case EventDelayHigh:
		return "DelayHigh"
	case EventOverwhelming:
		return "Overwhelming"
	case EventFlowControl:
		return "FlowControl"
	case EventFlowFeedback:
		return "FlowFeedback"
	default:
		return "UnknownEvent(" + strconv.Itoa(int(k)) + ")"
	}
}

// DropCause names the counter a drop was accounted to.
type DropCause string

const (
	DropCauseEarly       DropCause = "early"
	DropCauseOverflow    DropCause = "overflow"
	DropCauseMemFailure  DropCause = "mem_failure"
	DropCauseFlowControl DropCause = "flow_control"
	DropCauseHeadDrop    DropCause = "head_drop"
)

// Event is a structured observability record.
type Event struct {
	Kind     EventKind
	Instance string
	Key      types.FlowKey
	// Packets and Bytes describe the packets the event refers to, or the flow backlog for condition events.
	Packets uint32
	Bytes   uint64
	// Delay is the sojourn delay for dequeue and high-delay events, or the time since the last dequeue for stall
	// events.
	Delay time.Duration
	// Cause is set for EventDrop.
	Cause DropCause
}

// EventSink receives observability events. Implementations must not block.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a function to the `EventSink` interface.
type EventSinkFunc func(ev Event)

// Emit calls f(ev).
func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

// Emit delivers ev to every sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// NopSink discards every event.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(Event) {}
