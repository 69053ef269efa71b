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

package types

import (
	"fmt"
	"strconv"
)

// ServiceClass identifies the traffic class a packet belongs to. Each class is served by its own
// `ServiceClassQueue` with its own activation lists and quantum.
//
// The numbering follows the ten canonical interface service classes, from background system traffic up to
// network control.
type ServiceClass uint8

const (
	ServiceClassBKSys ServiceClass = iota // background, system-initiated
	ServiceClassBK                        // background
	ServiceClassBE                        // best effort
	ServiceClassRD                        // responsive data
	ServiceClassOAM                       // operations, administration and management
	ServiceClassAV                        // multimedia audio/video streaming
	ServiceClassRV                        // responsive multimedia audio/video
	ServiceClassVI                        // interactive video
	ServiceClassVO                        // interactive voice
	ServiceClassCTL                       // network control

	// NumServiceClasses is the number of distinct service classes.
	NumServiceClasses = int(ServiceClassCTL) + 1
)

var serviceClassNames = [NumServiceClasses]string{
	"BK_SYS", "BK", "BE", "RD", "OAM", "AV", "RV", "VI", "VO", "CTL",
}

func (c ServiceClass) String() string {
	if c.Valid() {
		return serviceClassNames[c]
	}
	return "UnknownServiceClass(" + strconv.Itoa(int(c)) + ")"
}

// Valid reports whether the class is one of the known service classes.
func (c ServiceClass) Valid() bool {
	return int(c) < NumServiceClasses
}

// ParseServiceClass returns the ServiceClass whose String() form is s.
func ParseServiceClass(s string) (ServiceClass, error) {
	for i, name := range serviceClassNames {
		if name == s {
			return ServiceClass(i), nil
		}
	}
	return 0, fmt.Errorf("unknown service class %q", s)
}

// GroupID identifies a flow group within a scheduler instance. Each group owns one queue per service class and carries
// its own delay targets.
type GroupID uint8

// FlowKey is the identity of a flow queue within a scheduler instance: an opaque hash of the packet's 5-tuple paired
// with the group and service class it is queued under. The same flow hash arriving under two classes produces two
// distinct flow queues.
type FlowKey struct {
	// Group is the flow group the flow belongs to.
	Group GroupID
	// FlowID is the opaque flow hash carried by every packet of the flow.
	FlowID uint32
	// Class is the service class the flow's packets are queued under.
	Class ServiceClass
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%d/0x%08x/%s", k.Group, k.FlowID, k.Class)
}

// FlowHandle is a stable, generation-checked reference to a flow queue allocated from a scheduler's flow arena.
//
// A handle never owns the flow queue it refers to. Once the flow queue is destroyed its slot may be reused, but the
// generation counter changes so stale handles are detected on use rather than silently aliasing a new flow.
// The zero value is never a valid handle.
type FlowHandle struct {
	index uint32
	gen   uint32
}

// NewFlowHandle builds a handle for the given arena slot and generation. Generation zero is reserved for the
// invalid handle.
func NewFlowHandle(index, gen uint32) FlowHandle {
	return FlowHandle{index: index, gen: gen}
}

// Index returns the arena slot index.
func (h FlowHandle) Index() uint32 { return h.index }

// Generation returns the slot generation the handle was issued for.
func (h FlowHandle) Generation() uint32 { return h.gen }

// IsZero reports whether h is the zero (invalid) handle.
func (h FlowHandle) IsZero() bool { return h.gen == 0 }

func (h FlowHandle) String() string {
	if h.IsZero() {
		return "flow(nil)"
	}
	return fmt.Sprintf("flow(%d#%d)", h.index, h.gen)
}

// FlowSource identifies the layer that originated a flow's packets and is therefore able to receive flow-control
// advisories for it.
type FlowSource uint8

const (
	// FlowSourceNone means the packet carries no advisory source.
	FlowSourceNone FlowSource = iota
	// FlowSourceSocket is a transport protocol control block (a socket).
	FlowSourceSocket
	// FlowSourceInterface is the network interface itself.
	FlowSourceInterface
	// FlowSourceChannel is a user-space networking channel.
	FlowSourceChannel
)

func (s FlowSource) String() string {
	switch s {
	case FlowSourceNone:
		return "None"
	case FlowSourceSocket:
		return "Socket"
	case FlowSourceInterface:
		return "Interface"
	case FlowSourceChannel:
		return "Channel"
	default:
		return "UnknownFlowSource(" + strconv.Itoa(int(s)) + ")"
	}
}

// FlowControlCapable reports whether a flow originating from this source can be throttled with advisories.
func (s FlowSource) FlowControlCapable() bool {
	return s == FlowSourceSocket || s == FlowSourceChannel
}
