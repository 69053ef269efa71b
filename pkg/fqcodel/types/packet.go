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
	"strconv"
	"time"
)

// PacketType identifies the in-memory packet representation a scheduler instance is built for. An instance handles
// exactly one representation for its whole lifetime.
type PacketType uint8

const (
	// PacketTypeInvalid is the zero value and never a valid representation.
	PacketTypeInvalid PacketType = iota
	// PacketTypeBuffer is the classic chained network buffer representation.
	PacketTypeBuffer
	// PacketTypeChannel is the user-space networking channel packet representation.
	PacketTypeChannel
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInvalid:
		return "Invalid"
	case PacketTypeBuffer:
		return "Buffer"
	case PacketTypeChannel:
		return "Channel"
	default:
		return "UnknownPacketType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Protocol is the IP protocol number of a packet's transport.
type Protocol uint8

const (
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
	ProtocolQUIC Protocol = 253
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolQUIC:
		return "QUIC"
	default:
		return strconv.Itoa(int(p))
	}
}

// ReactsToAdvisory reports whether the transport slows down on a flow-control advisory alone. Flows of any other
// protocol are also dropped when throttled.
func (p Protocol) ReactsToAdvisory() bool {
	return p == ProtocolTCP || p == ProtocolQUIC
}

// PacketFlags holds the per-packet control flags read and written by the scheduler.
type PacketFlags uint32

const (
	// FlagFlowAdvisory marks a packet whose sender asked to receive flow-control advisories.
	FlagFlowAdvisory PacketFlags = 1 << iota
	// FlagGuarded is set while a packet is owned by a flow queue. Enqueueing a guarded packet is a fatal defect.
	FlagGuarded
)

// Has reports whether all bits of f are set.
func (p PacketFlags) Has(f PacketFlags) bool { return p&f == f }

// Packet is the accessor contract through which the scheduler reads and writes the metadata of a single packet. The
// scheduler never inspects payload bytes.
type Packet interface {
	// Type returns the packet representation.
	Type() PacketType
	// Len returns the packet length in bytes.
	Len() uint32
	// Timestamp returns the enqueue timestamp. The zero time means "not stamped".
	Timestamp() time.Time
	// SetTimestamp overwrites the enqueue timestamp.
	SetTimestamp(ts time.Time)
	// FlowID returns the opaque flow hash.
	FlowID() uint32
	// FlowSource returns the layer that can receive advisories for this packet's flow.
	FlowSource() FlowSource
	// Protocol returns the transport protocol.
	Protocol() Protocol
	// ServiceClass returns the service class the packet is queued under.
	ServiceClass() ServiceClass
	// Flags returns the control flags.
	Flags() PacketFlags
	// SetFlags overwrites the control flags.
	SetFlags(f PacketFlags)
	// CompressionGen returns the compression generation tag. Zero means "not compressible".
	CompressionGen() uint32
	// Free releases the packet back to its allocator. The packet must not be used afterwards.
	Free()
}

// Batch is a chain of packets belonging to the same flow, enqueued as one unit.
type Batch struct {
	Packets []Packet
}

// NewBatch returns a batch of the given packets in chain order.
func NewBatch(pkts ...Packet) Batch {
	return Batch{Packets: pkts}
}

// Count returns the number of packets in the chain.
func (b Batch) Count() uint32 { return uint32(len(b.Packets)) }

// Head returns the first packet of the chain, which carries the metadata for the whole batch. It returns nil for an
// empty batch.
func (b Batch) Head() Packet {
	if len(b.Packets) == 0 {
		return nil
	}
	return b.Packets[0]
}

// Bytes returns the total chain length in bytes.
func (b Batch) Bytes() uint64 {
	var n uint64
	for _, p := range b.Packets {
		n += uint64(p.Len())
	}
	return n
}

// Free releases every packet in the chain.
func (b Batch) Free() {
	for _, p := range b.Packets {
		p.Free()
	}
}
