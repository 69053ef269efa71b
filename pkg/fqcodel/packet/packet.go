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

// Package packet provides a concrete, in-memory implementation of the `types.Packet` accessor contract together with
// the 5-tuple flow hash used to derive flow identifiers.
package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// Buffer is a heap-allocated packet header. It carries only the metadata the scheduler needs; payload bytes are not
// modeled.
type Buffer struct {
	Kind    types.PacketType
	Length  uint32
	Flow    uint32
	Source  types.FlowSource
	Proto   types.Protocol
	Class   types.ServiceClass
	CompGen uint32

	stamp  time.Time
	flags  types.PacketFlags
	freed  atomic.Bool
	onFree func(*Buffer)
}

var _ types.Packet = &Buffer{}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithSource sets the flow advisory source.
func WithSource(src types.FlowSource) Option {
	return func(b *Buffer) { b.Source = src }
}

// WithProtocol sets the transport protocol.
func WithProtocol(p types.Protocol) Option {
	return func(b *Buffer) { b.Proto = p }
}

// WithFlags sets the initial control flags.
func WithFlags(f types.PacketFlags) Option {
	return func(b *Buffer) { b.flags = f }
}

// WithCompressionGen tags the packet as compressible with the given generation.
func WithCompressionGen(gen uint32) Option {
	return func(b *Buffer) { b.CompGen = gen }
}

// WithType overrides the packet representation (defaults to `types.PacketTypeBuffer`).
func WithType(t types.PacketType) Option {
	return func(b *Buffer) { b.Kind = t }
}

// WithFreeFunc registers a callback invoked once when the packet is freed.
func WithFreeFunc(fn func(*Buffer)) Option {
	return func(b *Buffer) { b.onFree = fn }
}

// New returns a TCP packet of the given flow, class and length, stamped with ts.
func New(flowID uint32, class types.ServiceClass, length uint32, ts time.Time, opts ...Option) *Buffer {
	b := &Buffer{
		Kind:   types.PacketTypeBuffer,
		Length: length,
		Flow:   flowID,
		Proto:  types.ProtocolTCP,
		Class:  class,
		stamp:  ts,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Buffer) Type() types.PacketType           { return b.Kind }
func (b *Buffer) Len() uint32                      { return b.Length }
func (b *Buffer) Timestamp() time.Time             { return b.stamp }
func (b *Buffer) SetTimestamp(ts time.Time)        { b.stamp = ts }
func (b *Buffer) FlowID() uint32                   { return b.Flow }
func (b *Buffer) FlowSource() types.FlowSource     { return b.Source }
func (b *Buffer) Protocol() types.Protocol         { return b.Proto }
func (b *Buffer) ServiceClass() types.ServiceClass { return b.Class }
func (b *Buffer) Flags() types.PacketFlags         { return b.flags }
func (b *Buffer) SetFlags(f types.PacketFlags)     { b.flags = f }
func (b *Buffer) CompressionGen() uint32           { return b.CompGen }

// Free releases the packet. Freeing a packet twice is a fatal defect.
func (b *Buffer) Free() {
	if !b.freed.CompareAndSwap(false, true) {
		panic(fmt.Errorf("%w: packet of flow 0x%08x freed twice", types.ErrInvariantViolation, b.Flow))
	}
	if b.onFree != nil {
		b.onFree(b)
	}
}

// Freed reports whether Free has been called.
func (b *Buffer) Freed() bool { return b.freed.Load() }

// FiveTuple identifies a transport flow.
type FiveTuple struct {
	Src, Dst         netip.Addr
	SrcPort, DstPort uint16
	Proto            types.Protocol
}

// FlowHash returns the 32-bit flow identifier for t. The result is never zero, which is reserved for "no flow".
func FlowHash(t FiveTuple) uint32 {
	var buf [2*16 + 2*2 + 1]byte
	src, dst := t.Src.As16(), t.Dst.As16()
	n := copy(buf[:], src[:])
	n += copy(buf[n:], dst[:])
	binary.BigEndian.PutUint16(buf[n:], t.SrcPort)
	binary.BigEndian.PutUint16(buf[n+2:], t.DstPort)
	buf[n+4] = byte(t.Proto)

	sum := xxhash.Sum64(buf[:])
	h := uint32(sum) ^ uint32(sum>>32)
	if h == 0 {
		h = 1
	}
	return h
}
