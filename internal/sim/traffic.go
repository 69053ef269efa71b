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

package sim

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/packet"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// ackCompressionGen is the compression generation carried by every packet of a compressible flow.
const ackCompressionGen = 1

var sinkAddr = netip.AddrFrom4([4]byte{192, 0, 2, 1})

// source is one synthetic flow.
type source struct {
	name  string
	key   types.FlowKey
	proto types.Protocol
	src   types.FlowSource
	size  uint32
	gen   uint32
	start time.Duration
	stop  time.Duration

	bytesPerTick float64
	credit       float64
	// paused is set while a flow-control advisory is outstanding for a sender that honors advisories.
	paused bool

	stats FlowReport
}

// newSources expands the flow specs into individual sources, each with a distinct 5-tuple.
func newSources(cfg *Config, group types.GroupID) ([]*source, error) {
	var out []*source
	host := 0
	for _, spec := range cfg.Flows {
		class, err := types.ParseServiceClass(spec.Class)
		if err != nil {
			return nil, err
		}
		proto, err := parseProtocol(spec.Protocol)
		if err != nil {
			return nil, err
		}
		src, err := parseSource(spec.Source)
		if err != nil {
			return nil, err
		}
		for i := 0; i < spec.Count; i++ {
			host++
			tuple := packet.FiveTuple{
				Src:     netip.AddrFrom4([4]byte{10, 0, byte(host >> 8), byte(host)}),
				Dst:     sinkAddr,
				SrcPort: uint16(32768 + host),
				DstPort: 443,
				Proto:   proto,
			}
			s := &source{
				name:         fmt.Sprintf("%s-%d", spec.Name, i),
				key:          types.FlowKey{Group: group, FlowID: packet.FlowHash(tuple), Class: class},
				proto:        proto,
				src:          src,
				size:         spec.PacketSize,
				start:        spec.Start,
				stop:         spec.Stop,
				bytesPerTick: spec.RateMbps * 1e6 / 8 * cfg.Tick.Seconds(),
			}
			if spec.Compressible {
				s.gen = ackCompressionGen
			}
			s.stats.Name, s.stats.Class = s.name, class.String()
			out = append(out, s)
		}
	}
	return out, nil
}

func (s *source) active(elapsed time.Duration) bool {
	return elapsed >= s.start && (s.stop == 0 || elapsed < s.stop)
}

// honorsAdvisory reports whether the sender stops transmitting while an advisory is outstanding.
func (s *source) honorsAdvisory() bool {
	return s.src.FlowControlCapable() && s.proto.ReactsToAdvisory()
}

// arrivals returns the packets the source emits during one tick. scale jitters the offered load.
func (s *source) arrivals(now time.Time, elapsed time.Duration, scale float64) []types.Packet {
	if !s.active(elapsed) || (s.paused && s.honorsAdvisory()) {
		s.credit = 0
		return nil
	}
	s.credit += s.bytesPerTick * scale

	var pkts []types.Packet
	for s.credit >= float64(s.size) {
		s.credit -= float64(s.size)
		opts := []packet.Option{packet.WithSource(s.src), packet.WithProtocol(s.proto)}
		if s.src.FlowControlCapable() {
			opts = append(opts, packet.WithFlags(types.FlagFlowAdvisory))
		}
		if s.gen != 0 {
			opts = append(opts, packet.WithCompressionGen(s.gen))
		}
		pkts = append(pkts, packet.New(s.key.FlowID, s.key.Class, s.size, now, opts...))
	}
	s.stats.Sent += uint64(len(pkts))
	return pkts
}
