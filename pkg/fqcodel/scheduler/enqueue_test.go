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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/packet"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

func TestEnqueue_FirstPacketActivatesFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithQuantum(1500))
	p := pkt(1, 100, 0)

	res := h.enqueue(p)

	require.Equal(t, types.ResultSuccess, res, "A packet for an idle flow should be admitted")
	fq := h.flow(1)
	assert.Equal(t, LifecycleNew, fq.lifecycle, "The flow should be activated as New")
	assert.Equal(t, int64(1500), fq.deficit, "Activation should grant one quantum")
	assert.Equal(t, uint64(100), fq.bytes)
	assert.Equal(t, uint32(1), fq.packets)

	cl := h.class()
	head, ok := cl.NewFlowsHead()
	require.True(t, ok, "The new-flows list should not be empty")
	assert.Equal(t, h.handle(1), head, "The flow should sit on the new-flows list")
	assert.Zero(t, cl.OldFlowsLen())
	assert.Equal(t, uint64(1), cl.Stats().NewFlowsCount)
	assert.Equal(t, uint64(1), h.txn.Len())
	assert.Equal(t, uint64(100), h.txn.Bytes())
	assert.True(t, p.Flags().Has(types.FlagGuarded), "A queued packet should be guarded")
	assert.Len(t, h.sink.OfKind(contracts.EventEnqueue), 1)
	h.requireConsistent()
}

func TestEnqueue_ActiveFlowIsNotReactivated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 0)))
	h.txn.SetDeficit(h.handle(1), -20)
	require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 200, time.Millisecond)))

	fq := h.flow(1)
	assert.Equal(t, LifecycleNew, fq.lifecycle)
	assert.Equal(t, int64(-20), fq.deficit, "A second arrival must not grant another quantum")
	assert.Equal(t, 1, h.class().NewFlowsLen())
	assert.Equal(t, []uint32{100, 200}, h.backlogLens(1))
	h.requireConsistent()
}

func TestEnqueue_CongestionResponse(t *testing.T) {
	t.Parallel()

	advisoryPkt := func(length uint32, d time.Duration, proto types.Protocol) *packet.Buffer {
		return pkt(1, length, d,
			packet.WithSource(types.FlowSourceSocket),
			packet.WithProtocol(proto),
			packet.WithFlags(types.FlagFlowAdvisory))
	}

	t.Run("AdvisoryForCooperativeTransport", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.Equal(t, types.ResultSuccess, h.enqueue(advisoryPkt(100, 0, types.ProtocolTCP)))
		h.flow(1).set(ConditionDelayHigh)

		res := h.enqueue(advisoryPkt(100, time.Millisecond, types.ProtocolTCP))

		assert.Equal(t, types.ResultSuccessWithFlowControl, res)
		assert.Equal(t, []types.FlowKey{h.key(1)}, h.advisor.Requested, "An advisory should be requested")
		fq := h.flow(1)
		assert.True(t, fq.conditions.Has(ConditionFlowControlOn), "FlowControlOn should be set")
		assert.Equal(t, uint32(2), fq.packets, "Nothing should be dropped")
		assert.Zero(t, h.class().Stats().Drops())
		assert.Equal(t, uint64(1), h.class().Stats().FlowControl)
		h.requireConsistent()
	})

	t.Run("HeadDropWithoutFlowControl", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		first := []*packet.Buffer{pkt(1, 100, 0), pkt(1, 101, 0), pkt(1, 102, 0)}
		require.Equal(t, types.ResultSuccess, h.enqueue(first...))
		h.flow(1).set(ConditionDelayHigh)

		res := h.enqueue(pkt(1, 200, time.Millisecond), pkt(1, 201, time.Millisecond))

		assert.Equal(t, types.ResultSuccess, res, "The new batch should still be admitted")
		assert.Equal(t, []uint32{102, 200, 201}, h.backlogLens(1), "Exactly two packets should be head-dropped")
		assert.True(t, first[0].Freed())
		assert.True(t, first[1].Freed())
		assert.False(t, first[2].Freed())
		assert.Equal(t, uint64(2), h.class().Stats().DropEarly)
		dropPkts, dropBytes := h.txn.DropCounters()
		assert.Equal(t, uint64(2), dropPkts)
		assert.Equal(t, uint64(201), dropBytes)
		assert.Empty(t, h.advisor.Requested)
		h.requireConsistent()
	})

	t.Run("EarlyDropWhenNothingToHeadDrop", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 0)))
		_, ok := h.txn.Dequeue(h.handle(1), at(time.Millisecond))
		require.True(t, ok)
		h.flow(1).set(ConditionDelayHigh)
		p := pkt(1, 300, 2*time.Millisecond)

		res := h.enqueue(p)

		assert.Equal(t, types.ResultDrop, res)
		assert.True(t, p.Freed(), "A dropped packet should be released")
		assert.False(t, p.Flags().Has(types.FlagGuarded), "A dropped packet should not stay guarded")
		assert.Equal(t, uint64(1), h.class().Stats().DropEarly)
		assert.Zero(t, h.flow(1).packets)
		drops := h.sink.OfKind(contracts.EventDrop)
		require.Len(t, drops, 1)
		assert.Equal(t, contracts.DropCauseEarly, drops[0].Cause)
		h.requireConsistent()
	})

	t.Run("LossBasedTransportIsDroppedAndThrottled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.Equal(t, types.ResultSuccess, h.enqueue(advisoryPkt(100, 0, types.ProtocolUDP)))
		h.flow(1).set(ConditionDelayHigh)
		p := advisoryPkt(100, time.Millisecond, types.ProtocolUDP)

		res := h.enqueue(p)

		assert.Equal(t, types.ResultDropWithFlowControl, res)
		assert.True(t, p.Freed())
		assert.True(t, h.flow(1).conditions.Has(ConditionFlowControlOn))
		assert.Equal(t, uint64(1), h.class().Stats().DropEarly)
		assert.Zero(t, h.class().Stats().DropFlowControl, "The drop must be counted once")
		h.requireConsistent()
	})

	t.Run("OutstandingAdvisoryAloneDoesNotThrottle", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.Equal(t, types.ResultSuccess, h.enqueue(advisoryPkt(100, 0, types.ProtocolTCP)))
		h.flow(1).set(ConditionFlowControlOn)

		res := h.enqueue(advisoryPkt(100, time.Millisecond, types.ProtocolTCP))

		assert.Equal(t, types.ResultSuccess, res, "Only DelayHigh or Overwhelming should trigger a congestion response")
		assert.Empty(t, h.advisor.Requested, "No advisory should be requested")
		assert.Equal(t, uint32(2), h.flow(1).packets)
		assert.Zero(t, h.class().Stats().FlowControl)
		assert.Zero(t, h.class().Stats().Drops())
	})

	t.Run("AdvisoryRegistrationFailure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.advisor.RequestAdvisoryFunc = func(types.FlowKey, types.FlowSource) bool { return false }
		require.Equal(t, types.ResultSuccess, h.enqueue(advisoryPkt(100, 0, types.ProtocolTCP)))
		h.flow(1).set(ConditionDelayHigh)

		res := h.enqueue(advisoryPkt(100, time.Millisecond, types.ProtocolTCP))

		assert.Equal(t, types.ResultDropWithFlowControl, res)
		st := h.class().Stats()
		assert.Equal(t, uint64(1), st.FlowControlFail)
		assert.Equal(t, uint64(1), st.DropFlowControl)
		assert.Equal(t, uint64(1), st.Drops())
		assert.False(t, h.flow(1).conditions.Has(ConditionFlowControlOn))
		h.requireConsistent()
	})
}

func TestEnqueue_DropLimit(t *testing.T) {
	t.Parallel()

	t.Run("NoLargeFlowDropsArrivalAndParksFreshFlow", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.limit.AtDropLimitV = true
		p := pkt(3, 100, 0)

		res := h.enqueue(p)

		assert.Equal(t, types.ResultDrop, res)
		assert.True(t, p.Freed())
		assert.Equal(t, uint64(1), h.class().Stats().DropOverflow)
		assert.Equal(t, LifecycleEmpty, h.flow(3).lifecycle, "The fresh flow should be parked")
		assert.Contains(t, h.dir.Parked, h.key(3))
		assert.Zero(t, h.limit.DropVictimCalls)
		h.requireConsistent()
	})

	t.Run("LargeFlowHeadDropsItself", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, WithLargeFlowByteLimit(1000))
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 600, 0), pkt(1, 601, 0)))
		lf, ok := h.txn.LargeFlow()
		require.True(t, ok, "A flow above the byte limit should be tracked")
		require.Equal(t, h.handle(1), lf)
		h.limit.AtDropLimitV = true

		res := h.enqueue(pkt(1, 602, time.Millisecond))

		assert.Equal(t, types.ResultSuccess, res)
		assert.Equal(t, []uint32{601, 602}, h.backlogLens(1))
		assert.Equal(t, uint64(1), h.class().Stats().DropOverflow)
		assert.False(t, h.flow(1).conditions.Has(ConditionOverwhelming))
		lf, ok = h.txn.LargeFlow()
		require.True(t, ok)
		assert.Equal(t, h.handle(1), lf)
		h.requireConsistent()
	})

	t.Run("LargeLossBasedFlowIsMarkedOverwhelming", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, WithLargeFlowByteLimit(1000))
		opts := []packet.Option{
			packet.WithSource(types.FlowSourceSocket),
			packet.WithProtocol(types.ProtocolUDP),
			packet.WithFlags(types.FlagFlowAdvisory),
		}
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 600, 0, opts...), pkt(1, 600, 0, opts...)))
		h.limit.AtDropLimitV = true

		res := h.enqueue(pkt(1, 600, time.Millisecond, opts...))

		assert.Equal(t, types.ResultSuccessWithFlowControl, res)
		fq := h.flow(1)
		assert.True(t, fq.conditions.Has(ConditionOverwhelming|ConditionFlowControlOn))
		st := h.class().Stats()
		assert.Equal(t, uint64(1), st.Overwhelming)
		assert.Equal(t, uint64(1), st.FlowControl)
		assert.Equal(t, uint64(1), st.DropOverflow)
		assert.Len(t, h.sink.OfKind(contracts.EventOverwhelming), 1)
		h.requireConsistent()
	})

	t.Run("DifferentLargeFlowPaysForArrival", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, WithLargeFlowByteLimit(1000))
		h.limit.DropVictimFunc = func(inst contracts.Instance, _ time.Time) {
			if lf, ok := inst.LargeFlow(); ok {
				inst.HeadDrop(lf)
			}
		}
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 600, 0), pkt(1, 601, 0)))
		h.limit.AtDropLimitV = true

		res := h.enqueue(pkt(2, 100, time.Millisecond), pkt(2, 100, time.Millisecond))

		assert.Equal(t, types.ResultSuccess, res, "The arrival should be admitted")
		assert.Equal(t, 2, h.limit.DropVictimCalls, "One victim drop should be requested per arriving packet")
		assert.Equal(t, []uint32{601}, h.backlogLens(1),
			"The victim should stop paying once it falls below the large-flow limit")
		assert.Equal(t, uint64(1), h.class().Stats().DropOverflow)
		_, ok := h.txn.LargeFlow()
		assert.False(t, ok, "The shrunken flow should no longer be tracked")
		h.requireConsistent()
	})
}

func TestEnqueue_AllocationFailureDrops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithMaxFlows(1))
	require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 0)))
	p := pkt(2, 100, 0)

	res := h.enqueue(p)

	assert.Equal(t, types.ResultDrop, res)
	assert.True(t, p.Freed())
	assert.Equal(t, uint64(1), h.class().Stats().DropMemFailure)
	dropPkts, _ := h.txn.DropCounters()
	assert.Equal(t, uint64(1), dropPkts)
	h.requireConsistent()
}

func TestEnqueue_DequeueStallDetection(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		packetLen    uint32
		arrival      time.Duration
		expectStall  bool
		expectReason string
	}{
		{
			name:         "ShouldDetect_WhenUnservedForLongerThanInterval",
			packetLen:    1000,
			arrival:      102 * time.Millisecond,
			expectStall:  true,
			expectReason: "a backlog above threshold unserved past the interval is a stall",
		},
		{
			name:         "ShouldIgnore_AtExactlyTheInterval",
			packetLen:    1000,
			arrival:      101 * time.Millisecond,
			expectStall:  false,
			expectReason: "the deadline itself is not yet a stall",
		},
		{
			name:         "ShouldIgnore_SmallBacklog",
			packetLen:    500,
			arrival:      500 * time.Millisecond,
			expectStall:  false,
			expectReason: "a backlog below the flow-control threshold is never a stall",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			batch := make([]*packet.Buffer, 10)
			for i := range batch {
				batch[i] = pkt(1, tc.packetLen, 0)
			}
			require.Equal(t, types.ResultSuccess, h.enqueue(batch...))
			_, ok := h.txn.Dequeue(h.handle(1), at(time.Millisecond))
			require.True(t, ok)

			h.enqueue(pkt(1, tc.packetLen, tc.arrival))

			assert.Equal(t, tc.expectStall, h.flow(1).conditions.Has(ConditionDelayHigh), tc.expectReason)
			stalls := h.sink.OfKind(contracts.EventDequeueStall)
			if tc.expectStall {
				assert.Equal(t, uint64(1), h.class().Stats().DequeueStall)
				require.Len(t, stalls, 1)
				assert.Equal(t, tc.arrival-time.Millisecond, stalls[0].Delay)
			} else {
				assert.Zero(t, h.class().Stats().DequeueStall)
				assert.Empty(t, stalls)
			}
			h.requireConsistent()
		})
	}
}

func TestEnqueue_Compression(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name               string
		opts               []ConfigOption
		firstGen           uint32
		secondGen          uint32
		expectPackets      uint32
		expectCompressible uint64
		expectCompressed   uint64
	}{
		{
			name:               "ShouldMerge_SameGeneration",
			firstGen:           7,
			secondGen:          7,
			expectPackets:      1,
			expectCompressible: 2,
			expectCompressed:   1,
		},
		{
			name:               "ShouldKeepBoth_DifferentGeneration",
			firstGen:           7,
			secondGen:          8,
			expectPackets:      2,
			expectCompressible: 2,
		},
		{
			name:               "ShouldKeepBoth_NotCompressible",
			firstGen:           0,
			secondGen:          0,
			expectPackets:      2,
			expectCompressible: 0,
		},
		{
			name:               "ShouldKeepBoth_CompressionDisabled",
			opts:               []ConfigOption{WithCompression(false)},
			firstGen:           7,
			secondGen:          7,
			expectPackets:      2,
			expectCompressible: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tc.opts...)
			first := pkt(1, 60, 0, packet.WithCompressionGen(tc.firstGen))
			second := pkt(1, 64, 5*time.Millisecond, packet.WithCompressionGen(tc.secondGen))

			require.Equal(t, types.ResultSuccess, h.enqueue(first))
			require.Equal(t, types.ResultSuccess, h.enqueue(second), "Compression is reported as success")

			fq := h.flow(1)
			assert.Equal(t, tc.expectPackets, fq.packets)
			st := h.class().Stats()
			assert.Equal(t, tc.expectCompressible, st.PktsCompressible)
			assert.Equal(t, tc.expectCompressed, st.PktsCompressed)
			if tc.expectCompressed > 0 {
				assert.True(t, first.Freed(), "The replaced tail should be released")
				assert.Equal(t, at(0), second.Timestamp(), "The survivor should inherit the tail's timestamp")
				assert.Equal(t, uint64(64), fq.bytes)
				assert.Equal(t, uint64(1), h.txn.Len())
				assert.Len(t, h.sink.OfKind(contracts.EventCompressed), 1)
			} else {
				assert.False(t, first.Freed())
				assert.Equal(t, at(5*time.Millisecond), second.Timestamp())
			}
			h.requireConsistent()
		})
	}
}

func TestEnqueue_FatalDefects(t *testing.T) {
	t.Parallel()

	t.Run("ShouldPanic_OnRequeueOfGuardedPacket", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		p := pkt(1, 100, 0)
		require.Equal(t, types.ResultSuccess, h.enqueue(p))
		requireInvariantPanic(t, func() { h.enqueue(p) }, "Enqueueing a queued packet must panic")
	})

	t.Run("ShouldPanic_OnMissingTimestamp", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		p := packet.New(1, testClass, 100, time.Time{})
		requireInvariantPanic(t, func() { h.enqueue(p) }, "An unstamped batch must panic")
	})

	t.Run("ShouldPanic_OnUnstampedTrailingPacket", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		tail := packet.New(1, testClass, 100, time.Time{})
		requireInvariantPanic(t, func() { h.enqueue(pkt(1, 100, 0), tail) },
			"A batch member without a timestamp must panic")
		assert.Zero(t, h.txn.Len(), "Nothing should be queued")
		assert.False(t, tail.Flags().Has(types.FlagGuarded))
	})

	t.Run("ShouldPanic_OnPacketTypeMismatch", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		p := pkt(1, 100, 0, packet.WithType(types.PacketTypeChannel))
		requireInvariantPanic(t, func() { h.enqueue(p) }, "A foreign packet representation must panic")
	})

	t.Run("ShouldPanic_OnUnknownGroup", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		batch := types.NewBatch(pkt(1, 100, 0))
		requireInvariantPanic(t, func() { h.txn.Enqueue(9, batch, testClass) }, "An unknown group must panic")
	})

	t.Run("ShouldPanic_OnEmptyBatch", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		requireInvariantPanic(t, func() { h.txn.Enqueue(0, types.NewBatch(), testClass) })
	})
}

func TestInvariantError_Unwrap(t *testing.T) {
	t.Parallel()
	err := &InvariantError{Op: "destroy", Key: types.FlowKey{FlowID: 1}, Detail: "byte count is 5"}
	assert.True(t, errors.Is(err, types.ErrInvariantViolation))
	assert.Contains(t, err.Error(), "destroy")
	assert.Contains(t, err.Error(), "byte count is 5")
}
