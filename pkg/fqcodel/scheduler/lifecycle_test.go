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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	all := []Lifecycle{LifecycleDetached, LifecycleEmpty, LifecycleNew, LifecycleOld}
	allowed := map[[2]Lifecycle]bool{
		{LifecycleDetached, LifecycleNew}:   true,
		{LifecycleDetached, LifecycleEmpty}: true,
		{LifecycleEmpty, LifecycleDetached}: true,
		{LifecycleNew, LifecycleOld}:        true,
		{LifecycleOld, LifecycleEmpty}:      true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Lifecycle{from, to}], canTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestConditions_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "None", Conditions(0).String())
	assert.Equal(t, "DelayHigh|FlowControlOn", (ConditionDelayHigh | ConditionFlowControlOn).String())
	assert.Equal(t, "Unknown(9)", Lifecycle(9).String())
}

func TestAlloc(t *testing.T) {
	t.Parallel()

	t.Run("ShouldZeroInitialize", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		key := h.key(1)

		fh, err := h.txn.Alloc(key, types.FlowSourceSocket, at(0))

		require.NoError(t, err)
		info, ok := h.txn.Flow(fh)
		require.True(t, ok)
		assert.Equal(t, FlowInfo{
			Key:        key,
			Source:     types.FlowSourceSocket,
			Lifecycle:  LifecycleDetached,
			Conditions: ConditionFlowControlCapable,
			UpdateTime: at(defaultUpdateInterval),
		}, info)
		assert.Len(t, h.sink.OfKind(contracts.EventFlowAlloc), 1)
	})

	t.Run("ShouldFail_WhenPoolExhausted", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, WithMaxFlows(2))
		for i := uint32(1); i <= 2; i++ {
			_, err := h.txn.Alloc(h.key(i), types.FlowSourceNone, at(0))
			require.NoError(t, err)
		}
		_, err := h.txn.Alloc(h.key(3), types.FlowSourceNone, at(0))
		assert.ErrorIs(t, err, types.ErrFlowPoolExhausted)
	})

	t.Run("ShouldFail_ForUnknownGroup", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.txn.Alloc(types.FlowKey{Group: 4, FlowID: 1, Class: testClass}, types.FlowSourceNone, at(0))
		assert.ErrorIs(t, err, types.ErrUnknownGroup)
	})

	t.Run("ShouldDetectStaleHandles_AfterReuse", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		first, err := h.txn.Alloc(h.key(1), types.FlowSourceNone, at(0))
		require.NoError(t, err)
		h.txn.DestroyFlow(first)

		second, err := h.txn.Alloc(h.key(2), types.FlowSourceNone, at(0))
		require.NoError(t, err)

		assert.Equal(t, first.Index(), second.Index(), "The freed slot should be reused")
		assert.NotEqual(t, first, second)
		assert.False(t, h.txn.Valid(first), "A handle to a destroyed flow must not resolve")
		assert.True(t, h.txn.Valid(second))
		assert.Equal(t, 1, h.txn.FlowCount())
	})
}

func TestDestroyFlow_Preconditions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		corrupt func(fq *FlowQueue)
	}{
		{
			name:    "InDequeueList",
			corrupt: func(fq *FlowQueue) { fq.inDequeueList = true },
		},
		{
			name: "NonEmptyBacklog",
			corrupt: func(fq *FlowQueue) {
				fq.backlog.PushBack(pkt(1, 100, 0))
				fq.bytes, fq.packets = 100, 1
			},
		},
		{
			name:    "LifecycleSet",
			corrupt: func(fq *FlowQueue) { fq.lifecycle = LifecycleOld },
		},
		{
			name:    "NonZeroBytes",
			corrupt: func(fq *FlowQueue) { fq.bytes = 5 },
		},
		{
			name:    "AdvisoryOutstanding",
			corrupt: func(fq *FlowQueue) { fq.set(ConditionFlowControlOn) },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			fh, err := h.txn.Alloc(h.key(1), types.FlowSourceSocket, at(0))
			require.NoError(t, err)
			tc.corrupt(h.txn.mustFlow("test", fh))

			requireInvariantPanic(t, func() { h.txn.DestroyFlow(fh) }, "Destroying a flow in this state must panic")
			assert.True(t, h.txn.Valid(fh), "A refused destroy must leave the flow allocated")
		})
	}

	t.Run("ShouldSucceed_ForCleanFlow", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		fh, err := h.txn.Alloc(h.key(1), types.FlowSourceNone, at(0))
		require.NoError(t, err)

		require.NotPanics(t, func() { h.txn.DestroyFlow(fh) })
		assert.False(t, h.txn.Valid(fh))
		assert.Len(t, h.sink.OfKind(contracts.EventFlowDestroy), 1)
	})
}

func TestActivationLists(t *testing.T) {
	t.Parallel()

	t.Run("NewToOldToEmpty", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, WithQuantum(300))
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 0)))
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(2, 100, 0)))
		f1 := h.handle(1)
		cl := h.class()

		h.txn.MoveToOld(f1)
		assert.Equal(t, LifecycleOld, h.flow(1).lifecycle)
		head, _ := cl.NewFlowsHead()
		assert.Equal(t, h.handle(2), head)
		head, _ = cl.OldFlowsHead()
		assert.Equal(t, f1, head)
		assert.Equal(t, uint64(1), cl.Stats().NewFlowsCount)
		assert.Equal(t, uint64(1), cl.Stats().OldFlowsCount)
		h.requireConsistent()

		_, ok := h.txn.Dequeue(f1, at(time.Millisecond))
		require.True(t, ok)
		h.txn.Deactivate(f1, at(time.Millisecond))
		assert.Equal(t, LifecycleEmpty, h.flow(1).lifecycle)
		assert.Zero(t, cl.OldFlowsLen())
		assert.Zero(t, cl.Stats().OldFlowsCount)
		assert.Contains(t, h.dir.Parked, h.key(1), "A drained flow should be parked with the directory")
		h.requireConsistent()

		// A new arrival revives the parked flow with a fresh quantum.
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 2*time.Millisecond)))
		assert.Equal(t, LifecycleNew, h.flow(1).lifecycle)
		assert.Equal(t, int64(300), h.flow(1).deficit)
		assert.NotContains(t, h.dir.Parked, h.key(1))
		h.requireConsistent()
	})

	t.Run("OldRotatesToTail", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		for id := uint32(1); id <= 3; id++ {
			require.Equal(t, types.ResultSuccess, h.enqueue(pkt(id, 100, 0)))
			h.txn.MoveToOld(h.handle(id))
		}

		h.txn.MoveToOld(h.handle(1))

		var order []types.FlowHandle
		h.class().EachOldFlow(func(fh types.FlowHandle) bool {
			order = append(order, fh)
			return true
		})
		assert.Equal(t, []types.FlowHandle{h.handle(2), h.handle(3), h.handle(1)}, order)
		assert.Equal(t, uint64(3), h.class().Stats().OldFlowsCount)
		h.requireConsistent()
	})

	t.Run("DeactivateReleasesAdvisory", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 0)))
		fh := h.handle(1)
		_, ok := h.txn.Dequeue(fh, at(time.Millisecond))
		require.True(t, ok)
		h.flow(1).set(ConditionFlowControlOn | ConditionDelayHigh)

		h.txn.Deactivate(fh, at(time.Millisecond))

		assert.Equal(t, Conditions(0), h.flow(1).conditions)
		assert.Equal(t, []types.FlowKey{h.key(1)}, h.advisor.Released)
		assert.Equal(t, 1, h.dir.Purge(h.txn, at(time.Second)), "The parked flow should be reclaimable")
		assert.False(t, h.txn.Valid(fh))
	})

	t.Run("ShouldPanic_DeactivatingBackloggedFlow", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 0)))
		requireInvariantPanic(t, func() { h.txn.Deactivate(h.handle(1), at(0)) })
	})

	t.Run("ShouldPanic_MovingInactiveFlow", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		fh, err := h.txn.Alloc(h.key(1), types.FlowSourceNone, at(0))
		require.NoError(t, err)
		requireInvariantPanic(t, func() { h.txn.MoveToOld(fh) })
	})

	t.Run("InDequeueListBlocksReclaim", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.Equal(t, types.ResultSuccess, h.enqueue(pkt(1, 100, 0)))
		fh := h.handle(1)
		h.txn.SetInDequeueList(fh, true)
		_, ok := h.txn.Dequeue(fh, at(time.Millisecond))
		require.True(t, ok)
		h.txn.Deactivate(fh, at(time.Millisecond))

		requireInvariantPanic(t, func() { h.txn.PurgeIdleFlows(at(time.Second)) })
	})
}

func TestTxn_UseAfterUnlockPanics(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.txn.Unlock()

	requireInvariantPanic(t, func() { h.txn.Len() }, "A released capability must not be usable")

	txn := h.s.Lock()
	defer txn.Unlock()
	assert.Zero(t, txn.Len(), "The scheduler should be lockable again")
}
