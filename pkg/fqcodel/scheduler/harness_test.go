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

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts/mocks"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/packet"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// --- Test Harness ---

var testEpoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

const testClass = types.ServiceClassBE

// schedulerTestHarness holds a Scheduler wired to mocked collaborators, with its capability held for the duration of
// the test.
type schedulerTestHarness struct {
	t       *testing.T
	s       *Scheduler
	txn     *Txn
	dir     *mocks.MockFlowDirectory
	advisor *mocks.MockAdvisor
	limit   *mocks.MockDropLimitPolicy
	sink    *mocks.RecordingSink
}

func newHarness(t *testing.T, opts ...ConfigOption) *schedulerTestHarness {
	t.Helper()
	cfg, err := NewConfig(opts...)
	require.NoError(t, err, "Test setup: building the config should not fail")

	h := &schedulerTestHarness{
		t:       t,
		dir:     &mocks.MockFlowDirectory{},
		advisor: &mocks.MockAdvisor{},
		limit:   &mocks.MockDropLimitPolicy{},
		sink:    &mocks.RecordingSink{},
	}
	h.s, err = New(cfg, logr.Discard(),
		WithDirectory(h.dir),
		WithAdvisor(h.advisor),
		WithDropLimitPolicy(h.limit),
		WithEventSink(h.sink),
		WithID("test-instance"),
	)
	require.NoError(t, err, "Test setup: creating the scheduler should not fail")
	h.txn = h.s.Lock()
	t.Cleanup(func() {
		if !h.txn.released {
			h.txn.Unlock()
		}
	})
	return h
}

// at returns the instant d after the test epoch.
func at(d time.Duration) time.Time { return testEpoch.Add(d) }

// pkt builds a best-effort packet of the given flow stamped at d after the epoch.
func pkt(flowID uint32, length uint32, d time.Duration, opts ...packet.Option) *packet.Buffer {
	return packet.New(flowID, testClass, length, at(d), opts...)
}

func (h *schedulerTestHarness) enqueue(pkts ...*packet.Buffer) types.Result {
	h.t.Helper()
	batch := make([]types.Packet, len(pkts))
	for i, p := range pkts {
		batch[i] = p
	}
	return h.txn.Enqueue(0, types.NewBatch(batch...), testClass)
}

func (h *schedulerTestHarness) key(flowID uint32) types.FlowKey {
	return types.FlowKey{Group: 0, FlowID: flowID, Class: testClass}
}

func (h *schedulerTestHarness) handle(flowID uint32) types.FlowHandle {
	h.t.Helper()
	fh, ok := h.dir.Flows[h.key(flowID)]
	require.True(h.t, ok, "Test setup: flow %d should be known to the directory", flowID)
	return fh
}

func (h *schedulerTestHarness) flow(flowID uint32) *FlowQueue {
	h.t.Helper()
	return h.txn.mustFlow("test", h.handle(flowID))
}

func (h *schedulerTestHarness) class() *ServiceClassQueue {
	h.t.Helper()
	cl, ok := h.txn.Class(0, testClass)
	require.True(h.t, ok)
	return cl
}

func (h *schedulerTestHarness) requireConsistent() {
	h.t.Helper()
	require.NoError(h.t, h.txn.CheckInvariants(), "Scheduler state must stay internally consistent")
}

// backlogLens returns the packet lengths queued in a flow, head first.
func (h *schedulerTestHarness) backlogLens(flowID uint32) []uint32 {
	h.t.Helper()
	var lens []uint32
	h.flow(flowID).backlog.Each(func(p types.Packet) bool {
		lens = append(lens, p.Len())
		return true
	})
	return lens
}

// requireInvariantPanic asserts that fn panics with an invariant violation.
func requireInvariantPanic(t *testing.T, fn func(), msgAndArgs ...any) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, msgAndArgs...)
		err, ok := r.(error)
		require.True(t, ok, "panic value should be an error, got %T", r)
		assert.ErrorIs(t, err, types.ErrInvariantViolation, msgAndArgs...)
	}()
	fn()
}
