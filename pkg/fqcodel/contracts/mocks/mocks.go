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

// Package mocks provides hand-written test doubles for the interfaces in the `contracts` package.
package mocks

import (
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// MockAdvisor is a mock implementation of the `contracts.Advisor` interface. By default every advisory request
// succeeds.
type MockAdvisor struct {
	RequestAdvisoryFunc func(key types.FlowKey, src types.FlowSource) bool
	ReleaseFunc         func(key types.FlowKey) bool

	Requested []types.FlowKey
	Released  []types.FlowKey
}

func (m *MockAdvisor) RequestAdvisory(key types.FlowKey, src types.FlowSource) bool {
	m.Requested = append(m.Requested, key)
	if m.RequestAdvisoryFunc != nil {
		return m.RequestAdvisoryFunc(key, src)
	}
	return true
}

func (m *MockAdvisor) Release(key types.FlowKey) bool {
	m.Released = append(m.Released, key)
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(key)
	}
	return true
}

var _ contracts.Advisor = &MockAdvisor{}

// MockDropLimitPolicy is a mock implementation of the `contracts.DropLimitPolicy` interface.
type MockDropLimitPolicy struct {
	AtDropLimitV   bool
	NearDropLimitV bool
	DropVictimFunc func(inst contracts.Instance, now time.Time)

	DropVictimCalls int
}

func (m *MockDropLimitPolicy) AtDropLimit(contracts.Instance) bool { return m.AtDropLimitV }

func (m *MockDropLimitPolicy) NearDropLimit(contracts.Instance, types.FlowHandle) bool {
	return m.NearDropLimitV
}

func (m *MockDropLimitPolicy) DropVictim(inst contracts.Instance, now time.Time) {
	m.DropVictimCalls++
	if m.DropVictimFunc != nil {
		m.DropVictimFunc(inst, now)
	}
}

var _ contracts.DropLimitPolicy = &MockDropLimitPolicy{}

// MockFlowDirectory is a mock implementation of the `contracts.FlowDirectory` interface. When LookupOrCreateFunc is
// nil it keeps a plain map and allocates from the pool on a miss, without any aging.
type MockFlowDirectory struct {
	LookupOrCreateFunc func(pool contracts.FlowPool, key types.FlowKey, src types.FlowSource, now time.Time,
		create bool) (types.FlowHandle, error)

	Flows  map[types.FlowKey]types.FlowHandle
	Parked map[types.FlowKey]types.FlowHandle
}

func (m *MockFlowDirectory) LookupOrCreate(
	pool contracts.FlowPool,
	key types.FlowKey,
	src types.FlowSource,
	now time.Time,
	create bool,
) (types.FlowHandle, error) {
	if m.LookupOrCreateFunc != nil {
		return m.LookupOrCreateFunc(pool, key, src, now, create)
	}
	if m.Flows == nil {
		m.Flows = make(map[types.FlowKey]types.FlowHandle)
	}
	if h, ok := m.Parked[key]; ok {
		delete(m.Parked, key)
		pool.Unpark(h)
		return h, nil
	}
	if h, ok := m.Flows[key]; ok {
		return h, nil
	}
	if !create {
		return types.FlowHandle{}, types.ErrFlowNotFound
	}
	h, err := pool.Alloc(key, src, now)
	if err != nil {
		return types.FlowHandle{}, err
	}
	m.Flows[key] = h
	return h, nil
}

func (m *MockFlowDirectory) Park(h types.FlowHandle, key types.FlowKey, _ time.Time) {
	if m.Parked == nil {
		m.Parked = make(map[types.FlowKey]types.FlowHandle)
	}
	m.Parked[key] = h
}

func (m *MockFlowDirectory) Purge(pool contracts.FlowPool, _ time.Time) int {
	n := 0
	for key, h := range m.Parked {
		delete(m.Parked, key)
		delete(m.Flows, key)
		pool.Reclaim(h)
		n++
	}
	return n
}

func (m *MockFlowDirectory) Len() int { return len(m.Flows) }

var _ contracts.FlowDirectory = &MockFlowDirectory{}

// MockFlowPool is a mock implementation of the `contracts.FlowPool` interface backed by a map. It records the
// lifecycle calls it receives.
type MockFlowPool struct {
	AllocErr error

	Live      map[types.FlowHandle]types.FlowKey
	Unparked  []types.FlowHandle
	Reclaimed []types.FlowHandle

	next uint32
}

func (m *MockFlowPool) Alloc(key types.FlowKey, _ types.FlowSource, _ time.Time) (types.FlowHandle, error) {
	if m.AllocErr != nil {
		return types.FlowHandle{}, m.AllocErr
	}
	if m.Live == nil {
		m.Live = make(map[types.FlowHandle]types.FlowKey)
	}
	m.next++
	h := types.NewFlowHandle(m.next, 1)
	m.Live[h] = key
	return h, nil
}

func (m *MockFlowPool) Unpark(h types.FlowHandle) { m.Unparked = append(m.Unparked, h) }

func (m *MockFlowPool) Reclaim(h types.FlowHandle) {
	m.Reclaimed = append(m.Reclaimed, h)
	delete(m.Live, h)
}

func (m *MockFlowPool) Valid(h types.FlowHandle) bool {
	_, ok := m.Live[h]
	return ok
}

var _ contracts.FlowPool = &MockFlowPool{}

// RecordingSink is an `contracts.EventSink` that records every event.
type RecordingSink struct {
	Events []contracts.Event
}

func (r *RecordingSink) Emit(ev contracts.Event) { r.Events = append(r.Events, ev) }

// OfKind returns the recorded events of the given kind.
func (r *RecordingSink) OfKind(kind contracts.EventKind) []contracts.Event {
	var out []contracts.Event
	for _, ev := range r.Events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

var _ contracts.EventSink = &RecordingSink{}
