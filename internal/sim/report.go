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
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/scheduler"
)

// Report summarizes a simulation run.
type Report struct {
	Elapsed time.Duration `yaml:"elapsed"`

	// Sent counts packets handed to the scheduler. Every sent packet ends up in exactly one of Delivered, Dropped,
	// Compressed or Queued.
	Sent       uint64 `yaml:"sent"`
	Delivered  uint64 `yaml:"delivered"`
	Dropped    uint64 `yaml:"dropped"`
	Compressed uint64 `yaml:"compressed"`
	Queued     uint64 `yaml:"queued"`

	Flows   []FlowReport  `yaml:"flows"`
	Classes []ClassReport `yaml:"classes"`
}

// FlowReport holds the per-flow outcome.
type FlowReport struct {
	Name  string `yaml:"name"`
	Class string `yaml:"class"`

	Sent           uint64 `yaml:"sent"`
	Delivered      uint64 `yaml:"delivered"`
	DeliveredBytes uint64 `yaml:"deliveredBytes"`
	Dropped        uint64 `yaml:"dropped"`
	Compressed     uint64 `yaml:"compressed"`
	// Advisories counts flow-control advisories registered for the flow, Feedbacks the releases.
	Advisories uint64 `yaml:"advisories"`
	Feedbacks  uint64 `yaml:"feedbacks"`

	AvgDelay time.Duration `yaml:"avgDelay"`
	MaxDelay time.Duration `yaml:"maxDelay"`

	delaySum time.Duration
}

// ClassReport holds the scheduler's counters for one service class that saw traffic.
type ClassReport struct {
	Class           string        `yaml:"class"`
	Dequeued        uint64        `yaml:"dequeued"`
	DropEarly       uint64        `yaml:"dropEarly"`
	DropOverflow    uint64        `yaml:"dropOverflow"`
	DropMemFailure  uint64        `yaml:"dropMemFailure"`
	DropFlowControl uint64        `yaml:"dropFlowControl"`
	FlowControl     uint64        `yaml:"flowControl"`
	FlowControlFail uint64        `yaml:"flowControlFail"`
	FlowFeedback    uint64        `yaml:"flowFeedback"`
	DequeueStall    uint64        `yaml:"dequeueStall"`
	Overwhelming    uint64        `yaml:"overwhelming"`
	MinDelay        time.Duration `yaml:"minDelay"`
	AvgDelay        time.Duration `yaml:"avgDelay"`
	MaxDelay        time.Duration `yaml:"maxDelay"`
}

func (s *Simulator) report(elapsed time.Duration) *Report {
	r := &Report{Elapsed: elapsed}
	for _, src := range s.sources {
		fr := src.stats
		if fr.Delivered > 0 {
			fr.AvgDelay = fr.delaySum / time.Duration(fr.Delivered)
		}
		r.Sent += fr.Sent
		r.Delivered += fr.Delivered
		r.Dropped += fr.Dropped
		r.Compressed += fr.Compressed
		r.Flows = append(r.Flows, fr)
	}

	snap := s.sched.Snapshot()
	r.Queued = snap.Len
	for _, g := range snap.Groups {
		for _, cs := range g.Classes {
			if cs.Stats.Dequeue == 0 && cs.Stats.Drops() == 0 && cs.Stats.PktCount == 0 {
				continue
			}
			r.Classes = append(r.Classes, classReport(cs))
		}
	}
	return r
}

func classReport(cs scheduler.ClassSnapshot) ClassReport {
	st := cs.Stats
	return ClassReport{
		Class:           cs.Class.String(),
		Dequeued:        st.Dequeue,
		DropEarly:       st.DropEarly,
		DropOverflow:    st.DropOverflow,
		DropMemFailure:  st.DropMemFailure,
		DropFlowControl: st.DropFlowControl,
		FlowControl:     st.FlowControl,
		FlowControlFail: st.FlowControlFail,
		FlowFeedback:    st.FlowFeedback,
		DequeueStall:    st.DequeueStall,
		Overwhelming:    st.Overwhelming,
		MinDelay:        st.MinQDelay,
		AvgDelay:        st.AvgQDelay,
		MaxDelay:        st.MaxQDelay,
	}
}
