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

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

func TestSinkRecordsEvents(t *testing.T) {
	Register()
	Reset()
	t.Cleanup(Reset)

	key := types.FlowKey{Group: 0, FlowID: 7, Class: types.ServiceClassBE}
	var sink contracts.EventSink = Sink{}
	events := []contracts.Event{
		{Kind: contracts.EventFlowAlloc, Instance: "a", Key: key},
		{Kind: contracts.EventFlowAlloc, Instance: "a", Key: key},
		{Kind: contracts.EventEnqueue, Instance: "a", Key: key, Packets: 3, Bytes: 3000},
		{Kind: contracts.EventDequeue, Instance: "a", Key: key, Packets: 1, Bytes: 1000, Delay: 2 * time.Millisecond},
		{Kind: contracts.EventDrop, Instance: "a", Key: key, Packets: 2, Bytes: 2000, Cause: contracts.DropCauseEarly},
		{Kind: contracts.EventDrop, Instance: "a", Key: key, Packets: 1, Bytes: 1000, Cause: contracts.DropCauseOverflow},
		{Kind: contracts.EventCompressed, Instance: "a", Key: key, Packets: 1},
		{Kind: contracts.EventDelayHigh, Instance: "a", Key: key},
		{Kind: contracts.EventDelayHigh, Instance: "a", Key: key},
		{Kind: contracts.EventFlowFeedback, Instance: "a", Key: key},
		{Kind: contracts.EventFlowDestroy, Instance: "a", Key: key},
	}
	for _, ev := range events {
		sink.Emit(ev)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(packetsEnqueued.WithLabelValues("a", "BE")))
	assert.Equal(t, 3000.0, testutil.ToFloat64(bytesEnqueued.WithLabelValues("a", "BE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(packetsDequeued.WithLabelValues("a", "BE")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(bytesDequeued.WithLabelValues("a", "BE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(packetsDropped.WithLabelValues("a", "BE", "early")))
	assert.Equal(t, 1.0, testutil.ToFloat64(packetsDropped.WithLabelValues("a", "BE", "overflow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(packetsCompressed.WithLabelValues("a", "BE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(flowEvents.WithLabelValues("a", "BE", "DelayHigh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(flowEvents.WithLabelValues("a", "BE", "FlowFeedback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(flowQueues.WithLabelValues("a")))
}

func TestSojournDelayHistogram(t *testing.T) {
	Register()
	Reset()
	t.Cleanup(Reset)

	RecordDequeued("h", types.ServiceClassVO, 100, 0.00390625)
	RecordDequeued("h", types.ServiceClassVO, 100, 0.125)

	want := `
# HELP fq_codel_sojourn_delay_seconds Distribution of the time packets spent queued before delivery.
# TYPE fq_codel_sojourn_delay_seconds histogram
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.0001"} 0
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.00025"} 0
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.0005"} 0
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.001"} 0
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.0025"} 0
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.005"} 1
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.01"} 1
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.02"} 1
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.05"} 1
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.1"} 1
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.25"} 2
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="0.5"} 2
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="1"} 2
fq_codel_sojourn_delay_seconds_bucket{class="VO",instance="h",le="+Inf"} 2
fq_codel_sojourn_delay_seconds_sum{class="VO",instance="h"} 0.12890625
fq_codel_sojourn_delay_seconds_count{class="VO",instance="h"} 2
`
	require.NoError(t, testutil.CollectAndCompare(sojournDelay, strings.NewReader(want)))
}
