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

// Package metrics exposes Prometheus metrics for fq-codel scheduler instances. Event-driven counters are fed by
// `Sink`, which implements the scheduler's event contract; instantaneous queue state is exported by the collectors
// subpackage.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/contracts"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

const (
	FQCodelSubsystem = "fq_codel"
)

var (
	packetsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "enqueued_packets_total",
			Help:      "Counter of packets admitted into a flow queue.",
		},
		[]string{"instance", "class"},
	)

	bytesEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "enqueued_bytes_total",
			Help:      "Counter of bytes admitted into a flow queue.",
		},
		[]string{"instance", "class"},
	)

	packetsDequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "dequeued_packets_total",
			Help:      "Counter of packets delivered from a flow queue.",
		},
		[]string{"instance", "class"},
	)

	bytesDequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "dequeued_bytes_total",
			Help:      "Counter of bytes delivered from a flow queue.",
		},
		[]string{"instance", "class"},
	)

	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "dropped_packets_total",
			Help:      "Counter of discarded packets, labeled by the drop counter they were accounted to.",
		},
		[]string{"instance", "class", "cause"},
	)

	packetsCompressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "compressed_packets_total",
			Help:      "Counter of queued packets replaced by a newer packet of the same compression generation.",
		},
		[]string{"instance", "class"},
	)

	flowEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "flow_events_total",
			Help:      "Counter of flow condition events such as dequeue stalls, high delay and flow-control advisories.",
		},
		[]string{"instance", "class", "event"},
	)

	sojournDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "sojourn_delay_seconds",
			Help:      "Distribution of the time packets spent queued before delivery.",
			Buckets: []float64{
				0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1,
			},
		},
		[]string{"instance", "class"},
	)

	flowQueues = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: FQCodelSubsystem,
			Name:      "flow_queues",
			Help:      "Number of flow queues currently allocated.",
		},
		[]string{"instance"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(customCollectors ...prometheus.Collector) {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(packetsEnqueued)
		metrics.Registry.MustRegister(bytesEnqueued)
		metrics.Registry.MustRegister(packetsDequeued)
		metrics.Registry.MustRegister(bytesDequeued)
		metrics.Registry.MustRegister(packetsDropped)
		metrics.Registry.MustRegister(packetsCompressed)
		metrics.Registry.MustRegister(flowEvents)
		metrics.Registry.MustRegister(sojournDelay)
		metrics.Registry.MustRegister(flowQueues)
		for _, collector := range customCollectors {
			metrics.Registry.MustRegister(collector)
		}
	})
}

// Reset resets all metrics. Intended for tests.
func Reset() {
	packetsEnqueued.Reset()
	bytesEnqueued.Reset()
	packetsDequeued.Reset()
	bytesDequeued.Reset()
	packetsDropped.Reset()
	packetsCompressed.Reset()
	flowEvents.Reset()
	sojournDelay.Reset()
	flowQueues.Reset()
}

// RecordEnqueued counts an admitted batch.
func RecordEnqueued(instance string, class types.ServiceClass, packets uint32, bytes uint64) {
	packetsEnqueued.WithLabelValues(instance, class.String()).Add(float64(packets))
	bytesEnqueued.WithLabelValues(instance, class.String()).Add(float64(bytes))
}

// RecordDequeued counts a delivered packet and observes its sojourn delay.
func RecordDequeued(instance string, class types.ServiceClass, bytes uint64, delaySeconds float64) {
	packetsDequeued.WithLabelValues(instance, class.String()).Inc()
	bytesDequeued.WithLabelValues(instance, class.String()).Add(float64(bytes))
	sojournDelay.WithLabelValues(instance, class.String()).Observe(delaySeconds)
}

// RecordDropped counts discarded packets under the given cause.
func RecordDropped(instance string, class types.ServiceClass, cause contracts.DropCause, packets uint32) {
	packetsDropped.WithLabelValues(instance, class.String(), string(cause)).Add(float64(packets))
}

// RecordCompressed counts a tail replacement.
func RecordCompressed(instance string, class types.ServiceClass) {
	packetsCompressed.WithLabelValues(instance, class.String()).Inc()
}

// RecordFlowEvent counts a flow condition event.
func RecordFlowEvent(instance string, class types.ServiceClass, event string) {
	flowEvents.WithLabelValues(instance, class.String(), event).Inc()
}

// RecordFlowAllocated tracks a flow queue allocation.
func RecordFlowAllocated(instance string) {
	flowQueues.WithLabelValues(instance).Inc()
}

// RecordFlowDestroyed tracks a flow queue destruction.
func RecordFlowDestroyed(instance string) {
	flowQueues.WithLabelValues(instance).Dec()
}

// Sink is a `contracts.EventSink` that records scheduler events into the package metrics.
type Sink struct{}

var _ contracts.EventSink = Sink{}

// Emit implements `contracts.EventSink`.
func (Sink) Emit(ev contracts.Event) {
	class := ev.Key.Class
	switch ev.Kind {
	case contracts.EventFlowAlloc:
		RecordFlowAllocated(ev.Instance)
	case contracts.EventFlowDestroy:
		RecordFlowDestroyed(ev.Instance)
	case contracts.EventEnqueue:
		RecordEnqueued(ev.Instance, class, ev.Packets, ev.Bytes)
	case contracts.EventDequeue:
		RecordDequeued(ev.Instance, class, ev.Bytes, ev.Delay.Seconds())
	case contracts.EventDrop:
		RecordDropped(ev.Instance, class, ev.Cause, ev.Packets)
	case contracts.EventCompressed:
		RecordCompressed(ev.Instance, class)
	case contracts.EventDequeueStall, contracts.EventDelayHigh, contracts.EventOverwhelming,
		contracts.EventFlowControl, contracts.EventFlowFeedback:
		RecordFlowEvent(ev.Instance, class, ev.Kind.String())
	}
}
