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

package collectors

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/scheduler"
)

var (
	classLabels = []string{"instance", "group", "class"}

	descQueuePackets = prometheus.NewDesc(
		"fq_codel_class_queue_packets",
		"Number of packets currently queued in a service class.",
		classLabels, nil,
	)
	descQueueBytes = prometheus.NewDesc(
		"fq_codel_class_queue_bytes",
		"Number of bytes currently queued in a service class.",
		classLabels, nil,
	)
	descActiveFlows = prometheus.NewDesc(
		"fq_codel_class_active_flows",
		"Number of flows on a service class activation list.",
		append(classLabels, "list"), nil,
	)
	descQueueDelay = prometheus.NewDesc(
		"fq_codel_class_queue_delay_seconds",
		"Minimum, average and maximum sojourn delay observed in a service class.",
		append(classLabels, "stat"), nil,
	)
	descInterfaceDrops = prometheus.NewDesc(
		"fq_codel_instance_dropped_packets_total",
		"Packets dropped at the instance level.",
		[]string{"instance"}, nil,
	)
	descLargeFlow = prometheus.NewDesc(
		"fq_codel_instance_large_flow_tracked",
		"Whether the instance currently tracks a large flow.",
		[]string{"instance"}, nil,
	)
)

// SnapshotSource is anything that can produce a scheduler snapshot.
type SnapshotSource interface {
	Snapshot() scheduler.Snapshot
}

type schedulerCollector struct {
	sources []SnapshotSource
}

var _ prometheus.Collector = &schedulerCollector{}

// NewSchedulerCollector returns a prometheus.Collector exposing the queue state of the given scheduler instances.
func NewSchedulerCollector(sources ...SnapshotSource) prometheus.Collector {
	return &schedulerCollector{sources: sources}
}

// Describe implements the prometheus.Collector interface.
func (c *schedulerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descQueuePackets
	ch <- descQueueBytes
	ch <- descActiveFlows
	ch <- descQueueDelay
	ch <- descInterfaceDrops
	ch <- descLargeFlow
}

// Collect implements the prometheus.Collector interface.
func (c *schedulerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		snap := src.Snapshot()
		ch <- prometheus.MustNewConstMetric(descInterfaceDrops, prometheus.CounterValue, float64(snap.DropPackets), snap.ID)
		large := 0.0
		if snap.HasLargeFlow {
			large = 1
		}
		ch <- prometheus.MustNewConstMetric(descLargeFlow, prometheus.GaugeValue, large, snap.ID)

		for _, g := range snap.Groups {
			group := strconv.Itoa(int(g.ID))
			for _, cs := range g.Classes {
				labels := []string{snap.ID, group, cs.Class.String()}
				ch <- prometheus.MustNewConstMetric(descQueuePackets, prometheus.GaugeValue,
					float64(cs.Stats.PktCount), labels...)
				ch <- prometheus.MustNewConstMetric(descQueueBytes, prometheus.GaugeValue,
					float64(cs.Stats.ByteCount), labels...)
				ch <- prometheus.MustNewConstMetric(descActiveFlows, prometheus.GaugeValue,
					float64(cs.NewFlows), append(labels, "new")...)
				ch <- prometheus.MustNewConstMetric(descActiveFlows, prometheus.GaugeValue,
					float64(cs.OldFlows), append(labels, "old")...)
				ch <- prometheus.MustNewConstMetric(descQueueDelay, prometheus.GaugeValue,
					cs.Stats.MinQDelay.Seconds(), append(labels, "min")...)
				ch <- prometheus.MustNewConstMetric(descQueueDelay, prometheus.GaugeValue,
					cs.Stats.AvgQDelay.Seconds(), append(labels, "avg")...)
				ch <- prometheus.MustNewConstMetric(descQueueDelay, prometheus.GaugeValue,
					cs.Stats.MaxQDelay.Seconds(), append(labels, "max")...)
			}
		}
	}
}
