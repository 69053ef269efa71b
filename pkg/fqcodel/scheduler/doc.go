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

// Package scheduler implements the core of an FQ-CoDel flow queue scheduler: per-flow queues with delay-based
// congestion classification, the admission pipeline that applies flow-control advisories, head drops and
// compression, and the dequeue-side delay measurement that drives classification and release feedback.
//
// # Architecture
//
// A `Scheduler` owns one or more `Group`s, each holding one `ServiceClassQueue` per service class. A class queue holds
// two activation lists of flow handles: new flows and old flows. Flow queues live in a pooled arena and are referenced
// by generation-checked `types.FlowHandle`s. Packets are queued per flow.
//
// The scheduler does not decide which flow to serve. An external deficit round-robin loop walks the activation lists
// and calls `Txn.Dequeue`, `Txn.MoveToOld` and `Txn.Deactivate`. Locating flows, aging idle ones, registering
// advisories and enforcing the aggregate limit are delegated to the collaborators defined in the `contracts` package.
//
// # Concurrency
//
// Every operation requires the instance's single-writer capability, a `Txn` obtained from `Scheduler.Lock`. Nothing
// inside the package takes further locks.
//
// # Fatal Defects
//
// Internal invariant violations (inconsistent counters, invalid lifecycle transitions, destroying a flow that is
// still referenced) are programming errors and panic with an `*InvariantError`.
package scheduler
