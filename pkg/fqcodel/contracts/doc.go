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

// Package contracts defines the service interfaces through which the scheduler core talks to its collaborators.
//
// The core owns flow-queue state and the admission and departure logic. Everything around it is injected:
//
//   - `FlowDirectory` maps a `types.FlowKey` to a flow queue, creating one on demand and aging idle ones.
//   - `FlowPool` is the core's flow arena as seen by a directory (allocation, parking, reclamation).
//   - `Advisor` is the transport-advisory channel used to throttle and release cooperating senders.
//   - `DropLimitPolicy` decides when the instance is at its aggregate limit and which packets pay for it.
//   - `EventSink` receives structured observability events.
//
// All collaborators are invoked synchronously while the caller holds the scheduler instance's single-writer
// capability, so implementations need no locking of their own for state touched only from these calls.
package contracts
