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

// Package types defines the fundamental data structures and sentinel errors shared by every layer of the
// flow-queue scheduler.
//
// It holds the identity of a flow (`FlowKey`), the stable arena reference used to address an allocated flow queue
// (`FlowHandle`), the abstract packet accessor contract (`Packet`) through which the core reads and writes packet
// metadata, and the result codes returned by the admission pipeline.
//
// The package has no dependencies on other scheduler packages so that both the core and its collaborators can share
// these definitions without import cycles.
package types
