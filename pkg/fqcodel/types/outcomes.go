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

package types

import "strconv"

// Result is the outcome of enqueueing a packet batch.
//
// The two "FlowControl" variants tell the caller that the flow has been registered for a flow-control advisory and
// that its sender should be paused until it receives release feedback. Every `Drop` variant means the arriving batch
// was not queued and has been accounted for in a drop counter.
type Result int

const (
	// ResultSuccess indicates the batch was queued.
	ResultSuccess Result = iota
	// ResultSuccessWithFlowControl indicates the batch was queued and the flow is now flow controlled.
	ResultSuccessWithFlowControl
	// ResultDrop indicates the batch was dropped.
	ResultDrop
	// ResultDropWithFlowControl indicates the batch was dropped in connection with a flow-control decision, either
	// because the transport does not react to advisories or because an advisory could not be registered.
	ResultDropWithFlowControl
	// ResultCompressed is internal to the admission pipeline: the new packet replaced the flow's tail packet. It is
	// reported to callers as ResultSuccess.
	ResultCompressed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultSuccessWithFlowControl:
		return "SuccessWithFlowControl"
	case ResultDrop:
		return "Drop"
	case ResultDropWithFlowControl:
		return "DropWithFlowControl"
	case ResultCompressed:
		return "Compressed"
	default:
		return "UnknownResult(" + strconv.Itoa(int(r)) + ")"
	}
}

// Dropped reports whether the batch was not queued.
func (r Result) Dropped() bool {
	return r == ResultDrop || r == ResultDropWithFlowControl
}

// FlowControlled reports whether the result carries a flow-control advisory for the sender.
func (r Result) FlowControlled() bool {
	return r == ResultSuccessWithFlowControl || r == ResultDropWithFlowControl
}
