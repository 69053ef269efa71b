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
	"fmt"
	"strings"
)

// =============================================================================
// Flow Queue Lifecycle State Machine
// =============================================================================

// Lifecycle is the mutually exclusive scheduling state of a `FlowQueue`.
//
// The state machine is:
//
//	Detached --activate--> New --credits exhausted--> Old --drained--> Empty --reclaimed--> (destroyed)
//	   ^  |                                                               |
//	   |  +------------------------- park ---------------------------->  |
//	   +------------------------------ unpark ----------------------------+
//
// A flow queue is on exactly one of: nothing (Detached), the directory's Empty list, its class's new-flows list or
// its class's old-flows list. Every transition goes through `transition` and an edge not listed in
// `validTransitions` is a fatal defect.
type Lifecycle uint8

const (
	// LifecycleDetached is the state of a freshly allocated or unparked flow queue that is on no list.
	LifecycleDetached Lifecycle = iota

	// LifecycleEmpty indicates the flow queue has no backlog and is parked on the directory's Empty list, aging
	// towards reclamation.
	LifecycleEmpty

	// LifecycleNew indicates the flow queue was recently activated and sits on its class's new-flows list.
	LifecycleNew

	// LifecycleOld indicates the flow queue used up its first quantum and sits on its class's old-flows list.
	LifecycleOld
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleDetached:
		return "Detached"
	case LifecycleEmpty:
		return "Empty"
	case LifecycleNew:
		return "New"
	case LifecycleOld:
		return "Old"
	default:
		return fmt.Sprintf("Unknown(%d)", l)
	}
}

// Active reports whether the flow queue sits on an activation list.
func (l Lifecycle) Active() bool {
	return l == LifecycleNew || l == LifecycleOld
}

var validTransitions = map[Lifecycle][]Lifecycle{
	LifecycleDetached: {LifecycleNew, LifecycleEmpty},
	LifecycleEmpty:    {LifecycleDetached},
	LifecycleNew:      {LifecycleOld},
	LifecycleOld:      {LifecycleEmpty},
}

// canTransition reports whether from -> to is an edge of the lifecycle state machine.
func canTransition(from, to Lifecycle) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// Flow Queue Conditions
// =============================================================================

// Conditions is the set of independent classification flags carried by a `FlowQueue`.
type Conditions uint8

const (
	// ConditionDelayHigh is set when the flow's minimum sojourn delay over an update interval exceeded the group's
	// target delay, or when a dequeue stall was detected.
	ConditionDelayHigh Conditions = 1 << iota
	// ConditionOverwhelming is set when the flow, as the instance's large flow, caused the drop limit to be hit.
	ConditionOverwhelming
	// ConditionFlowControlCapable is set at creation when the flow's packets originate from a layer that can receive
	// advisories.
	ConditionFlowControlCapable
	// ConditionFlowControlOn is set while a flow-control advisory is outstanding for the flow.
	ConditionFlowControlOn
)

var conditionNames = []struct {
	c    Conditions
	name string
}{
	{ConditionDelayHigh, "DelayHigh"},
	{ConditionOverwhelming, "Overwhelming"},
	{ConditionFlowControlCapable, "FlowControlCapable"},
	{ConditionFlowControlOn, "FlowControlOn"},
}

// Has reports whether all conditions in mask are set.
func (c Conditions) Has(mask Conditions) bool { return c&mask == mask }

// Any reports whether at least one condition in mask is set.
func (c Conditions) Any(mask Conditions) bool { return c&mask != 0 }

func (c Conditions) String() string {
	if c == 0 {
		return "None"
	}
	var parts []string
	for _, n := range conditionNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
