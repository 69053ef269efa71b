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

import "errors"

// --- Invariant Violations ---

// ErrInvariantViolation is wrapped by every panic value raised when a design contract of the scheduler is broken (for
// example destroying a flow queue that still holds packets). These are defects, not recoverable conditions.
var ErrInvariantViolation = errors.New("flow queue invariant violated")

// --- Resource and Admission Errors ---

var (
	// ErrFlowPoolExhausted indicates a flow queue could not be allocated because the flow pool is at capacity.
	ErrFlowPoolExhausted = errors.New("flow queue pool exhausted")

	// ErrFlowNotFound indicates a lookup without creation found no flow queue for the key.
	ErrFlowNotFound = errors.New("flow queue not found")

	// ErrStaleFlowHandle indicates a handle refers to a flow queue that has since been destroyed.
	ErrStaleFlowHandle = errors.New("stale flow handle")

	// ErrAdvisoryTableFull indicates a flow-control entry could not be registered.
	ErrAdvisoryTableFull = errors.New("flow advisory table full")
)

// --- Configuration Errors ---

var (
	// ErrUnknownGroup indicates an enqueue named a flow group the scheduler was not configured with.
	ErrUnknownGroup = errors.New("unknown flow group")

	// ErrInvalidConfig is wrapped by configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)
