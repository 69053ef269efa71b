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

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// InvariantError describes a violated internal invariant. The scheduler panics with an *InvariantError; it wraps
// `types.ErrInvariantViolation` so that recovered panics can be matched with `errors.Is`.
type InvariantError struct {
	// Op is the operation that detected the violation.
	Op string
	// Key identifies the flow involved, if any.
	Key types.FlowKey
	// Detail describes the violation.
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s (flow %s): %s", types.ErrInvariantViolation, e.Op, e.Key, e.Detail)
}

func (e *InvariantError) Unwrap() error { return types.ErrInvariantViolation }

// invariantf panics with an *InvariantError.
func invariantf(op string, key types.FlowKey, format string, args ...any) {
	panic(&InvariantError{Op: op, Key: key, Detail: fmt.Sprintf(format, args...)})
}

// subUint64 decrements *v by n, panicking on underflow.
func subUint64(op string, key types.FlowKey, what string, v *uint64, n uint64) {
	if *v < n {
		invariantf(op, key, "%s underflow: %d - %d", what, *v, n)
	}
	*v -= n
}
