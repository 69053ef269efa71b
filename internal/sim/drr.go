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

package sim

import (
	"time"

	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/scheduler"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/types"
)

// Server is a reference deficit round-robin dequeue loop over the activation lists of one flow group. Service
// classes are served in strict priority, network control first.
type Server struct {
	Group types.GroupID
}

// Next returns the next packet to transmit at now, or false if every class of the group is idle. Ownership of the
// packet passes to the caller.
func (sv Server) Next(txn *scheduler.Txn, now time.Time) (types.Packet, bool) {
	for c := types.NumServiceClasses - 1; c >= 0; c-- {
		cl, ok := txn.Class(sv.Group, types.ServiceClass(c))
		if !ok || !cl.Backlogged() {
			continue
		}
		if p, ok := serveClass(txn, cl, now); ok {
			return p, true
		}
	}
	return nil, false
}

// serveClass runs one round of DRR over cl. A flow found empty on the new-flows list moves to the old-flows list
// before it is deactivated, so a flow that keeps re-arriving cannot starve the old flows.
func serveClass(txn *scheduler.Txn, cl *scheduler.ServiceClassQueue, now time.Time) (types.Packet, bool) {
	for cl.Backlogged() {
		h, fromNew := cl.NewFlowsHead()
		if !fromNew {
			h, _ = cl.OldFlowsHead()
		}

		if deficit := txn.Deficit(h); deficit <= 0 {
			txn.SetDeficit(h, deficit+int64(cl.Quantum()))
			txn.MoveToOld(h)
			continue
		}

		p, ok := txn.Dequeue(h, now)
		if !ok {
			if fromNew {
				txn.MoveToOld(h)
			} else {
				txn.Deactivate(h, now)
			}
			continue
		}
		txn.SetDeficit(h, txn.Deficit(h)-int64(p.Len()))
		return p, true
	}
	return nil, false
}
