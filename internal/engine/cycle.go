// Copyright 2024 CUE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"sync/atomic"

	"frame.dev/engine/internal/errs"
	"frame.dev/engine/key"
)

// maybeDetectCycles runs once the pool set has gone quiescent while
// roots remain unfinished: the only way that can happen honestly is a
// dependency cycle (every other stall condition keeps at least one task
// in flight). It walks the wait-for graph from each unfinished root
// looking for a closed walk, grounded on
// internal/core/toposort/graph.go's depth-first elementary-cycle
// search, adapted from CUE's static import graph to this engine's live,
// mutable wait-for edges (spec.md §4.7).
func (b *build) maybeDetectCycles() {
	if atomic.LoadInt64(&b.activeTasks) != 0 {
		return
	}
	b.mu.Lock()
	aborted := b.aborted && !b.opts.KeepGoing
	b.mu.Unlock()
	if aborted {
		return
	}

	for r := range b.rootSet {
		if n, ok := b.e.store.Get(r); ok {
			snap := n.Snapshot()
			if snap.state == StateDone {
				continue
			}
		}
		if cycle := findCycle(b, r); len(cycle) > 0 {
			b.resolveCycle(cycle)
			return
		}
	}
}

// findCycle runs an iterative-recursive DFS from root over the
// waitingOn edges of ENQUEUED nodes, returning the first closed walk it
// finds, or nil if the stall traces back to something other than a
// cycle (e.g. a root with no path back to itself, in which case the
// stall is a bug elsewhere and is left for the caller's deadlock to
// surface in tests rather than hidden behind a manufactured error).
func findCycle(b *build, root key.Key) []key.Key {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	status := map[key.Key]int{}
	var stack []key.Key

	var visit func(k key.Key) []key.Key
	visit = func(k key.Key) []key.Key {
		if status[k] == onStack {
			for i, s := range stack {
				if s == k {
					cyc := append([]key.Key(nil), stack[i:]...)
					return append(cyc, k)
				}
			}
		}
		if status[k] == done {
			return nil
		}
		n, ok := b.e.store.Get(k)
		if !ok {
			status[k] = done
			return nil
		}
		n.mu.Lock()
		state := n.state
		waiting := make([]key.Key, 0, len(n.waitingOn))
		for w := range n.waitingOn {
			waiting = append(waiting, w)
		}
		n.mu.Unlock()

		if state != StateEnqueued || len(waiting) == 0 {
			status[k] = done
			return nil
		}

		status[k] = onStack
		stack = append(stack, k)
		for _, w := range waiting {
			if cyc := visit(w); cyc != nil {
				return cyc
			}
		}
		stack = stack[:len(stack)-1]
		status[k] = done
		return nil
	}

	return visit(root)
}

// resolveCycle forces every member of a found cycle to a terminal
// state: its family's CycleHandler gets the chance to produce a
// tailored Outcome; families with none get the engine's generic Cycle
// error (spec.md §4.7).
func (b *build) resolveCycle(cycle []key.Key) {
	info := CycleInfo{Cycle: cycle}
	// Clear every member's wait set before finishing any of them, so that
	// finishing one member does not wake another into a fresh invocation.
	for _, k := range cycle {
		if n, ok := b.e.store.Get(k); ok {
			n.mu.Lock()
			n.waitingOn = nil
			n.mu.Unlock()
		}
	}
	for _, k := range cycle {
		n, ok := b.e.store.Get(k)
		if !ok {
			continue
		}
		rec := b.e.recordFor(k.Family())

		var outcome Outcome
		if rec != nil && rec.CycleHandler != nil {
			outcome = rec.CycleHandler(k, info)
		} else {
			outcome = Outcome{Done: true, Err: errs.New(errs.KindCycle, "dependency cycle detected: %v", cycle)}
		}

		b.finish(n, rec, outcome, nil)
	}
}
