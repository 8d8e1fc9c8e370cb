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

// Package engine implements the incremental, demand-driven evaluation
// engine of spec.md: the Node store (C2), dependency tracker (C3), the
// Evaluator (C4), and the three-pool concurrency substrate (C8). Error
// and event reporting (C6) live alongside the Evaluator since they are
// produced at the same call sites.
package engine

import (
	"sync"

	"frame.dev/engine/internal/errs"
	"frame.dev/engine/key"
	"frame.dev/engine/value"
)

// State is a Node's position in the lifecycle state machine drawn in
// spec.md §3.
type State int

const (
	// NEW: no Node has been created for this key yet, or it was just
	// created and has not been enqueued.
	StateNew State = iota
	// Enqueued: scheduled onto a pool, not yet running.
	StateEnqueued
	// Evaluating: a function invocation for this key is in flight.
	StateEvaluating
	// Done: holds either a Value or an Error, plus the deps declared to
	// produce it.
	StateDone
	// Dirty: a prior Value/Error may no longer be valid; the prior
	// result and dep list are retained for CheckDeps.
	StateDirty
	// CheckDeps: re-verifying whether a Dirty node's declared deps are
	// still bit-equal to the values they had at last computation.
	StateCheckDeps
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateEnqueued:
		return "ENQUEUED"
	case StateEvaluating:
		return "EVALUATING"
	case StateDone:
		return "DONE"
	case StateDirty:
		return "DIRTY"
	case StateCheckDeps:
		return "CHECK_DEPS"
	default:
		return "UNKNOWN"
	}
}

// depEdge is one declared dependency, with the Value it had the last
// time the depending Node finished computing — the snapshot CheckDeps
// compares against.
type depEdge struct {
	key         key.Key
	valueAtLast value.Value
	errAtLast   errs.Error
}

// Node is the engine's per-key record (spec.md §3). All field access
// must go through the owning *Node's mutex; NodeStore hands out pointers
// that are shared across goroutines.
type Node struct {
	mu sync.Mutex

	key   key.Key
	state State

	value value.Value
	err   errs.Error

	// deps is the ordered set of dependency keys, first-occurrence
	// order, preserved across restarts (spec.md §3, §4.3).
	deps []depEdge
	// depIndex supports idempotent add_dep lookups without a linear
	// scan.
	depIndex map[key.Key]int

	// rdeps is the (unordered) reverse-dependency set.
	rdeps map[key.Key]*Node

	// version is the global change-batch counter value at which this
	// Node's Value last *changed* (not merely re-ran). Value-equality
	// pruning keeps this unchanged across a re-run that reproduced an
	// equal Value.
	version int64
	// runVersion is bumped every time the function actually ran,
	// whether or not the result changed; used to detect "ran but
	// pruned" for tests.
	runVersion int64

	// restartDeps is the prefix of deps that existed at the start of
	// the in-flight evaluation's most recent restart; used to assert
	// dep-order stability (spec.md §8, testable property 2).
	restartDeps []key.Key

	// scratchpad is the function-owned state that survives restarts
	// (spec.md §4.4 "state()"). It is also kept across dirtying and
	// recomputation; only EvictScratchpads drops it, under memory
	// pressure between scheduling rounds.
	scratchpad   interface{}
	lastTouched  int64 // logical clock for scratchpad LRU eviction

	// waitingOn is the live set of deps this node's most recent
	// invocation observed as Missing and has not yet seen signalled
	// DONE. Reaching empty makes the node re-schedulable (C3 signal()).
	waitingOn map[key.Key]struct{}

	// transient marks that this node's current DONE result is a
	// transient-policy Function error: it must not be served from
	// cache to a second requester within the same build (spec.md §9).
	transient bool
}

func newNode(k key.Key) *Node {
	return &Node{
		key:      k,
		state:    StateNew,
		depIndex: map[key.Key]int{},
		rdeps:    map[key.Key]*Node{},
	}
}

// Key reports the key this Node was created for.
func (n *Node) Key() key.Key { return n.key }

// snapshot is an immutable view of a Node's externally-visible fields,
// used by EvaluationResult and by tests; it must be built while holding
// n.mu.
type snapshot struct {
	state   State
	value   value.Value
	err     errs.Error
	deps    []key.Key
	version int64
}

func (n *Node) snapshotLocked() snapshot {
	deps := make([]key.Key, len(n.deps))
	for i, d := range n.deps {
		deps[i] = d.key
	}
	return snapshot{
		state:   n.state,
		value:   n.value,
		err:     n.err,
		deps:    deps,
		version: n.version,
	}
}

// Snapshot takes the node's lock and returns a consistent view.
func (n *Node) Snapshot() snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

// State reports the Node's lifecycle state at snapshot time.
func (s snapshot) State() State { return s.state }

// Value reports the Node's cached Value at snapshot time (nil if the
// Node holds an Error instead, or has never completed).
func (s snapshot) Value() value.Value { return s.value }

// Err reports the Node's cached Error at snapshot time, if any.
func (s snapshot) Err() errs.Error { return s.err }

// Deps reports the Node's declared dependency keys, in declaration
// order, at snapshot time.
func (s snapshot) Deps() []key.Key { return s.deps }

// Version reports the global change-batch counter value at which the
// Node's Value last changed (spec.md §3).
func (s snapshot) Version() int64 { return s.version }

// Seed directly installs a Value on a Node that has never been
// computed (state NEW), without invoking any registered function. This
// models the dirtiness layer's "inject a new state" step for a path
// that was not previously in the graph (spec.md §4.5): the stat result
// itself becomes the Node's first and only "computation." A Node past
// NEW is left untouched — Seed never overwrites a real result.
func (n *Node) Seed(v value.Value) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateNew {
		return
	}
	n.value = v
	n.state = StateDone
}

// MarkDirty transitions a DONE node to DIRTY (spec.md §3, §4.5). When
// replace is true, replacement becomes the node's new cached Value —
// the ancestor-inference path that "injects a new state" without
// forcing a recompute; when false, the prior Value is retained only as
// the CheckDeps comparison basis and the node will be fully recomputed
// ("external" dirtying, spec.md §4.5). A node not currently DONE is
// left untouched: dirtying only ever demotes a settled result.
func (n *Node) MarkDirty(replacement value.Value, replace bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateDone {
		return
	}
	n.state = StateDirty
	n.transient = false
	if replace {
		n.value = replacement
		n.err = nil
	}
}
