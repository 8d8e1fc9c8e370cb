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
	"github.com/mpvl/unique"

	"frame.dev/engine/key"
)

// depTracker records forward/reverse edges between Nodes (C3). It holds
// no state of its own — edges live on the Nodes themselves — but
// centralizes the locking discipline spec.md §5 requires: edges are
// updated under the combined lock of both endpoints, always acquired in
// a fixed order (by key handle) to avoid deadlock, the same discipline
// internal/core/dep's vertex-reference walk takes for granted but never
// has to implement itself (CUE's evaluator is single-threaded per
// Vertex subtree).
type depTracker struct {
	store *NodeStore
}

func newDepTracker(store *NodeStore) *depTracker {
	return &depTracker{store: store}
}

// lockPair acquires both nodes' locks in handle order and returns
// an unlock func. Passing the same node twice is safe (self-dep, which
// the caller is expected to reject at a higher level, but the tracker
// itself must not deadlock on it).
func lockPair(a, b *Node) func() {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if b.key.Handle() < a.key.Handle() {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// addDep records that parent depends on child (add_dep). It is
// idempotent: calling it twice with the same pair in one build is a
// no-op. New deps are appended in declaration order; existing edges
// (from before a restart) are reused rather than duplicated, satisfying
// the "tie-break rule" of spec.md §4.3.
func (t *depTracker) addDep(parent, child *Node) {
	unlock := lockPair(parent, child)
	defer unlock()

	if _, ok := parent.depIndex[child.key]; ok {
		return
	}
	idx := len(parent.deps)
	parent.depIndex[child.key] = idx
	parent.deps = append(parent.deps, depEdge{key: child.key})
	child.rdeps[parent.key] = parent
}

// removeEdge drops the parent->child edge from both sides atomically.
// Used only by GC; live evaluation never needs to sever an edge once
// declared (dep lists only grow across restarts, per spec.md §3).
func (t *depTracker) removeEdge(parent, child *Node) {
	unlock := lockPair(parent, child)
	defer unlock()

	if idx, ok := parent.depIndex[child.key]; ok {
		parent.deps = append(parent.deps[:idx], parent.deps[idx+1:]...)
		delete(parent.depIndex, child.key)
		for k, i := range parent.depIndex {
			if i > idx {
				parent.depIndex[k] = i - 1
			}
		}
	}
	delete(child.rdeps, parent.key)
}

// dedupeRdeps is a defensive sweep used after GC removes nodes: it drops
// any rdep entries whose key no longer resolves to a live Node in the
// store. Grounded on mpvl/unique's sort-then-compact idiom, applied here
// to a slice of rdep keys rather than to the live map directly so the
// node's own lock is held for the shortest possible time.
func (t *depTracker) dedupeRdeps(n *Node) {
	n.mu.Lock()
	keys := make([]key.Key, 0, len(n.rdeps))
	for k := range n.rdeps {
		keys = append(keys, k)
	}
	n.mu.Unlock()

	unique.Sort(keySlice{&keys})

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range keys {
		if _, ok := t.store.Get(k); !ok {
			delete(n.rdeps, k)
		}
	}
}

// keySlice adapts a []key.Key to mpvl/unique's Interface: sort.Interface
// plus Cut(i, j), which removes the already-sorted duplicate range
// [i, j) from the backing slice.
type keySlice struct{ s *[]key.Key }

func (k keySlice) Len() int      { return len(*k.s) }
func (k keySlice) Swap(i, j int) { (*k.s)[i], (*k.s)[j] = (*k.s)[j], (*k.s)[i] }
func (k keySlice) Less(i, j int) bool {
	return (*k.s)[i].Handle() < (*k.s)[j].Handle()
}
func (k keySlice) Cut(i, j int) {
	s := *k.s
	copy(s[i:], s[j:])
	*k.s = s[:len(s)-(j-i)]
}

// rdepsOf returns a snapshot of n's current reverse-dependency Nodes.
func rdepsOf(n *Node) []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, 0, len(n.rdeps))
	for _, r := range n.rdeps {
		out = append(out, r)
	}
	return out
}
