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

import "sort"

// Scratchpad is per-key state that survives restarts (spec.md §4.4). A
// function that calls Environment.State() gets back the same Scratchpad
// on every restart for the same build, so it can resume incremental
// progress instead of redoing expensive work from the top.
type Scratchpad struct {
	data interface{}
}

// Get returns the stored value, or nil if nothing has been stored yet.
func (s *Scratchpad) Get() interface{} { return s.data }

// Set replaces the stored value.
func (s *Scratchpad) Set(v interface{}) { s.data = v }

// scratchpadFor returns n's Scratchpad, creating one on first access, and
// bumps its last-touched clock for the LRU eviction policy below.
func (n *Node) scratchpadFor(clock int64) *Scratchpad {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastTouched = clock
	sp, _ := n.scratchpad.(*Scratchpad)
	if sp == nil {
		sp = &Scratchpad{}
		n.scratchpad = sp
	}
	return sp
}

// dropScratchpadLocked clears a node's scratchpad. Called only on nodes
// with no in-flight task (state != EVALUATING): dropping a live task's
// scratchpad out from under it would violate the "survives restarts"
// contract.
func (n *Node) dropScratchpadLocked() {
	n.scratchpad = nil
}

// EvictScratchpads implements the memory-pressure mitigation hook
// (spec.md §5, §9): it discards function-owned scratchpad state of
// dormant nodes oldest-used first, stopping once pressure subsides or
// there is nothing left worth dropping. It never touches Values or
// edges — only scratchpads — so it is transparent to correctness.
func (e *Evaluator) EvictScratchpads() {
	if e.opts.HeapPressure == nil {
		return
	}
	nodes := e.store.All()
	sort.Slice(nodes, func(i, j int) bool {
		nodes[i].mu.Lock()
		ti := nodes[i].lastTouched
		nodes[i].mu.Unlock()
		nodes[j].mu.Lock()
		tj := nodes[j].lastTouched
		nodes[j].mu.Unlock()
		return ti < tj
	})
	for _, n := range nodes {
		if e.opts.HeapPressure() < e.opts.ScratchpadEvictionThreshold {
			return
		}
		n.mu.Lock()
		if n.state != StateEvaluating && n.scratchpad != nil {
			n.dropScratchpadLocked()
		}
		n.mu.Unlock()
	}
}
