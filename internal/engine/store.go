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
	"fmt"
	"sync"

	"frame.dev/engine/key"
)

// shardCount is the number of independent locks the store shards over.
// Sized like a typical sync-map sharding scheme; a power of two so the
// shard index is a cheap mask.
const shardCount = 64

// shard owns one partition of the key space, keyed by the low bits of
// the key's interned handle, matching spec.md §5's requirement that
// edges be locked "in a fixed order (by key hash)".
type shard struct {
	mu    sync.RWMutex
	nodes map[key.Key]*Node
}

// NodeStore owns every Node (C2). Concurrent get_or_create calls for the
// same key always return the same *Node; a handle, once returned, stays
// valid until Remove is called (which the caller must only do once no
// rdeps reference the node).
type NodeStore struct {
	shards [shardCount]*shard
}

// NewNodeStore creates an empty store.
func NewNodeStore() *NodeStore {
	s := &NodeStore{}
	for i := range s.shards {
		s.shards[i] = &shard{nodes: map[key.Key]*Node{}}
	}
	return s
}

func (s *NodeStore) shardFor(k key.Key) *shard {
	return s.shards[uint64(k.Handle())%shardCount]
}

// GetOrCreate returns the Node for k, creating it in state NEW if it
// does not yet exist.
func (s *NodeStore) GetOrCreate(k key.Key) *Node {
	sh := s.shardFor(k)

	sh.mu.RLock()
	if n, ok := sh.nodes[k]; ok {
		sh.mu.RUnlock()
		return n
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if n, ok := sh.nodes[k]; ok {
		return n
	}
	n := newNode(k)
	sh.nodes[k] = n
	return n
}

// Get returns the Node for k if one has been created, and whether it was
// found.
func (s *NodeStore) Get(k key.Key) (*Node, bool) {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	n, ok := sh.nodes[k]
	return n, ok
}

// Remove deletes the Node for k. It is a contract error to remove a node
// that still has rdeps; callers (the GC sweep) must check this first
// while holding the node's own lock.
func (s *NodeStore) Remove(k key.Key) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, ok := sh.nodes[k]
	if !ok {
		return
	}
	n.mu.Lock()
	rdepCount := len(n.rdeps)
	n.mu.Unlock()
	if rdepCount != 0 {
		panic(fmt.Sprintf("engine: removing node %v with %d live rdeps", k, rdepCount))
	}
	delete(sh.nodes, k)
}

// All returns a snapshot slice of every Node currently in the store, for
// use by GC sweeps and the dirtiness layer's iteration needs. The slice
// is a point-in-time copy; nodes created concurrently with the call may
// or may not be included.
func (s *NodeStore) All() []*Node {
	var all []*Node
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, n := range sh.nodes {
			all = append(all, n)
		}
		sh.mu.RUnlock()
	}
	return all
}

// Len reports how many Nodes currently exist.
func (s *NodeStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.nodes)
		sh.mu.RUnlock()
	}
	return total
}
