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
	"testing"

	"github.com/go-quicktest/qt"
)

func TestAddDepIsIdempotent(t *testing.T) {
	store := NewNodeStore()
	dt := newDepTracker(store)
	parent := store.GetOrCreate(testKey(t, "deps_test", "parent"))
	child := store.GetOrCreate(testKey(t, "deps_test", "child"))

	dt.addDep(parent, child)
	dt.addDep(parent, child)

	qt.Assert(t, qt.HasLen(depKeysLocked(parent), 1))
	qt.Assert(t, qt.HasLen(rdepsOf(child), 1))
}

func TestAddDepPreservesDeclarationOrder(t *testing.T) {
	store := NewNodeStore()
	dt := newDepTracker(store)
	parent := store.GetOrCreate(testKey(t, "deps_test", "order_parent"))
	c1 := store.GetOrCreate(testKey(t, "deps_test", "order_c1"))
	c2 := store.GetOrCreate(testKey(t, "deps_test", "order_c2"))
	c3 := store.GetOrCreate(testKey(t, "deps_test", "order_c3"))

	dt.addDep(parent, c2)
	dt.addDep(parent, c1)
	dt.addDep(parent, c3)

	got := depKeysLocked(parent)
	qt.Assert(t, qt.HasLen(got, 3))
	qt.Assert(t, qt.Equals(got[0], c2.Key()))
	qt.Assert(t, qt.Equals(got[1], c1.Key()))
	qt.Assert(t, qt.Equals(got[2], c3.Key()))
}

func TestRemoveEdgeClearsBothSides(t *testing.T) {
	store := NewNodeStore()
	dt := newDepTracker(store)
	parent := store.GetOrCreate(testKey(t, "deps_test", "remove_parent"))
	child := store.GetOrCreate(testKey(t, "deps_test", "remove_child"))

	dt.addDep(parent, child)
	dt.removeEdge(parent, child)

	qt.Assert(t, qt.HasLen(depKeysLocked(parent), 0))
	qt.Assert(t, qt.HasLen(rdepsOf(child), 0))
}

func TestLockPairHandlesSelfDep(t *testing.T) {
	store := NewNodeStore()
	n := store.GetOrCreate(testKey(t, "deps_test", "self"))
	unlock := lockPair(n, n)
	unlock()
}
