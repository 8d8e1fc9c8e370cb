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

// Package key implements the Key & Value registry (spec.md §4.1): it
// names the function family a key belongs to and interns key payloads so
// that equal payloads always produce the same handle.
//
// The interning scheme mirrors internal/core/runtime's Index type: a
// string form of the payload is looked up in a map guarded by a mutex,
// and first occurrences are assigned a monotonically increasing handle.
// Unlike Index, a Key carries its family tag directly rather than through
// a side table, since family dispatch (family_of) must be O(1) without a
// second lookup.
package key

import (
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Family is the immutable handle identifying which function computes a
// key's value. Two Keys from different Families are never equal, even if
// their payload strings coincide.
type Family struct {
	tag string
}

// FamilyOf returns a stable Family handle for a tag string. Interning
// ensures two calls with the same tag return the identical Family, so
// Family values can be compared with ==.
func FamilyOf(tag string) Family {
	familyMu.Lock()
	defer familyMu.Unlock()
	f, ok := families[tag]
	if !ok {
		f = Family{tag: tag}
		families[tag] = f
	}
	return f
}

func (f Family) String() string { return f.tag }

var (
	familyMu sync.Mutex
	families = map[string]Family{}
)

// Payload is implemented by application-defined key payloads. Payloads
// must be comparable the way the spec requires: equal payloads must
// intern to the same Key. String is used both as the interning identity
// and for debug output, so it must be injective over the values the
// family actually produces.
type Payload interface {
	String() string
}

// A Key is an immutable, hashable, typed identifier of a computation
// (spec.md §3). Keys are value-equal: two Keys interned from equal
// (family, payload-string) pairs are the same Go value and compare equal
// with ==, which is what lets them be used directly as map keys in the
// node store.
type Key struct {
	family  Family
	handle  int64
	digest  digest.Digest
	payload string
}

// Family reports the function family that computes this key (family_of).
func (k Key) Family() Family { return k.family }

// Handle is a process-local integer uniquely identifying this Key,
// stable for the lifetime of the interning table. Suitable for use as a
// hash-ordering tie-break (spec.md §5's "fixed order by key hash").
func (k Key) Handle() int64 { return k.handle }

// Digest returns a content digest of the key's family tag and payload, useful for
// logging/debugging without printing potentially large payloads, and as
// a stable sort/display key across runs.
func (k Key) Digest() digest.Digest { return k.digest }

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.family, k.payload)
}

// Table interns Keys for one evaluation universe (typically one per
// Evaluator/engine instance, analogous to one Index per Runtime). A
// nil *Table is not valid; use NewTable.
type Table struct {
	mu      sync.RWMutex
	byIdent map[string]Key
	next    int64
}

// NewTable creates an empty interning table.
func NewTable() *Table {
	return &Table{byIdent: make(map[string]Key)}
}

// Of interns a (family, payload) pair and returns a stable handle
// (key_of). Equal payloads produce the same Key: concurrent callers
// racing to intern the same identity always observe the same result.
func (t *Table) Of(family Family, payload Payload) Key {
	ident := family.tag + "\x00" + payload.String()

	t.mu.RLock()
	if k, ok := t.byIdent[ident]; ok {
		t.mu.RUnlock()
		return k
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if k, ok := t.byIdent[ident]; ok {
		return k
	}
	t.next++
	k := Key{
		family:  family,
		handle:  t.next,
		digest:  digest.FromString(ident),
		payload: payload.String(),
	}
	t.byIdent[ident] = k
	return k
}

// Len reports how many distinct keys have been interned, mainly for
// tests and diagnostics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byIdent)
}
