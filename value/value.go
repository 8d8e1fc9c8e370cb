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

// Package value defines the Value contract (spec.md §3) and the equality
// helper the engine uses for value-equality pruning.
package value

import "github.com/google/go-cmp/cmp"

// Value is an immutable result produced by a function for exactly one
// key. The engine treats Values opaquely except for equality: functions
// must be deterministic given their declared deps, and two Values
// computed from equal deps must compare Equal.
type Value interface{}

// Equaler is implemented by Values with a cheaper or more precise notion
// of equality than structural comparison, e.g. a Value wrapping a
// content digest that should be compared by digest alone.
type Equaler interface {
	ValueEqual(other Value) bool
}

// Equal reports whether two Values are equal for the purpose of
// value-equality pruning (spec.md §4.4): if a re-evaluated Value equals
// its previous Value, the engine does not mark dependents dirty.
//
// A Value implementing Equaler is compared with ValueEqual. Otherwise
// the engine falls back to structural comparison with go-cmp, the same
// fallback the teacher's own tests lean on in place of reflect.DeepEqual.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ea, ok := a.(Equaler); ok {
		return ea.ValueEqual(b)
	}
	return cmp.Equal(a, b)
}
