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
	"context"

	"frame.dev/engine/internal/errs"
	"frame.dev/engine/key"
	"frame.dev/engine/value"
)

// GetResult is what Environment.Get returns for one dependency (spec.md
// §4.4): Ready carries a Value, Failed carries an Error (only possible
// for families whose contract permits exposing exceptions to callers),
// and Missing means the dep is not yet computed and the function must
// suspend.
type GetResult struct {
	Ready   bool
	Value   value.Value
	Failed  bool
	Err     errs.Error
	Missing bool
}

// Outcome is what a compute or cycle-handler function returns. Done
// means the function finished — with either a Value or an Error, never
// both. A zero Outcome (Done == false) means the function suspended
// because it observed at least one Missing dependency; the evaluator
// enforces that this is the only legal reason to return a not-done
// Outcome (spec.md §4.4's contract-violation rule).
type Outcome struct {
	Done  bool
	Value value.Value
	Err   errs.Error
}

// Environment is what a function receives to declare dependencies and
// report progress (spec.md §4.4).
type Environment interface {
	// Get fetches one dependency's current result, recording the edge.
	Get(k key.Key) GetResult
	// GetMany is the batched form of Get.
	GetMany(ks []key.Key) []GetResult
	// Listener returns this invocation's scoped event sink.
	Listener() *EventSink
	// Semantics exposes the engine's immutable, precomputed
	// configuration (spec.md §9's "engine context").
	Semantics() interface{}
	// State returns this key's scratchpad, creating it on first use.
	State() *Scratchpad
	// Context carries cancellation (spec.md §5).
	Context() context.Context
}

// ComputeFunc computes a Value (or Error) for a Key, given an
// Environment to declare dependencies through.
type ComputeFunc func(env Environment, k key.Key) Outcome

// CycleInfo describes the cycle the evaluator found a node to be part
// of, passed to that node family's CycleFunc (spec.md §4.4, §7).
type CycleInfo struct {
	// Cycle lists every key on the closed walk, including k itself,
	// in the order the depth-first search encountered them.
	Cycle []key.Key
}

// CycleFunc lets a family produce a cycle-specific error instead of the
// engine's generic Cycle error.
type CycleFunc func(k key.Key, info CycleInfo) Outcome

// FuncRecord is everything the evaluator needs to invoke a family's
// function: its metadata (key.Registration) plus the two closures.
type FuncRecord struct {
	Registration key.Registration
	Compute      ComputeFunc
	CycleHandler CycleFunc
}

// funcEnv is the concrete Environment handed to a running task. It
// forwards Gets to the current build, which is where dependency edges
// are actually recorded and where a Missing result triggers scheduling
// of the dependency (Environment itself is a thin, task-scoped wrapper).
type funcEnv struct {
	eval *Evaluator
	node *Node
	ctx  context.Context
	sink *EventSink
	b    *build
	inv  *invocation
}

func (e *funcEnv) Get(k key.Key) GetResult {
	return e.b.dependencyGet(e.node, k, e.inv)
}

func (e *funcEnv) GetMany(ks []key.Key) []GetResult {
	out := make([]GetResult, len(ks))
	for i, k := range ks {
		out[i] = e.Get(k)
	}
	return out
}

func (e *funcEnv) Listener() *EventSink        { return e.sink }
func (e *funcEnv) Semantics() interface{}      { return e.eval.opts.Semantics }
func (e *funcEnv) State() *Scratchpad          { return e.node.scratchpadFor(e.eval.clock()) }
func (e *funcEnv) Context() context.Context    { return e.ctx }
