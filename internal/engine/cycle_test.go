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
	"testing"

	"github.com/go-quicktest/qt"

	"frame.dev/engine/internal/errs"
	"frame.dev/engine/key"
)

// TestMutualCycleProducesCycleError builds two keys, a and b, whose
// compute functions each depend on the other (a -> b -> a) and checks
// that the stall is resolved as a cycle rather than a hang.
func TestMutualCycleProducesCycleError(t *testing.T) {
	e := NewEvaluator()
	var aKey, bKey key.Key

	fam := e.RegisterFunction(
		key.Registration{Tag: "test.cyclic", Class: key.Regular, ErrorPolicy: key.Persistent},
		func(env Environment, k key.Key) Outcome {
			var other key.Key
			if k == aKey {
				other = bKey
			} else {
				other = aKey
			}
			r := env.Get(other)
			if r.Missing {
				return Outcome{}
			}
			return Outcome{Done: true, Value: 0}
		}, nil)

	aKey = e.Keys().Of(fam, namePayload("a"))
	bKey = e.Keys().Of(fam, namePayload("b"))

	// KindCycle is not a KindFunction error, so it aborts the build whether
	// or not KeepGoing is set (spec.md §4.4's keep-going rule only shields
	// domain errors a function family itself raised).
	result, err := e.Evaluate(context.Background(), []key.Key{aKey, bKey}, Options{})
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.IsTrue(errs.Is(result.Errors[aKey], errs.KindCycle)))
	qt.Assert(t, qt.IsTrue(errs.Is(result.Errors[bKey], errs.KindCycle)))
}

// TestSelfCycleIsDetected checks the degenerate one-node cycle (a key
// that depends on itself).
func TestSelfCycleIsDetected(t *testing.T) {
	e := NewEvaluator()
	var selfKey key.Key

	fam := e.RegisterFunction(
		key.Registration{Tag: "test.selfcycle", Class: key.Regular, ErrorPolicy: key.Persistent},
		func(env Environment, k key.Key) Outcome {
			r := env.Get(selfKey)
			if r.Missing {
				return Outcome{}
			}
			return Outcome{Done: true, Value: 1}
		}, nil)
	selfKey = e.Keys().Of(fam, namePayload("self"))

	result, err := e.Evaluate(context.Background(), []key.Key{selfKey}, Options{})
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.IsTrue(errs.Is(result.Errors[selfKey], errs.KindCycle)))
}

// TestCycleHandlerOverridesGenericError confirms a family's CycleFunc,
// when registered, is given the chance to produce a tailored Outcome
// instead of the engine's generic Cycle error (spec.md §4.7).
func TestCycleHandlerOverridesGenericError(t *testing.T) {
	e := NewEvaluator()
	var aKey, bKey key.Key

	fam := e.RegisterFunction(
		key.Registration{Tag: "test.handledcycle", Class: key.Regular, ErrorPolicy: key.Persistent},
		func(env Environment, k key.Key) Outcome {
			var other key.Key
			if k == aKey {
				other = bKey
			} else {
				other = aKey
			}
			r := env.Get(other)
			if r.Missing {
				return Outcome{}
			}
			return Outcome{Done: true, Value: 0}
		},
		func(k key.Key, info CycleInfo) Outcome {
			return Outcome{Done: true, Value: -1}
		})

	aKey = e.Keys().Of(fam, namePayload("a"))
	bKey = e.Keys().Of(fam, namePayload("b"))

	result, err := e.Evaluate(context.Background(), []key.Key{aKey, bKey}, Options{})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(result.Values[aKey], -1))
	qt.Assert(t, qt.Equals(result.Values[bKey], -1))
}
