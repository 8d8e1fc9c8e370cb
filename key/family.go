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

package key

import (
	"fmt"
	"time"
)

// ErrorPolicy controls what happens to a Function error at the end of a
// build (spec.md §4.1, §7).
type ErrorPolicy int

const (
	// Persistent errors are cached on the Node until invalidated, like
	// any other Value.
	Persistent ErrorPolicy = iota
	// Transient errors are dropped from the cache at the end of the
	// build and are always recomputed the next time they are needed,
	// even within the same build under keep-going (spec.md §9, second
	// open question).
	Transient
)

// Class is the workload label a Function's work is scheduled under
// (spec.md §4.4, §4.8).
type Class int

const (
	Regular Class = iota
	CPUHeavy
	Execution
)

func (c Class) String() string {
	switch c {
	case Regular:
		return "regular"
	case CPUHeavy:
		return "cpu_heavy"
	case Execution:
		return "execution"
	default:
		return "unknown"
	}
}

// Registration is the metadata installed by RegisterFamily: everything
// the evaluator needs to know about a family besides the compute
// function itself, which is supplied with a separate, caller-defined
// signature (the evaluator package parameterizes over it so that
// Environment/Outcome types can live next to the evaluator rather than
// here).
type Registration struct {
	Tag         string
	Class       Class
	ErrorPolicy ErrorPolicy

	// Timeout bounds a single invocation of the family's compute
	// function (spec.md §5). Zero means no deadline. The evaluator
	// derives a context.WithTimeout from it and passes that to
	// Environment.Context(); a function that does not observe ctx
	// cancellation runs to completion regardless, since the engine
	// never forcibly kills a running goroutine. An invocation whose
	// context expires before it returns is reported as a KindTimeout
	// error rather than whatever Outcome it produced.
	Timeout time.Duration
}

// registry is a process-wide table of installed families, modelled on
// internal/task's sync.Map-backed Register/Lookup registry: a family tag
// is registered once, globally, and looked up by string thereafter.
// Unlike internal/task, the value stored is metadata only (Registration);
// the compute closure itself is held by the evaluator's own family table
// so that it can be generic over the Value type without an interface{}
// indirection here.
var (
	regMu    = &familyMu // share the Family interning lock; registration
	registry = map[string]Registration{}
)

// RegisterFamily installs the metadata for a function family tag. It is
// a contract error to register the same tag twice with different
// metadata, and a no-op to register it twice identically (idempotent,
// like key interning itself).
func RegisterFamily(r Registration) Family {
	regMu.Lock()
	defer regMu.Unlock()
	if existing, ok := registry[r.Tag]; ok && existing != r {
		panic(fmt.Sprintf("key: family %q re-registered with different metadata", r.Tag))
	}
	registry[r.Tag] = r
	if _, ok := families[r.Tag]; !ok {
		families[r.Tag] = Family{tag: r.Tag}
	}
	return families[r.Tag]
}

// LookupFamily returns the Registration for a tag, and whether it was
// found (family dispatch, "family_of" in reverse).
func LookupFamily(tag string) (Registration, bool) {
	regMu.Lock()
	defer regMu.Unlock()
	r, ok := registry[tag]
	return r, ok
}
