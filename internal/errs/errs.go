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

// Package errs defines the error taxonomy shared by the evaluation engine.
//
// The pivotal type is [Error]. Functions never panic to signal a domain
// failure; they return an Error value that carries a [Kind] so the engine
// and, transitively, the function family that produced it, can decide how
// to treat the failure (cache it, drop it, bubble it, shut everything
// down).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error the way spec.md §7 requires.
type Kind int

const (
	// KindFunction is a domain error a function family declared in
	// advance. Subject to the family's error policy (persistent or
	// transient).
	KindFunction Kind = iota
	// KindContract is a violation of the function/evaluator contract,
	// e.g. producing a Value after a Missing dep. Always fatal.
	KindContract
	// KindCycle is reported by the cycle detector.
	KindCycle
	// KindAborted means work stopped because another error triggered
	// --nokeep_going shutdown; it is not a real diagnosis.
	KindAborted
	// KindInterrupted is cooperative cancellation.
	KindInterrupted
	// KindTimeout is a per-function timeout expiring.
	KindTimeout
	// KindCatastrophic is an internal invariant violation; the
	// evaluator shuts down all pools and re-raises.
	KindCatastrophic
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindContract:
		return "contract"
	case KindCycle:
		return "cycle"
	case KindAborted:
		return "aborted"
	case KindInterrupted:
		return "interrupted"
	case KindTimeout:
		return "timeout"
	case KindCatastrophic:
		return "catastrophic"
	default:
		return "unknown"
	}
}

// Error is the common error type flowing through the graph. It is a
// first-class value, not a panic: a Node in state DONE may hold an Error
// in place of a Value.
type Error interface {
	error
	// ErrKind reports the taxonomy this error belongs to.
	ErrKind() Kind
	// Unwrap exposes the wrapped error, if any, for errors.Is/As.
	Unwrap() error
}

type baseError struct {
	kind Kind
	msg  string
	wrap error
}

func (e *baseError) Error() string {
	if e.wrap != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.wrap)
	}
	return e.msg
}

func (e *baseError) ErrKind() Kind  { return e.kind }
func (e *baseError) Unwrap() error  { return e.wrap }

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) Error {
	return &baseError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that wraps an underlying error,
// retaining it for errors.Is/errors.As traversal. Analogous to the
// teacher's errors.Wrap/errors.Promote pair (cue/errors), collapsed into
// one constructor since the engine does not need position information.
func Wrap(kind Kind, wrapped error, format string, args ...interface{}) Error {
	return &baseError{kind: kind, msg: fmt.Sprintf(format, args...), wrap: wrapped}
}

// Promote turns a plain error into an Error of the given kind, preserving
// it unchanged if it already is one.
func Promote(kind Kind, err error) Error {
	if err == nil {
		return nil
	}
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return &baseError{kind: kind, msg: err.Error(), wrap: err}
}

// Is reports whether the first Error in err's chain is of the given kind;
// Errors wrapped further down the chain are not examined.
func Is(err error, kind Kind) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.ErrKind() == kind
}

// List aggregates multiple errors produced during a keep-going evaluation,
// analogous to cue/errors' list-of-errors idiom.
type List []Error

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	default:
		s := fmt.Sprintf("%d errors:", len(l))
		for _, e := range l {
			s += "\n  " + e.Error()
		}
		return s
	}
}

// ErrKind reports the kind of the list's first error, or KindFunction
// for an empty list, so that a List is itself an Error.
func (l List) ErrKind() Kind {
	if len(l) == 0 {
		return KindFunction
	}
	return l[0].ErrKind()
}

// Unwrap returns the list's first error, or nil for an empty list.
func (l List) Unwrap() error {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

// Append adds err to the list, flattening nested Lists, and skipping nils.
func Append(l List, err Error) List {
	if err == nil {
		return l
	}
	if inner, ok := err.(List); ok {
		return append(l, inner...)
	}
	return append(l, err)
}
