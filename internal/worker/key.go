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

// Package worker implements the worker pool (spec.md §4.7): long-lived
// subprocesses (or, via a sandboxed backend, in-process WASM modules)
// that speak a framed request/response protocol, pooled by WorkerKey
// with least-recently-used eviction.
//
// Subprocess lifecycle is grounded on
// pkg/tool/exec/exec.go (exec.CommandContext, stdin/stdout/stderr
// wiring, distinguishing a process that failed to start from one that
// exited nonzero). Pool locking is grounded on mod/modcache/cache.go's
// use of rogpeppe/go-internal/lockedfile for exclusive, crash-safe
// access to a shared cache directory.
package worker

import (
	"sort"

	"frame.dev/engine/key"
)

// ProtocolVariant selects the wire encoding a worker speaks (spec.md
// §6).
type ProtocolVariant int

const (
	// ProtocolBinary is the canonical length-prefixed binary framing.
	ProtocolBinary ProtocolVariant = iota
	// ProtocolNDJSON is newline-delimited JSON with the same schema.
	ProtocolNDJSON
)

// Key is the tuple identifying a pooled worker (spec.md §4.7): two
// requests with an equal Key may share a pooled subprocess.
type Key struct {
	FamilyTag string
	Argv      []string
	Env       map[string]string
	Sandbox   SandboxedSpec
	Protocol  ProtocolVariant
	// Multiplex marks a worker as able to hold more than one
	// outstanding request at a time. Dynamic execution must never be
	// routed to a multiplex key (spec.md §4.7): Pool.Acquire rejects any
	// Key with Multiplex set when Class is key.Execution.
	Multiplex bool
	// Class is the scheduling class the requests this worker serves
	// belong to (spec.md §4.8); it is what Pool.Acquire checks the
	// Multiplex/Execution rule against, not a pool's own bookkeeping.
	Class key.Class
	// CancellationCapable declares whether this worker honors the
	// cooperative `cancel` control frame (spec.md §4.7). Pool.Execute
	// sends a cancel frame and keeps a capable worker in service; a
	// worker that is not cancellation-capable is destroyed outright on
	// interrupt instead, since there is no way to know it will ever
	// stop acting on the abandoned request.
	CancellationCapable bool
}

// SandboxedSpec abstracts the isolation setup difference between a
// plain OS subprocess and an in-process WASM sandbox; both backends
// share the exact same framed protocol once started (spec.md §4.7).
type SandboxedSpec struct {
	// Enabled selects the wazero-backed in-process backend instead of
	// an OS subprocess.
	Enabled bool
	// Module is the compiled WASM bytes to run when Enabled is true.
	Module []byte
}

// ident returns a value usable as a map key: Key itself is not
// comparable (it embeds a []string and a map), so the pool indexes
// workers by this flattened string form instead.
func (k Key) ident() string {
	s := k.FamilyTag + "\x00"
	for _, a := range k.Argv {
		s += a + "\x1f"
	}
	s += "\x00"
	keys := make([]string, 0, len(k.Env))
	for ek := range k.Env {
		keys = append(keys, ek)
	}
	sort.Strings(keys)
	for _, ek := range keys {
		s += ek + "=" + k.Env[ek] + "\x1f"
	}
	if k.Sandbox.Enabled {
		s += "\x00sandboxed"
	}
	if k.Multiplex {
		s += "\x00multiplex"
	}
	return s
}
