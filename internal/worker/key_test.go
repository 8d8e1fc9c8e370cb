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

package worker

import (
	"testing"

	"github.com/go-quicktest/qt"

	"frame.dev/engine/key"
)

func TestIdentIsStableRegardlessOfEnvInsertionOrder(t *testing.T) {
	k1 := Key{FamilyTag: "compiler", Argv: []string{"cc", "-c"}, Env: map[string]string{"A": "1", "B": "2"}}
	k2 := Key{FamilyTag: "compiler", Argv: []string{"cc", "-c"}, Env: map[string]string{"B": "2", "A": "1"}}
	qt.Assert(t, qt.Equals(k1.ident(), k2.ident()))
}

func TestIdentDistinguishesDifferentArgv(t *testing.T) {
	k1 := Key{FamilyTag: "compiler", Argv: []string{"cc", "-c"}}
	k2 := Key{FamilyTag: "compiler", Argv: []string{"cc", "-O2"}}
	qt.Assert(t, qt.Not(qt.Equals(k1.ident(), k2.ident())))
}

func TestIdentDistinguishesSandboxAndMultiplexFlags(t *testing.T) {
	base := Key{FamilyTag: "x", Argv: []string{"run"}}
	sandboxed := base
	sandboxed.Sandbox = SandboxedSpec{Enabled: true}
	multiplexed := base
	multiplexed.Multiplex = true

	idents := map[string]bool{
		base.ident():        true,
		sandboxed.ident():   true,
		multiplexed.ident(): true,
	}
	qt.Assert(t, qt.HasLen(idents, 3))
}

func TestIdentIgnoresClassField(t *testing.T) {
	// Class is scheduling metadata, not part of a worker's process
	// identity: two Keys differing only in Class should pool together.
	k1 := Key{FamilyTag: "x", Argv: []string{"run"}, Class: key.Regular}
	k2 := Key{FamilyTag: "x", Argv: []string{"run"}, Class: key.CPUHeavy}
	qt.Assert(t, qt.Equals(k1.ident(), k2.ident()))
}
