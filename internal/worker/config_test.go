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
	"os"
	"path/filepath"
	"testing"

	"github.com/go-quicktest/qt"

	"frame.dev/engine/key"
)

const fleetYAML = `
workers:
  - family: compiler
    command: "cc -c"
    protocol: ndjson
    class: cpu_heavy
    env:
      CC: gcc
  - family: linker
    command: "ld"
    multiplex: true
`

func TestParseFleetConfigAndKeys(t *testing.T) {
	cfg, err := ParseFleetConfig([]byte(fleetYAML))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(cfg.Workers, 2))

	keys, err := cfg.Keys()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(keys, 2))

	compiler := keys[0]
	qt.Assert(t, qt.Equals(compiler.FamilyTag, "compiler"))
	qt.Assert(t, qt.DeepEquals(compiler.Argv, []string{"cc", "-c"}))
	qt.Assert(t, qt.Equals(compiler.Protocol, ProtocolNDJSON))
	qt.Assert(t, qt.Equals(compiler.Class, key.CPUHeavy))
	qt.Assert(t, qt.Equals(compiler.Env["CC"], "gcc"))

	linker := keys[1]
	qt.Assert(t, qt.Equals(linker.Protocol, ProtocolBinary))
	qt.Assert(t, qt.Equals(linker.Class, key.Regular))
	qt.Assert(t, qt.IsTrue(linker.Multiplex))
}

func TestToKeyDefaultsToBinaryAndRegular(t *testing.T) {
	wc := WorkerConfig{FamilyTag: "x", Command: "run"}
	k, err := wc.toKey()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(k.Protocol, ProtocolBinary))
	qt.Assert(t, qt.Equals(k.Class, key.Regular))
}

func TestToKeyReadsSandboxModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte("\x00asm"), 0o644)))

	wc := WorkerConfig{FamilyTag: "x", SandboxModule: path}
	k, err := wc.toKey()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(k.Sandbox.Enabled))
	qt.Assert(t, qt.DeepEquals(k.Sandbox.Module, []byte("\x00asm")))
}

func TestToKeyPropagatesMissingSandboxModuleError(t *testing.T) {
	wc := WorkerConfig{FamilyTag: "x", SandboxModule: "/nonexistent/mod.wasm"}
	_, err := wc.toKey()
	qt.Assert(t, qt.IsNotNil(err))
}
