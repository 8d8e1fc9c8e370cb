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
	"context"
	"fmt"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// sandboxRuntime is a process-wide wazero runtime, instantiated once and
// shared by every SandboxedSpec worker, mirroring cue/wasm's single
// package-level runtime.
var sandboxRuntime = wazero.NewRuntimeWithConfig(context.Background(), wazero.NewRuntimeConfig())

func init() {
	wasi_snapshot_preview1.MustInstantiate(context.Background(), sandboxRuntime)
}

// spawnSandboxed starts an in-process WASI module as a worker backend,
// sharing the exact same framed request/response protocol as a
// subprocess worker (spec.md §4.7): the module reads requests from its
// WASI stdin and writes responses to its WASI stdout, exactly as an OS
// process would, but isolated via wazero instead of a fork/exec boundary.
// Grounded on cue/wasm/wasm.go's runtime/module/instance layering.
func spawnSandboxed(ctx context.Context, key Key) (*Worker, error) {
	mod, err := sandboxRuntime.CompileModule(ctx, key.Sandbox.Module)
	if err != nil {
		return nil, fmt.Errorf("worker: compiling sandboxed module for %q: %w", key.FamilyTag, err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	cfg := wazero.NewModuleConfig().
		WithName(key.FamilyTag).
		WithStdin(stdinR).
		WithStdout(stdoutW)
	for k, v := range key.Env {
		cfg = cfg.WithEnv(k, v)
	}

	done := make(chan error, 1)
	go func() {
		_, err := sandboxRuntime.InstantiateModule(ctx, mod, cfg)
		_ = stdoutW.Close()
		done <- err
	}()

	return &Worker{
		key:         key,
		codec:       newCodec(key.Protocol, stdinW, stdoutR),
		proc:        nil,
		stdin:       stdinW,
		sandboxDone: done,
	}, nil
}
