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

// Package cli wires a minimal, two-family demo graph (a file's stat
// record, and the line count derived from it) onto the engine, so the
// frame binary has something concrete to evaluate from the shell.
package cli

import (
	"bufio"
	"io"
	"os"

	"github.com/opencontainers/go-digest"

	"frame.dev/engine/internal/dirty"
	"frame.dev/engine/internal/engine"
	"frame.dev/engine/internal/errs"
	"frame.dev/engine/key"
)

var (
	fileFamily      = key.RegisterFamily(key.Registration{Tag: "demo.file_state", Class: key.Regular, ErrorPolicy: key.Persistent})
	lineCountFamily = key.RegisterFamily(key.Registration{Tag: "demo.line_count", Class: key.CPUHeavy, ErrorPolicy: key.Persistent})
)

// statPath is the single stat implementation both the file_state family's
// ComputeFunc and the dirtiness walker's StatFunc call, so an on-demand
// first evaluation and a later invalidation pass agree on what a path's
// FilesystemState looks like (spec.md §4.5, §6).
func statPath(path string) (dirty.FilesystemState, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return dirty.FilesystemState{Type: dirty.TypeNonexistent}, nil
		}
		return dirty.FilesystemState{}, err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return dirty.FilesystemState{}, err
		}
		return dirty.FilesystemState{Type: dirty.TypeSymlink, Target: target, Mtime: info.ModTime()}, nil
	case info.IsDir():
		return dirty.FilesystemState{Type: dirty.TypeDirectory, Mtime: info.ModTime()}, nil
	case info.Mode().IsRegular():
		dgst, err := digestFile(path)
		if err != nil {
			return dirty.FilesystemState{}, err
		}
		return dirty.FilesystemState{Type: dirty.TypeRegular, Digest: dgst, Size: info.Size(), Mtime: info.ModTime()}, nil
	default:
		return dirty.FilesystemState{Type: dirty.TypeSpecial, Mtime: info.ModTime()}, nil
	}
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d := digest.Canonical.Digester()
	if _, err := io.Copy(d.Hash(), f); err != nil {
		return "", err
	}
	return d.Digest(), nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// pathOf strips a key's "family:" prefix back off its String() form. The
// demo has no reason to carry the path any other way: dirty.Path's own
// String() is the path verbatim, and key.Key exposes no payload accessor
// beyond the combined string (spec.md leaves key internals opaque to
// functions by design).
func pathOf(fam key.Family, k key.Key) string {
	return k.String()[len(fam.String())+1:]
}

// registerDemoFamilies installs the two demo families on eval, using
// keys to build the file_state key a line_count invocation depends on.
// Safe to call once per Evaluator; family registration itself is
// idempotent process-wide (key.RegisterFamily).
func registerDemoFamilies(eval *engine.Evaluator, keys *key.Table) {
	eval.RegisterFunction(key.Registration{Tag: fileFamily.String(), Class: key.Regular, ErrorPolicy: key.Persistent},
		func(env engine.Environment, k key.Key) engine.Outcome {
			st, err := statPath(pathOf(fileFamily, k))
			if err != nil {
				return engine.Outcome{Done: true, Err: contractErrorFor(err)}
			}
			return engine.Outcome{Done: true, Value: st}
		}, nil)

	eval.RegisterFunction(key.Registration{Tag: lineCountFamily.String(), Class: key.CPUHeavy, ErrorPolicy: key.Persistent},
		func(env engine.Environment, k key.Key) engine.Outcome {
			path := pathOf(lineCountFamily, k)
			stateKey := dirty.KeyFor(keys, fileFamily, path)
			r := env.Get(stateKey)
			if r.Missing {
				return engine.Outcome{}
			}
			if r.Failed {
				return engine.Outcome{Done: true, Err: r.Err}
			}
			st := r.Value.(dirty.FilesystemState)
			if st.Type != dirty.TypeRegular {
				return engine.Outcome{Done: true, Value: 0}
			}
			n, err := countLines(path)
			if err != nil {
				return engine.Outcome{Done: true, Err: contractErrorFor(err)}
			}
			return engine.Outcome{Done: true, Value: n}
		}, nil)
}

// classifier treats every demo path as internal source, the simplest
// cacheable class (spec.md §4.5).
func classifier(string) dirty.Class { return dirty.ClassInternal }

func newWalker(parallelism int) *dirty.Walker {
	return &dirty.Walker{
		Family:      fileFamily,
		Classifier:  classifier,
		Stat:        statPath,
		Parallelism: parallelism,
	}
}

func lineCountKey(eval *engine.Evaluator, path string) key.Key {
	return eval.Keys().Of(lineCountFamily, dirty.Path(path))
}

// contractErrorFor wraps a plain Go error (a stat/open failure) as a
// KindFunction Error, the kind a family's own declared errors use
// (spec.md §7) rather than the engine's own KindContract.
func contractErrorFor(err error) errs.Error {
	return errs.Wrap(errs.KindFunction, err, "demo: %v", err)
}
