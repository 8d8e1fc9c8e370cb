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
	"github.com/kr/pretty"
)

// nodeDump is the shape Dump renders: a flattened, pretty-printable view
// of one Node, since kr/pretty would otherwise walk into the sync.Mutex
// and unexported fields in a way that is not useful for debugging.
type nodeDump struct {
	Key     string
	State   string
	Value   interface{}
	Err     error
	Deps    []string
	Version int64
}

// Dump renders every Node currently in store as a human-readable tree,
// grounded on the teacher's kr/pretty usage for debug logging (internal
// diagnostic dumps across the cue evaluator). Intended for test failures
// and interactive debugging, never for production logging.
func Dump(store *NodeStore) string {
	var dumps []nodeDump
	for _, n := range store.All() {
		snap := n.Snapshot()
		deps := make([]string, len(snap.deps))
		for i, d := range snap.deps {
			deps[i] = d.String()
		}
		dumps = append(dumps, nodeDump{
			Key:     n.Key().String(),
			State:   snap.state.String(),
			Value:   snap.value,
			Err:     snap.err,
			Deps:    deps,
			Version: snap.version,
		})
	}
	return pretty.Sprint(dumps)
}
