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
	"fmt"

	"github.com/google/shlex"
)

// parseArgv splits a single shell-quoted command string, as used by a
// worker-fleet config's "command" field, into an argv slice.
func parseArgv(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("worker: parsing command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("worker: empty command")
	}
	return argv, nil
}
