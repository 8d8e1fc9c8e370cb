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

// Command frame is a thin demonstration harness around the engine: it is
// not the "host application" spec.md places out of scope, only enough of
// a CLI to drive an evaluation from the shell for manual testing.
package main

import (
	"os"

	"frame.dev/engine/cmd/frame/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
