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

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the frame command tree, grounded on cmd/cue/cmd's
// cobra.Command wiring (one constructor per subcommand, flags declared
// next to the command that reads them).
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "frame",
		Short:         "drive the frame evaluation engine from the shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newEvalCmd())
	root.AddCommand(newInvalidateCmd())
	root.AddCommand(newDumpCmd())
	return root
}

// Main runs the frame CLI and returns the process exit code, grounded
// on cmd/cue/cmd's own Main — the indirection lets script_test.go
// register this entrypoint with testscript.RunMain so testdata/script
// scripts can `exec frame ...` in-process.
func Main() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
