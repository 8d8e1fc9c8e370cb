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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"frame.dev/engine/internal/engine"
	"frame.dev/engine/key"
)

func newDumpCmd() *cobra.Command {
	var parallelism engine.Parallelism

	cmd := &cobra.Command{
		Use:   "dump <file>...",
		Short: "evaluate the given files and pretty-print the resulting node graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eval := engine.NewEvaluator()
			registerDemoFamilies(eval, eval.Keys())

			roots := make([]key.Key, len(args))
			for i, path := range args {
				roots[i] = lineCountKey(eval, path)
			}
			if _, err := eval.Evaluate(context.Background(), roots, engine.Options{Parallelism: parallelism}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), engine.Dump(eval.Store()))
			return nil
		},
	}
	addParallelismFlags(cmd.Flags(), &parallelism)
	return cmd
}
