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
	"github.com/spf13/pflag"

	"frame.dev/engine/internal/engine"
	"frame.dev/engine/key"
)

// addParallelismFlags is shared by eval, invalidate and dump; each drives a build
// and want the same knob over pool sizing (spec.md §4.8).
func addParallelismFlags(fs *pflag.FlagSet, p *engine.Parallelism) {
	fs.IntVar(&p.Regular, "parallelism-regular", 4, "REGULAR pool size")
	fs.IntVar(&p.CPUHeavy, "parallelism-cpu-heavy", 2, "CPU_HEAVY pool size")
	fs.IntVar(&p.Execution, "parallelism-execution", 4, "EXECUTION pool size")
}

func newEvalCmd() *cobra.Command {
	var parallelism engine.Parallelism
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "eval <file>...",
		Short: "compute the line count of each file via the demo graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eval := engine.NewEvaluator()
			registerDemoFamilies(eval, eval.Keys())

			roots := make([]key.Key, len(args))
			for i, path := range args {
				roots[i] = lineCountKey(eval, path)
			}

			result, err := eval.Evaluate(context.Background(), roots, engine.Options{
				KeepGoing:   keepGoing,
				Parallelism: parallelism,
			})
			printResult(cmd, args, roots, result)
			return err
		},
	}
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue past function errors (spec.md §9)")
	addParallelismFlags(cmd.Flags(), &parallelism)
	return cmd
}

func printResult(cmd *cobra.Command, paths []string, roots []key.Key, result *engine.EvaluationResult) {
	out := cmd.OutOrStdout()
	for i, path := range paths {
		k := roots[i]
		if v, ok := result.Values[k]; ok {
			fmt.Fprintf(out, "%s: %v lines\n", path, v)
			continue
		}
		if e, ok := result.Errors[k]; ok {
			fmt.Fprintf(out, "%s: error: %v\n", path, e)
			continue
		}
		fmt.Fprintf(out, "%s: no result\n", path)
	}
}
