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
)

func TestParseArgvSplitsQuotedArguments(t *testing.T) {
	argv, err := parseArgv(`cc -c "-I/usr/include with spaces" -O2`)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(argv, []string{"cc", "-c", "-I/usr/include with spaces", "-O2"}))
}

func TestParseArgvRejectsEmptyCommand(t *testing.T) {
	_, err := parseArgv("")
	qt.Assert(t, qt.IsNotNil(err))
}

func TestParseArgvRejectsWhitespaceOnlyCommand(t *testing.T) {
	_, err := parseArgv("   ")
	qt.Assert(t, qt.IsNotNil(err))
}
