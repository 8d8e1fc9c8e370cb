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

package dirty

import (
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/opencontainers/go-digest"

	"frame.dev/engine/key"
)

func TestFilesystemStateValueEqualIgnoresWrongType(t *testing.T) {
	s := FilesystemState{Type: TypeRegular, Size: 3}
	qt.Assert(t, qt.IsFalse(s.ValueEqual("not a FilesystemState")))
}

func TestFilesystemStateValueEqualComparesFields(t *testing.T) {
	mtime := time.Now()
	a := FilesystemState{Type: TypeRegular, Digest: digest.FromString("x"), Size: 3, Mtime: mtime}
	b := a
	qt.Assert(t, qt.IsTrue(a.ValueEqual(b)))

	b.Size = 4
	qt.Assert(t, qt.IsFalse(a.ValueEqual(b)))
}

func TestClassCacheable(t *testing.T) {
	qt.Assert(t, qt.IsTrue(ClassInternal.Cacheable()))
	qt.Assert(t, qt.IsTrue(ClassExternal.Cacheable()))
	qt.Assert(t, qt.IsTrue(ClassBundled.Cacheable()))
	qt.Assert(t, qt.IsFalse(ClassExternalRepo.Cacheable()))
	qt.Assert(t, qt.IsFalse(ClassOutput.Cacheable()))
}

func TestClassExcludedFromAncestorInference(t *testing.T) {
	qt.Assert(t, qt.IsTrue(ClassOutput.excludedFromAncestorInference()))
	qt.Assert(t, qt.IsTrue(ClassExternalRepo.excludedFromAncestorInference()))
	qt.Assert(t, qt.IsFalse(ClassInternal.excludedFromAncestorInference()))
}

func TestParentOfAndBaseOf(t *testing.T) {
	qt.Assert(t, qt.Equals(parentOf("a/b/c.txt"), "a/b"))
	qt.Assert(t, qt.Equals(parentOf("root.txt"), ""))
	qt.Assert(t, qt.Equals(baseOf("a/b/c.txt"), "c.txt"))
}

func TestKeyForInternsUnderFamily(t *testing.T) {
	fam := key.RegisterFamily(key.Registration{Tag: "dirty_test.path", Class: key.Regular, ErrorPolicy: key.Persistent})
	tbl := key.NewTable()
	k1 := KeyFor(tbl, fam, "a/b.txt")
	k2 := KeyFor(tbl, fam, "a/b.txt")
	qt.Assert(t, qt.Equals(k1, k2))
}
