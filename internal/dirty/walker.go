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
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"frame.dev/engine/internal/engine"
	"frame.dev/engine/key"
)

// Change is one reported filesystem change (the diff source input of
// spec.md §4.5).
type Change struct {
	Path string
	// Exhaustive marks that this report is a complete listing of
	// Path's parent directory's children: only then can a child's
	// absence from the report be read as "deleted" instead of merely
	// "unknown."
	Exhaustive bool
}

// DiffSource reports a (possibly incomplete, over-approximating) batch
// of changed filesystem keys before a build.
type DiffSource interface {
	Changes() []Change
}

// StatFunc stats a path, returning its current FilesystemState.
type StatFunc func(path string) (FilesystemState, error)

// DirectoryListing is implemented by a Value produced for a directory
// key that wants ancestor inference support: it reports the child
// basenames and types the listing function last observed, letting the
// walker tell a changed entry's type from what the parent's listing
// currently records.
type DirectoryListing interface {
	Entries() map[string]FileType
}

// dirState is the per-directory accumulator of spec.md §4.5's core
// algorithm.
type dirState struct {
	mu                   sync.Mutex
	maybeDeletedChildren map[string]struct{}
	exhaustive           bool
	inferredDirectory    bool
	remaining            int
}

// Walker runs ancestor inference over a batch of reported changes,
// marking engine Nodes DIRTY (spec.md §4.5). One Walker is bound to one
// key family (the family whose keys are filesystem paths) and one
// Evaluator's key table.
type Walker struct {
	Family      key.Family
	Classifier  FileClassifier
	Stat        StatFunc
	Parallelism int
}

// Invalidate processes one batch of changes against eval, marking
// Nodes DIRTY per the numbered rules of spec.md §4.5. Leaf-most changed
// entries are processed concurrently on a fixed-size pool; each climbs
// to its parent once every sibling under that parent (within this
// batch) has been processed.
func (w *Walker) Invalidate(ctx context.Context, eval *engine.Evaluator, changes []Change) error {
	affected := map[string]*dirState{}
	register := func(p string) *dirState {
		d, ok := affected[p]
		if !ok {
			d = &dirState{maybeDeletedChildren: map[string]struct{}{}, exhaustive: true}
			affected[p] = d
		}
		return d
	}

	// remaining counts each distinct child once, however many changes
	// pass through it, so that every ancestor's countdown reaches zero.
	counted := map[string]bool{}
	for _, c := range changes {
		child, parent := c.Path, parentOf(c.Path)
		for parent != "" {
			d := register(parent)
			if !counted[child] {
				counted[child] = true
				d.remaining++
			}
			if c.Exhaustive {
				d.maybeDeletedChildren[baseOf(child)] = struct{}{}
			} else {
				d.exhaustive = false
			}
			child, parent = parent, parentOf(parent)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	parallelism := w.Parallelism
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for _, c := range changes {
		c := c
		g.Go(func() error { return w.climb(gctx, eval, affected, c.Path) })
	}
	return g.Wait()
}

// climb visits p, then repeatedly ascends to the parent directory
// whenever this call was the one to bring that parent's remaining
// counter to zero, stopping at the workspace root or the first
// ancestor some sibling is still pending on.
func (w *Walker) climb(ctx context.Context, eval *engine.Evaluator, affected map[string]*dirState, p string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.visitOne(eval, affected, p); err != nil {
			return err
		}
		parent := parentOf(p)
		if parent == "" {
			return nil
		}
		d := affected[parent]
		if d == nil {
			return nil
		}
		d.mu.Lock()
		d.remaining--
		ready := d.remaining == 0
		d.mu.Unlock()
		if !ready {
			return nil
		}
		p = parent
	}
}

// visitOne applies the three numbered rules of spec.md §4.5 to a
// single changed (or ancestor) entry.
func (w *Walker) visitOne(eval *engine.Evaluator, affected map[string]*dirState, p string) error {
	k := KeyFor(eval.Keys(), w.Family, p)
	n, exists := eval.Store().Get(k)
	class := w.Classifier(p)

	if !exists {
		st, err := w.Stat(p)
		if err != nil {
			return err
		}
		n = eval.Store().GetOrCreate(k)
		n.Seed(st)
		w.invalidateParentListing(eval, affected, p, true)
		return nil
	}

	snap := n.Snapshot()
	d := affected[p]
	_, hasListing := snap.Value().(DirectoryListing)
	looksLikeDirectory := hasListing || (d != nil && d.inferredDirectory)

	if looksLikeDirectory {
		if class.Cacheable() {
			n.MarkDirty(snap.Value(), true)
		} else {
			n.MarkDirty(nil, false)
		}
		if parent := affected[parentOf(p)]; parent != nil {
			parent.mu.Lock()
			parent.inferredDirectory = true
			parent.mu.Unlock()
		}
		return nil
	}

	st, err := w.Stat(p)
	if err != nil {
		return err
	}
	typeChanged := true
	if prev, ok := snap.Value().(FilesystemState); ok {
		typeChanged = prev.Type != st.Type
	}
	if class.Cacheable() {
		n.MarkDirty(st, true)
	} else {
		n.MarkDirty(nil, false)
	}
	w.invalidateParentListing(eval, affected, p, typeChanged)
	return nil
}

// invalidateParentListing marks p's parent directory-listing Node
// dirty (no replacement Value: the listing function must re-run), only
// when required and only for classes that participate in ancestor
// inference.
func (w *Walker) invalidateParentListing(eval *engine.Evaluator, affected map[string]*dirState, p string, required bool) {
	if !required || w.Classifier(p).excludedFromAncestorInference() {
		return
	}
	parentPath := parentOf(p)
	if parentPath == "" {
		return
	}
	pk := KeyFor(eval.Keys(), w.Family, parentPath)
	if pn, ok := eval.Store().Get(pk); ok {
		pn.MarkDirty(nil, false)
	}
}
