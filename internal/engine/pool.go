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
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"frame.dev/engine/key"
)

// Pool is one of the three labeled task queues of spec.md §4.8: REGULAR,
// CPU_HEAVY, or EXECUTION. It is a bounded-concurrency fan-out built on
// errgroup.Group, the same bounded-fan-out idiom the teacher reaches for
// in mod/modconfig and cmd/cue/cmd/custom.go, generalized here into a
// long-lived, repeatedly-submitted-to pool rather than a one-shot batch.
type Pool struct {
	class key.Class

	mu           sync.Mutex
	group        *errgroup.Group
	ctx          context.Context
	rejecting    bool
	firstErr     error
}

func newPool(parent context.Context, class key.Class, parallelism int) *Pool {
	g, ctx := errgroup.WithContext(parent)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	return &Pool{class: class, group: g, ctx: ctx}
}

// Submit schedules fn onto the pool. It returns false without running fn
// if the pool has already seen a task error and is rejecting further
// submissions (spec.md §4.8: "after the first [error], further
// submissions are rejected").
func (p *Pool) Submit(fn func(ctx context.Context) error) bool {
	p.mu.Lock()
	if p.rejecting {
		p.mu.Unlock()
		return false
	}
	ctx := p.ctx
	p.mu.Unlock()

	p.group.Go(func() error {
		err := fn(ctx)
		if err != nil {
			p.mu.Lock()
			if p.firstErr == nil {
				p.firstErr = err
			}
			p.rejecting = true
			p.mu.Unlock()
		}
		return err
	})
	return true
}

// Err returns the first task error marshalled back from this pool, if
// any.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// Shutdown awaits quiescence: every submitted task returns (success or
// error) before Shutdown returns. If interruptCh fires while waiting,
// the interruption is recorded and the wait resumes rather than
// aborting — spec.md §4.8's "ignores and re-enters on interrupts,
// accumulating them into a single reported flag".
func (p *Pool) Shutdown(interruptCh <-chan struct{}) (err error, interrupted bool) {
	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	for {
		select {
		case err = <-done:
			return err, interrupted
		case <-interruptCh:
			interrupted = true
			interruptCh = nil // don't keep matching a closed/fired channel forever
		}
	}
}

// poolSet holds the three pools keyed by class.
type poolSet struct {
	pools [3]*Pool
}

func newPoolSet(ctx context.Context, regular, cpuHeavy, execution int) *poolSet {
	return &poolSet{pools: [3]*Pool{
		key.Regular:   newPool(ctx, key.Regular, regular),
		key.CPUHeavy:  newPool(ctx, key.CPUHeavy, cpuHeavy),
		key.Execution: newPool(ctx, key.Execution, execution),
	}}
}

func (s *poolSet) forClass(class key.Class) *Pool { return s.pools[class] }

// ShutdownAll shuts every pool down in turn, aggregating interruption
// flags and the first error seen across all three.
func (s *poolSet) ShutdownAll(interruptCh <-chan struct{}) (err error, interrupted bool) {
	for _, p := range s.pools {
		e, i := p.Shutdown(interruptCh)
		if err == nil {
			err = e
		}
		interrupted = interrupted || i
	}
	return err, interrupted
}
