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
	"sync/atomic"

	"frame.dev/engine/internal/errs"
	"frame.dev/engine/key"
	"frame.dev/engine/value"
)

// Options configures one Evaluate call (spec.md §4.4).
type Options struct {
	KeepGoing   bool
	Parallelism Parallelism

	// Semantics is returned verbatim by Environment.Semantics(): an
	// immutable, precomputed configuration blob (spec.md §9's "engine
	// context").
	Semantics interface{}

	// HeapPressure, if set, is polled by EvictScratchpads between
	// scheduling rounds; when it returns a value at or above
	// ScratchpadEvictionThreshold, dormant scratchpads are dropped
	// oldest-first (spec.md §5, §9).
	HeapPressure                func() float64
	ScratchpadEvictionThreshold float64

	// EventSink receives every event flushed by a contributing (or, in
	// keep-going mode, surfaced-error) invocation.
	EventSink *GlobalSink

	// Cancel, if non-nil, is closed to request cooperative
	// cancellation (spec.md §5's CancellationToken).
	Cancel <-chan struct{}
}

// Parallelism sizes the three pools (spec.md §4.4).
type Parallelism struct {
	Regular, CPUHeavy, Execution int
}

// Evaluator is the engine's core (C4). One Evaluator owns one NodeStore
// and one set of registered function families; it can run many
// Evaluate calls ("builds") over its lifetime, each incrementing the
// global version counter.
type Evaluator struct {
	store    *NodeStore
	deps     *depTracker
	keys     *key.Table
	families map[key.Family]*FuncRecord
	famMu    sync.RWMutex

	version    int64 // global change-batch counter (spec.md §3)
	logClock   int64 // logical clock for scratchpad LRU; advances once per State() call
	opts       Options
}

// NewEvaluator creates an Evaluator over a fresh NodeStore and Key table.
func NewEvaluator() *Evaluator {
	store := NewNodeStore()
	return &Evaluator{
		store:    store,
		deps:     newDepTracker(store),
		keys:     key.NewTable(),
		families: map[key.Family]*FuncRecord{},
	}
}

// Keys returns the Key interning table this Evaluator's keys must be
// drawn from.
func (e *Evaluator) Keys() *key.Table { return e.keys }

// Store exposes the NodeStore, mainly for the dirtiness layer and GC.
func (e *Evaluator) Store() *NodeStore { return e.store }

// RegisterFunction installs a function family (register_family).
func (e *Evaluator) RegisterFunction(reg key.Registration, compute ComputeFunc, cycle CycleFunc) key.Family {
	fam := key.RegisterFamily(reg)
	e.famMu.Lock()
	defer e.famMu.Unlock()
	e.families[fam] = &FuncRecord{Registration: reg, Compute: compute, CycleHandler: cycle}
	return fam
}

func (e *Evaluator) recordFor(fam key.Family) *FuncRecord {
	e.famMu.RLock()
	defer e.famMu.RUnlock()
	return e.families[fam]
}

func (e *Evaluator) clock() int64 { return atomic.AddInt64(&e.logClock, 1) }

// BumpVersion advances the global change-batch counter; Evaluate calls
// this once at the start of every build (spec.md §3).
func (e *Evaluator) BumpVersion() int64 { return atomic.AddInt64(&e.version, 1) }

// EvaluationResult is returned by Evaluate (spec.md §4.4).
type EvaluationResult struct {
	Values map[key.Key]value.Value
	Errors map[key.Key]errs.Error
	Graph  *NodeStore // the "walkable graph" handle
}

// invocation tracks the bookkeeping for one running or suspended
// function call: the deps it has requested so far this round, and which
// of them are still outstanding.
type invocation struct {
	mu      sync.Mutex
	missing []key.Key
}

func (inv *invocation) addMissing(k key.Key) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.missing = append(inv.missing, k)
}

// build is the per-Evaluate-call coordinator.
type build struct {
	e     *Evaluator
	opts  Options
	ctx   context.Context
	pools *poolSet

	activeTasks int64 // atomic count of in-flight compute invocations
	quiescent   chan struct{}

	mu       sync.Mutex
	aborted  bool
	firstErr errs.Error
	rootSet  map[key.Key]struct{}
	rootWG   sync.WaitGroup
	rootOnce map[key.Key]*sync.Once
}

// Evaluate drives evaluation of roots to completion (spec.md §4.4).
func (e *Evaluator) Evaluate(ctx context.Context, roots []key.Key, opts Options) (*EvaluationResult, error) {
	if opts.EventSink == nil {
		opts.EventSink = NewGlobalSink()
	}
	e.opts = opts
	e.BumpVersion()

	pools := newPoolSet(ctx, opts.Parallelism.Regular, opts.Parallelism.CPUHeavy, opts.Parallelism.Execution)

	b := &build{
		e:        e,
		opts:     opts,
		ctx:      ctx,
		pools:    pools,
		rootSet:  map[key.Key]struct{}{},
		rootOnce: map[key.Key]*sync.Once{},
	}
	for _, r := range roots {
		b.rootSet[r] = struct{}{}
		b.rootOnce[r] = &sync.Once{}
	}
	b.rootWG.Add(len(roots))

	for _, r := range roots {
		n := e.store.GetOrCreate(r)
		b.ensureScheduled(n)
	}

	// Wait for all roots to finish, periodically checking for cycles
	// once no task is in flight but work remains (spec.md §4.4).
	done := make(chan struct{})
	go func() { b.rootWG.Wait(); close(done) }()

	cancel := opts.Cancel
waitLoop:
	for {
		select {
		case <-done:
			break waitLoop
		case <-cancel:
			b.abort(errs.New(errs.KindInterrupted, "evaluation cancelled"))
			cancel = nil
		case <-b.quiescenceSignal():
			e.EvictScratchpads()
			b.maybeDetectCycles()
			select {
			case <-done:
				break waitLoop
			default:
			}
		}
	}

	poolErr, interrupted := pools.ShutdownAll(opts.Cancel)
	_ = interrupted

	result := &EvaluationResult{
		Values: map[key.Key]value.Value{},
		Errors: map[key.Key]errs.Error{},
		Graph:  e.store,
	}
	for r := range b.rootSet {
		if n, ok := e.store.Get(r); ok {
			snap := n.Snapshot()
			if snap.err != nil {
				result.Errors[r] = snap.err
			} else {
				result.Values[r] = snap.value
			}
		}
	}

	if poolErr != nil && b.firstErr == nil {
		return result, poolErr
	}
	if b.firstErr != nil {
		return result, b.firstErr
	}
	// Under keep-going a root's Function error does not abort the build;
	// the failed roots' errors are returned together as one List.
	var rootErrs errs.List
	for _, r := range roots {
		rootErrs = errs.Append(rootErrs, result.Errors[r])
	}
	if len(rootErrs) > 0 {
		return result, rootErrs
	}
	return result, nil
}

// quiescenceSignal returns a channel that fires whenever activeTasks
// reaches zero. It is recomputed on every call since the previous
// signal is one-shot.
func (b *build) quiescenceSignal() <-chan struct{} {
	ch := make(chan struct{}, 1)
	if atomic.LoadInt64(&b.activeTasks) == 0 {
		ch <- struct{}{}
	}
	b.mu.Lock()
	b.quiescent = ch
	b.mu.Unlock()
	return ch
}

func (b *build) taskStarted() { atomic.AddInt64(&b.activeTasks, 1) }

func (b *build) taskFinished() {
	if atomic.AddInt64(&b.activeTasks, -1) == 0 {
		b.mu.Lock()
		if b.quiescent != nil {
			select {
			case b.quiescent <- struct{}{}:
			default:
			}
		}
		b.mu.Unlock()
	}
}

func (b *build) abort(err errs.Error) {
	b.mu.Lock()
	if !b.aborted {
		b.aborted = true
		b.firstErr = err
	}
	b.mu.Unlock()
}

func (b *build) isAborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted && !b.opts.KeepGoing
}

// signalRoot marks a root as finished (DONE, aborted, or otherwise
// terminal) for this build, exactly once.
func (b *build) signalRoot(k key.Key) {
	b.mu.Lock()
	once, ok := b.rootOnce[k]
	b.mu.Unlock()
	if ok {
		once.Do(b.rootWG.Done)
	}
}

// ensureScheduled puts n on a pool if it is not already running or
// queued, dispatching on the node's current state.
func (b *build) ensureScheduled(n *Node) {
	n.mu.Lock()
	switch n.state {
	case StateDone:
		if !n.transient {
			n.mu.Unlock()
			b.signalRoot(n.key)
			return
		}
		// Transient error: treat as if never computed this build.
		n.state = StateNew
		n.err = nil
		n.transient = false
	case StateEnqueued, StateEvaluating, StateCheckDeps:
		n.mu.Unlock()
		return
	case StateDirty:
		if n.waitingOn != nil {
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
		b.checkDeps(n)
		return
	}
	n.state = StateEnqueued
	n.restartDeps = depKeysLocked(n)
	n.mu.Unlock()

	b.taskStarted()
	fam := n.key.Family()
	rec := b.e.recordFor(fam)
	pool := b.pools.forClass(rec.Registration.Class)
	ok := pool.Submit(func(ctx context.Context) error {
		defer b.taskFinished()
		b.runTask(ctx, n, rec)
		return nil
	})
	if !ok {
		b.taskFinished()
	}
}

func depKeysLocked(n *Node) []key.Key {
	out := make([]key.Key, len(n.deps))
	for i, d := range n.deps {
		out[i] = d.key
	}
	return out
}

// hasFailedDep reports whether any of n's declared deps is DONE with a
// non-nil error. This is how runTask distinguishes a node that
// signalRdeps woke as part of an error's re-ascent toward the roots
// (spec.md §4.4) from one that would merely start brand new work once
// the build has already aborted.
func (b *build) hasFailedDep(n *Node) bool {
	n.mu.Lock()
	deps := append([]depEdge(nil), n.deps...)
	n.mu.Unlock()
	for _, d := range deps {
		dn, ok := b.e.store.Get(d.key)
		if !ok {
			continue
		}
		snap := dn.Snapshot()
		if snap.state == StateDone && snap.err != nil {
			return true
		}
	}
	return false
}

// runTask invokes a family's compute function for n once, applying the
// restart/suspend/contract/pruning rules of spec.md §4.4.
func (b *build) runTask(ctx context.Context, n *Node, rec *FuncRecord) {
	if b.isAborted() && !b.hasFailedDep(n) {
		// Nothing queued this node toward a known failure: under
		// nokeep_going, stop launching fresh work, but leave it
		// schedulable again if one of its deps later finishes with an
		// error and signalRdeps wakes it (spec.md §4.4 re-ascent).
		n.mu.Lock()
		n.state = StateEnqueued
		n.mu.Unlock()
		b.signalRoot(n.key)
		return
	}

	n.mu.Lock()
	n.state = StateEvaluating
	n.mu.Unlock()

	taskCtx := ctx
	if rec.Registration.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, rec.Registration.Timeout)
		defer cancel()
	}

	inv := &invocation{}
	sink := newEventSink()
	env := &funcEnv{eval: b.e, node: n, ctx: taskCtx, sink: sink, b: b, inv: inv}

	outcome := rec.Compute(env, n.key)

	if rec.Registration.Timeout > 0 && taskCtx.Err() == context.DeadlineExceeded {
		outcome = Outcome{Done: true, Err: errs.New(errs.KindTimeout,
			"function for %v exceeded its %s timeout", n.key, rec.Registration.Timeout)}
	}

	n.mu.Lock()
	// Dep-order stability (spec.md §8 property 2): the deps recorded
	// before this invocation must remain an unchanged prefix.
	for i, k := range n.restartDeps {
		if i >= len(n.deps) || n.deps[i].key != k {
			n.mu.Unlock()
			b.failContract(n, "dep order changed across restart for %v", n.key)
			return
		}
	}
	n.mu.Unlock()

	if !outcome.Done {
		inv.mu.Lock()
		missing := append([]key.Key(nil), inv.missing...)
		inv.mu.Unlock()
		if len(missing) == 0 {
			b.failContract(n, "function for %v suspended without any missing dependency", n.key)
			return
		}
		n.mu.Lock()
		n.waitingOn = map[key.Key]struct{}{}
		for _, m := range missing {
			n.waitingOn[m] = struct{}{}
		}
		n.state = StateEnqueued
		n.mu.Unlock()
		// A dep that finished before waitingOn was set has already sent
		// its signal; send it again so n is not left waiting forever.
		for _, m := range missing {
			if dn, ok := b.e.store.Get(m); ok && dn.Snapshot().state == StateDone {
				signalRdeps(b, dn)
			}
		}
		return
	}

	if outcome.Err == nil {
		inv.mu.Lock()
		hadMissing := len(inv.missing) > 0
		inv.mu.Unlock()
		if hadMissing {
			b.failContract(n, "function for %v produced a Value after a Missing dependency", n.key)
			return
		}
	}

	b.finish(n, rec, outcome, sink)
}

func (b *build) failContract(n *Node, format string, args ...interface{}) {
	cerr := errs.New(errs.KindContract, format, args...)
	n.mu.Lock()
	n.state = StateDone
	n.err = cerr
	n.value = nil
	n.mu.Unlock()
	b.abort(cerr)
	signalRdeps(b, n)
	b.signalRoot(n.key)
}

// finish applies value-equality pruning and transitions n to DONE,
// signalling rdeps and flushing events. sink may be nil (cycle
// resolution synthesizes an Outcome with no associated invocation).
func (b *build) finish(n *Node, rec *FuncRecord, outcome Outcome, sink *EventSink) {
	n.mu.Lock()
	prevValue := n.value
	prevErr := n.err
	n.state = StateDone
	n.runVersion++
	n.transient = false

	if outcome.Err != nil {
		n.err = outcome.Err
		n.value = nil
		if rec != nil && rec.Registration.ErrorPolicy == key.Transient && outcome.Err.ErrKind() == errs.KindFunction {
			n.transient = true
		}
		n.mu.Unlock()
		if outcome.Err.ErrKind() != errs.KindFunction || !b.opts.KeepGoing {
			b.abort(outcome.Err)
		}
	} else {
		n.err = nil
		n.value = outcome.Value
		if prevErr == nil && value.Equal(prevValue, outcome.Value) {
			// Value-equality pruning: the node ran, but its output did
			// not change, so its last-changed version is untouched.
		} else {
			n.version = b.e.version
		}
		n.mu.Unlock()
	}

	b.snapshotDepValues(n)

	if sink != nil {
		b.opts.EventSink.flush(sink.drain())
	}

	signalRdeps(b, n)
	b.signalRoot(n.key)
}

// snapshotDepValues records, on each of n's declared dep edges, the
// Value/Error its dependency held at the moment n finished computing.
// This is the comparison basis checkDeps uses the next time n goes
// DIRTY (spec.md §3).
func (b *build) snapshotDepValues(n *Node) {
	n.mu.Lock()
	deps := append([]depEdge(nil), n.deps...)
	n.mu.Unlock()

	for i := range deps {
		if dn, ok := b.e.store.Get(deps[i].key); ok {
			snap := dn.Snapshot()
			deps[i].valueAtLast = snap.value
			deps[i].errAtLast = snap.err
		}
	}

	n.mu.Lock()
	if len(n.deps) == len(deps) {
		copy(n.deps, deps)
	}
	n.mu.Unlock()
}

// signalRdeps notifies n's reverse-dependencies that n is now DONE,
// decrementing each rdep's waiting set and rescheduling any that reach
// empty (C3 signal()). A reschedule re-enters ensureScheduled, which
// routes a still-DIRTY rdep back into checkDeps rather than a full
// recompute.
func signalRdeps(b *build, n *Node) {
	for _, r := range rdepsOf(n) {
		r.mu.Lock()
		ready := false
		if r.waitingOn != nil {
			delete(r.waitingOn, n.key)
			if len(r.waitingOn) == 0 {
				r.waitingOn = nil
				ready = r.state == StateEnqueued || r.state == StateDirty
				if r.state == StateEnqueued {
					// A suspended invocation: reset it to NEW so that
					// ensureScheduled submits it again.
					r.state = StateNew
				}
			}
		}
		r.mu.Unlock()
		if ready {
			b.ensureScheduled(r)
		}
	}
}

// checkDeps implements the DIRTY -> CHECK_DEPS -> DONE short-circuit
// (spec.md §3): if every declared dep is DONE with a Value bit-equal to
// the Value this node saw the last time it ran, the old Value is
// reused and the function is not re-invoked. Any dep that has not yet
// settled suspends this check the same way a Missing Get would.
func (b *build) checkDeps(n *Node) {
	n.mu.Lock()
	if n.state != StateDirty || n.waitingOn != nil {
		n.mu.Unlock()
		return
	}
	n.state = StateCheckDeps
	deps := append([]depEdge(nil), n.deps...)
	n.mu.Unlock()

	pending := map[key.Key]struct{}{}
	for _, d := range deps {
		dn := b.e.store.GetOrCreate(d.key)
		if dn.Snapshot().state != StateDone {
			pending[d.key] = struct{}{}
		}
	}
	if len(pending) > 0 {
		n.mu.Lock()
		n.state = StateDirty
		n.waitingOn = pending
		n.mu.Unlock()
		for k := range pending {
			if dn, ok := b.e.store.Get(k); ok {
				b.ensureScheduled(dn)
			}
		}
		return
	}

	allEqual := true
	for _, d := range deps {
		dn, ok := b.e.store.Get(d.key)
		if !ok {
			allEqual = false
			break
		}
		snap := dn.Snapshot()
		if snap.err != nil || d.errAtLast != nil || !value.Equal(snap.value, d.valueAtLast) {
			allEqual = false
			break
		}
	}

	if allEqual {
		n.mu.Lock()
		n.state = StateDone
		n.runVersion++
		n.mu.Unlock()
		signalRdeps(b, n)
		b.signalRoot(n.key)
		return
	}

	n.mu.Lock()
	n.state = StateNew
	n.mu.Unlock()
	b.ensureScheduled(n)
}

// dependencyGet implements Environment.Get for a running invocation: it
// records the dependency edge, and either returns the child's current
// result (if DONE) or kicks off the child's evaluation and reports
// Missing (spec.md §4.3, §4.4).
func (b *build) dependencyGet(parent *Node, k key.Key, inv *invocation) GetResult {
	child := b.e.store.GetOrCreate(k)
	b.e.deps.addDep(parent, child)

	child.mu.Lock()
	state := child.state
	childErr := child.err
	childVal := child.value
	transient := child.transient
	child.mu.Unlock()

	if state == StateDone {
		if childErr != nil {
			if transient {
				child.mu.Lock()
				if child.state == StateDone && child.transient {
					child.state = StateNew
					child.err = nil
					child.transient = false
				}
				child.mu.Unlock()
				b.ensureScheduled(child)
				inv.addMissing(k)
				return GetResult{Missing: true}
			}
			return GetResult{Failed: true, Err: childErr}
		}
		return GetResult{Ready: true, Value: childVal}
	}

	b.ensureScheduled(child)
	inv.addMissing(k)
	return GetResult{Missing: true}
}
