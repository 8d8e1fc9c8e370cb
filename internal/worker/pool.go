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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/rogpeppe/go-internal/lockedfile"

	"frame.dev/engine/key"
)

// digestName turns an ident (which may contain control-byte separators
// unsuitable for a filename) into a stable, filename-safe name.
func digestName(ident string) string {
	return digest.FromString(ident).Encoded()
}

// idleEntry is one idle Worker sitting in a key's LRU list; the back is
// the most recently released.
type idleEntry struct {
	w      *Worker
	unlock func()
}

// Pool manages pooled Workers keyed by Key, with LRU eviction of idle
// workers per key (spec.md §4.7). When LockDir is set, each key's
// worker additionally holds an exclusive rogpeppe/go-internal/lockedfile
// lock on a per-key file under that directory, from spawn until the
// worker is closed (idle time included) — grounded on mod/modcache/cache.go's lockVersion, which
// guards exclusive access to a shared on-disk resource (here, a worker's
// working directory) the same way across process boundaries, not just
// goroutines within one process.
type Pool struct {
	LockDir       string
	MaxIdlePerKey int

	mu   sync.Mutex
	idle map[string][]idleEntry
}

// NewPool creates an empty Pool. MaxIdlePerKey defaults to 1 if left 0.
func NewPool() *Pool {
	return &Pool{idle: map[string][]idleEntry{}}
}

func (p *Pool) maxIdle() int {
	if p.MaxIdlePerKey <= 0 {
		return 1
	}
	return p.MaxIdlePerKey
}

// Acquire returns a Worker for key, reusing an idle one if available or
// spawning a new one. It rejects any Execution-class Multiplex key, per
// spec.md §4.7's rule that dynamic-execution work must never share a
// multiplexed worker.
func (p *Pool) Acquire(ctx context.Context, k Key) (*Worker, error) {
	if k.Class == key.Execution && k.Multiplex {
		return nil, fmt.Errorf("worker: execution-class requests must not use a multiplex key (%s)", k.FamilyTag)
	}

	ident := k.ident()
	p.mu.Lock()
	if list := p.idle[ident]; len(list) > 0 {
		entry := list[len(list)-1]
		p.idle[ident] = list[:len(list)-1]
		p.mu.Unlock()
		entry.w.checkedOutUnlock = entry.unlock
		return entry.w, nil
	}
	p.mu.Unlock()

	var unlock func()
	if p.LockDir != "" {
		path, err := p.lockPath(ident)
		if err != nil {
			return nil, err
		}
		u, err := lockedfile.MutexAt(path).Lock()
		if err != nil {
			return nil, fmt.Errorf("worker: locking %s: %w", path, err)
		}
		unlock = u
	}

	w, err := spawn(ctx, k)
	if err != nil {
		if unlock != nil {
			unlock()
		}
		return nil, err
	}
	w.checkedOutUnlock = unlock
	return w, nil
}

// Release returns w to the pool if ok is true; otherwise it evicts and
// closes w. A worker released healthy beyond MaxIdlePerKey's capacity
// evicts the least-recently-released idle worker for that key to make
// room (spec.md §4.7's LRU eviction).
func (p *Pool) Release(k Key, w *Worker, ok bool) error {
	ident := k.ident()
	if !ok {
		unlock := w.checkedOutUnlock
		w.checkedOutUnlock = nil
		err := w.close()
		if unlock != nil {
			unlock()
		}
		return err
	}

	var evicted *idleEntry
	p.mu.Lock()
	list := p.idle[ident]
	list = append(list, idleEntry{w: w, unlock: w.checkedOutUnlock})
	w.checkedOutUnlock = nil
	if max := p.maxIdle(); len(list) > max {
		victim := list[0]
		list = list[1:]
		evicted = &victim
	}
	p.idle[ident] = list
	p.mu.Unlock()

	if evicted == nil {
		return nil
	}
	err := evicted.w.close()
	if evicted.unlock != nil {
		evicted.unlock()
	}
	return err
}

// Execute runs req on w, generating a request ID via google/uuid if the
// caller left one unset. If ctx is done before the worker replies, the
// interrupt is handled according to w.key.CancellationCapable (spec.md
// §4.7, scenario S6): a capable worker gets a best-effort `cancel`
// control frame and is left usable for its next request; a worker that
// does not declare cancellation support is destroyed instead, since
// there is no protocol guarantee it will ever abandon the request it is
// already acting on.
func (p *Pool) Execute(ctx context.Context, w *Worker, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := w.execute(req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		if !w.key.CancellationCapable {
			_ = w.close()
			<-done // execute's goroutine unblocks once close tears down stdio
			return Response{}, ctx.Err()
		}
		_ = w.cancel(req.ID)
		r := <-done
		if r.err == nil {
			r.resp.WasCancelled = true
		}
		return r.resp, ctx.Err()
	}
}

// CloseAll closes every idle worker, releasing their locks. Checked-out
// workers are the caller's responsibility to Release first.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = map[string][]idleEntry{}
	p.mu.Unlock()

	var firstErr error
	for _, list := range idle {
		for _, e := range list {
			if err := e.w.close(); err != nil && firstErr == nil {
				firstErr = err
			}
			if e.unlock != nil {
				e.unlock()
			}
		}
	}
	return firstErr
}

func (p *Pool) lockPath(ident string) (string, error) {
	if err := os.MkdirAll(p.LockDir, 0o777); err != nil {
		return "", fmt.Errorf("worker: creating lock dir %s: %w", p.LockDir, err)
	}
	return filepath.Join(p.LockDir, digestName(ident)+".lock"), nil
}
