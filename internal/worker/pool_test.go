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
	"io"
	"sync"
	"testing"

	"github.com/go-quicktest/qt"

	"frame.dev/engine/key"
)

// recordingCodec is a codec test double: WriteRequest records every
// frame sent (and announces it on wrote, so a test can sequence against
// it) and ReadResponse blocks until fed a canned reply/error, or until
// closed fires — the stand-in for a real subprocess's stdout going EOF
// once its stdin is closed.
type recordingCodec struct {
	mu       sync.Mutex
	requests []Request
	wrote    chan Request
	readResp chan Response
	readErr  chan error
	closed   chan struct{}
}

func newRecordingCodec(closed chan struct{}) *recordingCodec {
	return &recordingCodec{
		wrote:    make(chan Request, 8),
		readResp: make(chan Response, 1),
		readErr:  make(chan error, 1),
		closed:   closed,
	}
}

func (c *recordingCodec) WriteRequest(req Request) error {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	c.wrote <- req
	return nil
}

func (c *recordingCodec) ReadResponse() (Response, error) {
	select {
	case r := <-c.readResp:
		return r, nil
	case err := <-c.readErr:
		return Response{}, err
	case <-c.closed:
		return Response{}, io.ErrClosedPipe
	}
}

func (c *recordingCodec) written() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

// signalingCloser stands in for a Worker's stdin pipe: closing it fires
// a shared channel a recordingCodec's ReadResponse is watching, the same
// way closing a real subprocess's stdin eventually surfaces as EOF on
// its stdout.
type signalingCloser struct{ ch chan struct{} }

func (s *signalingCloser) Write(p []byte) (int, error) { return len(p), nil }

func (s *signalingCloser) Close() error {
	select {
	case <-s.ch:
	default:
		close(s.ch)
	}
	return nil
}

func TestAcquireRejectsExecutionMultiplex(t *testing.T) {
	p := NewPool()
	_, err := p.Acquire(context.Background(), Key{FamilyTag: "x", Class: key.Execution, Multiplex: true})
	qt.Assert(t, qt.IsNotNil(err))
}

func TestReleaseThenAcquireReusesIdleWorker(t *testing.T) {
	p := NewPool()
	k := Key{FamilyTag: "echo", Argv: []string{"echo"}}
	w := &Worker{key: k}

	qt.Assert(t, qt.IsNil(p.Release(k, w, true)))

	got, err := p.Acquire(context.Background(), k)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, w))
}

func TestReleaseUnhealthyClosesInsteadOfPooling(t *testing.T) {
	p := NewPool()
	k := Key{FamilyTag: "echo", Argv: []string{"echo"}}
	w := &Worker{key: k}

	qt.Assert(t, qt.IsNil(p.Release(k, w, false)))
	qt.Assert(t, qt.IsTrue(w.closed))

	qt.Assert(t, qt.HasLen(p.idle[k.ident()], 0))
}

func TestReleaseBeyondMaxIdleEvictsOldest(t *testing.T) {
	p := NewPool()
	p.MaxIdlePerKey = 1
	k := Key{FamilyTag: "echo", Argv: []string{"echo"}}
	w1 := &Worker{key: k}
	w2 := &Worker{key: k}

	qt.Assert(t, qt.IsNil(p.Release(k, w1, true)))
	qt.Assert(t, qt.IsNil(p.Release(k, w2, true)))

	// w1 was released first, so it is the least-recently-released and
	// gets evicted to keep the idle list at MaxIdlePerKey.
	qt.Assert(t, qt.IsTrue(w1.closed))
	qt.Assert(t, qt.IsFalse(w2.closed))
	qt.Assert(t, qt.HasLen(p.idle[k.ident()], 1))

	got, err := p.Acquire(context.Background(), k)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, w2))
}

func TestCloseAllClosesEveryIdleWorker(t *testing.T) {
	p := NewPool()
	k1 := Key{FamilyTag: "a", Argv: []string{"a"}}
	k2 := Key{FamilyTag: "b", Argv: []string{"b"}}
	w1 := &Worker{key: k1}
	w2 := &Worker{key: k2}
	p.Release(k1, w1, true)
	p.Release(k2, w2, true)

	qt.Assert(t, qt.IsNil(p.CloseAll()))
	qt.Assert(t, qt.IsTrue(w1.closed))
	qt.Assert(t, qt.IsTrue(w2.closed))
	qt.Assert(t, qt.HasLen(p.idle, 0))
}

func TestAcquireSpawnsWithEmptyArgvFails(t *testing.T) {
	p := NewPool()
	_, err := p.Acquire(context.Background(), Key{FamilyTag: "empty"})
	qt.Assert(t, qt.IsNotNil(err))
}

// TestExecuteCancelsCapableWorkerAndKeepsItUsable covers the first half
// of scenario S6: interrupting a request to a cancellation-capable
// worker sends exactly one cancel frame carrying the request's id and
// leaves the worker open (the pool's caller may still Release it to
// service) once the worker replies was_cancelled.
func TestExecuteCancelsCapableWorkerAndKeepsItUsable(t *testing.T) {
	codec := newRecordingCodec(make(chan struct{}))
	w := &Worker{key: Key{FamilyTag: "x", CancellationCapable: true}, codec: codec}
	p := NewPool()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-codec.wrote // the original request
		cancel()
		<-codec.wrote // the cancel control frame
		codec.readResp <- Response{ID: "r1"}
	}()

	resp, err := p.Execute(ctx, w, Request{ID: "r1"})
	qt.Assert(t, qt.ErrorIs(err, context.Canceled))
	qt.Assert(t, qt.IsTrue(resp.WasCancelled))
	qt.Assert(t, qt.IsFalse(w.closed))

	written := codec.written()
	qt.Assert(t, qt.HasLen(written, 2))
	qt.Assert(t, qt.IsTrue(written[1].Cancel))
	qt.Assert(t, qt.Equals(written[1].ID, "r1"))
}

// TestExecuteDestroysNonCancellationCapableWorkerOnInterrupt covers the
// second half of scenario S6: a worker whose Key does not declare
// CancellationCapable is destroyed outright on interrupt, with no
// cancel frame sent at all.
func TestExecuteDestroysNonCancellationCapableWorkerOnInterrupt(t *testing.T) {
	closed := make(chan struct{})
	codec := newRecordingCodec(closed)
	w := &Worker{key: Key{FamilyTag: "x"}, codec: codec, stdin: &signalingCloser{ch: closed}}
	p := NewPool()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-codec.wrote // the original request
		cancel()
	}()

	_, err := p.Execute(ctx, w, Request{ID: "r1"})
	qt.Assert(t, qt.ErrorIs(err, context.Canceled))
	qt.Assert(t, qt.IsTrue(w.closed))

	written := codec.written()
	qt.Assert(t, qt.HasLen(written, 1))
}
