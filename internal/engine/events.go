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

import "sync"

// Event is one item a function emits through its scoped Listener
// (spec.md §4.4, §4.6). The engine never interprets an Event's payload;
// it only decides whether to keep or drop the batch a sink accumulated.
type Event struct {
	Level   string
	Message string
}

// EventSink buffers the events one function invocation produced. Events
// are only flushed to the global sink if the invocation ultimately
// contributes to a successful (or, under keep-going, surfaced) result;
// events from invocations whose results were discarded by a restart are
// dropped (spec.md §4.6).
type EventSink struct {
	mu     sync.Mutex
	events []Event
}

func newEventSink() *EventSink {
	return &EventSink{}
}

// Emit records an event in this invocation's buffer.
func (s *EventSink) Emit(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Level: level, Message: message})
}

func (s *EventSink) drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// GlobalSink receives flushed events from contributing invocations. An
// evaluation owns exactly one GlobalSink for its lifetime.
type GlobalSink struct {
	mu     sync.Mutex
	events []Event
}

// NewGlobalSink creates an empty global sink.
func NewGlobalSink() *GlobalSink {
	return &GlobalSink{}
}

func (g *GlobalSink) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, events...)
}

// Events returns every event flushed so far, in flush order.
func (g *GlobalSink) Events() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Event, len(g.events))
	copy(out, g.events)
	return out
}
