// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gomlx/memspaces/internal/event"
	"k8s.io/klog/v2"
)

// drainWarningDelay is how long close waits for queued tasks before logging that it is still waiting.
const drainWarningDelay = 5 * time.Second

// stream is an in-order execution queue, like an accelerator compute stream: tasks run one at a
// time, on a dedicated goroutine, in the order they were issued.
//
// Tasks must not panic: arguments are validated by the issuer before enqueuing.
type stream struct {
	mu      sync.Mutex
	cond    sync.Cond // Signaled when a task is added or the stream is closed.
	tasks   *queue.Queue
	closed  bool
	stopped *event.Event
}

func newStream() *stream {
	s := &stream{
		tasks:   queue.New(),
		stopped: event.New(),
	}
	s.cond.L = &s.mu
	go s.run()
	return s
}

func (s *stream) run() {
	defer s.stopped.Fire()
	for {
		s.mu.Lock()
		for s.tasks.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.tasks.Length() == 0 {
			// Closed and drained.
			s.mu.Unlock()
			return
		}
		task := s.tasks.Remove().(func())
		s.mu.Unlock()
		task()
	}
}

// enqueue issues task and returns immediately.
func (s *stream) enqueue(task func()) {
	s.mu.Lock()
	if s.closed {
		// Work issued after close runs inline, once the queue is drained.
		s.mu.Unlock()
		s.stopped.Wait()
		task()
		return
	}
	s.tasks.Add(task)
	s.cond.Signal()
	s.mu.Unlock()
}

// record returns an event fired once all the tasks issued so far have run.
func (s *stream) record() *event.Event {
	e := event.New()
	s.enqueue(e.Fire)
	return e
}

// wait issues task and returns after it, and everything issued before it, has run.
func (s *stream) wait(task func()) {
	s.enqueue(task)
	s.record().Wait()
}

// synchronize blocks until all issued tasks have run.
func (s *stream) synchronize() {
	s.wait(func() {})
}

// pending returns the number of tasks issued and not yet started.
func (s *stream) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Length()
}

// close drains the stream and stops its goroutine. It's safe to call more than once.
func (s *stream) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	if !s.stopped.WaitFor(drainWarningDelay) {
		klog.Warningf("%s backend: still draining the stream, %d tasks not started", BackendName, s.pending())
		s.stopped.Wait()
	}
}
