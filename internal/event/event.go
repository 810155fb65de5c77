// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package event implements one-shot completion events, like the events recorded on an
// accelerator stream: an Event is fired once, when the work it marks is complete, and
// any number of goroutines can wait for it.
package event

import (
	"sync"
	"time"
)

// Event is fired at most once. The zero value is not usable, see New.
type Event struct {
	once sync.Once
	done chan struct{}
}

// New returns an Event not yet fired.
func New() *Event {
	return &Event{done: make(chan struct{})}
}

// Fire marks the event as complete, waking up all waiters. Firing again is a no-op.
func (e *Event) Fire() {
	e.once.Do(func() { close(e.done) })
}

// Wait blocks until the event is fired.
func (e *Event) Wait() {
	<-e.done
}

// WaitFor waits at most timeout for the event, and returns whether it was fired.
func (e *Event) WaitFor(timeout time.Duration) bool {
	select {
	case <-e.done:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return true
	case <-timer.C:
		return false
	}
}
