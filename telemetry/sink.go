// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/gomlx/memspaces/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sink receives published snapshots.
type Sink interface {
	Publish(snap Snapshot) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(snap Snapshot) error

// Publish implements Sink.
func (fn SinkFunc) Publish(snap Snapshot) error { return fn(snap) }

// JSONLines is a Sink that writes each snapshot as one line of JSON. It is safe for concurrent use.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a Sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Publish implements Sink.
func (s *JSONLines) Publish(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(snap); err != nil {
		return errors.Wrapf(err, "failed to publish snapshot of worker %s", snap.WorkerID)
	}
	return nil
}

// Publish takes a snapshot of ctx and publishes it to sink.
// Errors reading host figures are logged, and the partial snapshot is published anyway.
func Publish(ctx *memory.Context, sink Sink) (Snapshot, error) {
	snap, err := Take(ctx)
	if err != nil {
		klog.Warningf("telemetry: incomplete memory snapshot: %v", err)
	}
	return snap, sink.Publish(snap)
}
