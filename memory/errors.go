// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"

	"github.com/gomlx/memspaces/pool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kinds of fatal conditions. Fatal errors raised by a Context match one of them with errors.Is.
var (
	// ErrOutOfMemory is raised when an allocation of a non-zero size fails.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrWrongLocation is raised when an invalid or unresolvable location reaches an operation.
	ErrWrongLocation = errors.New("unrecognized memory location")

	// ErrUndefinedPolicy is raised when the operand locations admit no execution policy.
	ErrUndefinedPolicy = errors.New("undefined execution policy")

	// ErrLocationMismatch is raised, in debug mode, when a pointer is not where the caller claims it is.
	ErrLocationMismatch = errors.New("memory location mismatch")

	// ErrFinalized is raised when a Context is used after Finalize.
	ErrFinalized = errors.New("memory context finalized")

	// ErrPoolReleased is raised when a pool shared with another Context is used after its owner released it.
	ErrPoolReleased = pool.ErrReleased
)

// FatalError is the error a Context panics with on a fatal condition.
type FatalError struct {
	// Kind is one of the Err* sentinel errors.
	Kind error

	// Msg is the diagnostic.
	Msg string
}

// Error implements error.
func (e *FatalError) Error() string { return e.Msg }

// Unwrap returns the kind of the fatal error.
func (e *FatalError) Unwrap() error { return e.Kind }

// fatalf reports a fatal condition: it logs the diagnostic and panics with a *FatalError (with stack),
// or, if configured with AbortOnFatal, exits the process.
func (c *Context) fatalf(kind error, format string, args ...any) {
	err := &FatalError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	klog.Errorf("memspaces: %s", err.Msg)
	if c.abortOnFatal {
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
	panic(errors.WithStack(err))
}
