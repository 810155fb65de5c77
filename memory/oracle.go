// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
)

// Locate returns the location of the memory ptr points to, and whether the backend recognized it.
//
// Without an accelerator every pointer is host memory. Pointers not recognized by the backend,
// like Go memory, are classified as location.Host. It is safe for concurrent use and has no side effects.
func (c *Context) Locate(ptr backends.Ptr) (location.Location, bool) {
	if !c.caps.Accelerator {
		return location.Host, true
	}
	loc, found := c.backend.Locate(ptr)
	if !found {
		return location.Host, false
	}
	return loc, true
}

// CheckLocation raises ErrLocationMismatch if ptr is not in the location s resolves to.
// It only checks in debug mode, and null pointers are never checked.
func (c *Context) CheckLocation(ptr backends.Ptr, s location.Space) {
	if !c.Debug() || ptr.IsNull() {
		return
	}
	c.checkLocation(ptr, c.Resolve(s))
}

// checkLocation implements CheckLocation for a resolved location.
//
// Without an accelerator there is a single physical space, so there is nothing to check.
func (c *Context) checkLocation(ptr backends.Ptr, loc location.Location) {
	if !c.Debug() || ptr.IsNull() || !c.caps.Accelerator {
		return
	}
	actual, found := c.Locate(ptr)
	if actual == loc || (!found && loc.IsHostClass()) {
		return
	}
	c.fatalf(ErrLocationMismatch, "pointer %#x is in %s memory, expected %s", uintptr(ptr), actual, loc)
}
