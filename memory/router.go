// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
	"github.com/gomlx/memspaces/pool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Allocate returns size bytes of memory in the location s resolves to, filled with zeros if zero is set.
//
// A zero size returns backends.Null. Otherwise the memory comes from the user Device allocator
// (Device only, if registered), else from the location pool (if pooling is enabled), else from the
// backend. Unified memory is prefetched to the device after allocation.
// If the allocation fails, it raises ErrOutOfMemory.
func (c *Context) Allocate(size uint64, s location.Space, zero bool) backends.Ptr {
	if size == 0 {
		return backends.Null
	}
	c.checkOk()
	loc := c.Resolve(s)
	ptr := c.route(size, loc)
	if ptr.IsNull() {
		c.fatalf(ErrOutOfMemory, "out of memory trying to allocate %d bytes (%s) in %s", size, humanize.IBytes(size), loc)
	}
	if zero {
		c.backend.Memset(loc, ptr, 0, size)
	}
	if loc == location.Unified && c.caps.Accelerator {
		c.backend.Prefetch(ptr, size, location.Device)
	}
	return ptr
}

// route picks the allocator for loc: user hook, pool or backend.
func (c *Context) route(size uint64, loc location.Location) backends.Ptr {
	if loc == location.Device {
		if alloc, _ := c.deviceHooks(); alloc != nil {
			return alloc(size)
		}
	}
	if c.pools.Enabled(loc) {
		ptr, err := c.pools.Alloc(loc, size)
		if err != nil {
			kind := ErrOutOfMemory
			if errors.Is(err, pool.ErrReleased) {
				kind = ErrPoolReleased
			}
			c.fatalf(kind, "failed to allocate %d bytes (%s) in %s from a pool: %v",
				size, humanize.IBytes(size), loc, err)
		}
		return ptr
	}
	return c.backend.Alloc(loc, size)
}

// MAlloc allocates size bytes, not initialized. See Allocate.
func (c *Context) MAlloc(size uint64, s location.Space) backends.Ptr {
	return c.Allocate(size, s, false)
}

// CAlloc allocates count*eltSize bytes, filled with zeros. See Allocate.
//
// The multiplication is not checked for overflow.
func (c *Context) CAlloc(count, eltSize uint64, s location.Space) backends.Ptr {
	return c.Allocate(count*eltSize, s, true)
}

// Free releases memory allocated in s. Freeing backends.Null is a no-op.
//
// The caller must track the location of its pointers: in debug mode, a pointer not in s raises
// ErrLocationMismatch.
func (c *Context) Free(ptr backends.Ptr, s location.Space) {
	if ptr.IsNull() {
		return
	}
	c.checkOk()
	loc := c.Resolve(s)
	c.checkPool(loc)
	c.checkLocation(ptr, loc)
	if loc == location.Device {
		if _, free := c.deviceHooks(); free != nil {
			free(ptr)
			return
		}
	}
	if c.pools.Free(loc, ptr) {
		return
	}
	c.backend.Free(loc, ptr)
}

// checkPool raises ErrPoolReleased if the pool for loc was released while this Context still uses it.
func (c *Context) checkPool(loc location.Location) {
	if err := c.pools.Err(loc); err != nil {
		c.fatalf(ErrPoolReleased, "%v", err)
	}
}

// Reallocate resizes memory in the same location, preserving the first min(oldSize, newSize) bytes.
//
// A zero newSize frees ptr and returns backends.Null, and a null ptr is allocated like MAlloc(newSize, s).
// Equal sizes return ptr unchanged. Memory from the backend is resized by the backend itself, memory
// from a pool or from the user Device allocator is moved to a new allocation.
func (c *Context) Reallocate(ptr backends.Ptr, oldSize, newSize uint64, s location.Space) backends.Ptr {
	if newSize == 0 {
		c.Free(ptr, s)
		return backends.Null
	}
	if ptr.IsNull() {
		return c.MAlloc(newSize, s)
	}
	if oldSize == newSize {
		return ptr
	}
	c.checkOk()
	loc := c.Resolve(s)
	c.checkPool(loc)
	c.checkLocation(ptr, loc)
	hookAlloc, _ := c.deviceHooks()
	if (loc == location.Device && hookAlloc != nil) || c.pools.Owns(loc, ptr) {
		return c.ReallocateTo(ptr, oldSize, loc, newSize, loc)
	}
	newPtr := c.backend.Realloc(loc, ptr, oldSize, newSize)
	if newPtr.IsNull() {
		c.fatalf(ErrOutOfMemory, "out of memory trying to reallocate %d bytes (%s) to %d bytes (%s) in %s",
			oldSize, humanize.IBytes(oldSize), newSize, humanize.IBytes(newSize), loc)
	}
	return newPtr
}

// ReallocateTo moves memory to a new allocation of newSize bytes in newLoc: it allocates, copies
// min(oldSize, newSize) bytes and frees the old allocation. Zero sizes and null pointers are handled
// as in Reallocate.
func (c *Context) ReallocateTo(ptr backends.Ptr, oldSize uint64, oldLoc location.Space,
	newSize uint64, newLoc location.Space) backends.Ptr {
	if newSize == 0 {
		c.Free(ptr, oldLoc)
		return backends.Null
	}
	if ptr.IsNull() {
		return c.MAlloc(newSize, newLoc)
	}
	newPtr := c.MAlloc(newSize, newLoc)
	c.Copy(newPtr, newLoc, ptr, oldLoc, min(oldSize, newSize))
	c.Free(ptr, oldLoc)
	return newPtr
}

// Memset sets size bytes starting at ptr to value. Device work may be queued on the backend stream,
// ordered with later copies. A null ptr is logged and ignored.
func (c *Context) Memset(ptr backends.Ptr, value byte, size uint64, s location.Space) {
	if size == 0 {
		return
	}
	if ptr.IsNull() {
		klog.Warningf("memspaces: Memset of %d bytes on a null pointer ignored", size)
		return
	}
	c.checkOk()
	loc := c.Resolve(s)
	c.checkLocation(ptr, loc)
	c.backend.Memset(loc, ptr, value, size)
}

// Prefetch migrates Unified memory towards the location s resolves to. It doesn't wait for the migration.
// It's a no-op without an accelerator.
func (c *Context) Prefetch(ptr backends.Ptr, size uint64, s location.Space) {
	if size == 0 || ptr.IsNull() {
		return
	}
	c.checkOk()
	target := c.Resolve(s)
	if !c.caps.Accelerator {
		return
	}
	if c.caps.UnifiedAddressing {
		c.checkLocation(ptr, location.Unified)
	}
	c.backend.Prefetch(ptr, size, target)
}
