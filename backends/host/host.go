// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package host implements the host-only memory backend: there is no accelerator, so all four
// locations are served from host memory, and every pointer is reported as host memory.
//
// Pinned allocations are page-locked with the OS when possible (see pinned_linux.go), which
// is what an accelerator runtime would do when registering host memory for DMA.
package host

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/internal/addrspace"
	"github.com/gomlx/memspaces/location"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in MEMSPACES_BACKEND to specify this backend.
const BackendName = "host"

// Registers New() as the constructor for the "host" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new host Backend. There are no configurations, a non-empty config is an error.
func New(config string) (backends.Backend, error) {
	if config != "" {
		return nil, errors.Errorf("backend %q takes no configuration, got %q", BackendName, config)
	}
	return newBackend(), nil
}

func newBackend() *Backend {
	return &Backend{blocks: addrspace.New()}
}

// Backend implements backends.Backend for host-only processes.
type Backend struct {
	blocks *addrspace.Table
}

// Compile-time check that host.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Capabilities of the host backend: all locations are host memory.
var Capabilities = backends.Capabilities{
	Locations: map[location.Location]bool{
		location.Host:       true,
		location.HostPinned: true,
		location.Device:     true,
		location.Unified:    true,
	},
}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Host-only memory backend (no accelerator)"
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities.Clone()
}

// Alloc allocates size bytes of host memory. Pinned memory is also page-locked, if the OS allows it.
func (b *Backend) Alloc(loc location.Location, size uint64) backends.Ptr {
	buf := addrspace.NewBuffer(size)
	if buf == nil {
		if size > 0 {
			klog.V(2).Infof("%s backend: can't allocate %d bytes in %s", BackendName, size, loc)
		}
		return backends.Null
	}
	block := &addrspace.Block{
		Base:      addrspace.AddressOf(buf),
		Buf:       buf,
		Location:  loc,
		Residency: location.Host,
	}
	if loc == location.HostPinned {
		block.Locked = lockMemory(buf)
	}
	b.blocks.Insert(block)
	return block.Base
}

// Free releases memory allocated with Alloc.
func (b *Backend) Free(loc location.Location, ptr backends.Ptr) {
	block := b.blocks.Remove(ptr)
	if block == nil {
		exceptions.Panicf("%s backend: Free(%#x, %s) of a pointer that was not allocated (or already freed)",
			BackendName, uintptr(ptr), loc)
	}
	if block.Locked {
		unlockMemory(block.Buf)
	}
}

// Realloc resizes the block at ptr. Go memory cannot be resized in place, so the block always moves.
func (b *Backend) Realloc(loc location.Location, ptr backends.Ptr, oldSize, newSize uint64) backends.Ptr {
	newPtr := b.Alloc(loc, newSize)
	if newPtr.IsNull() {
		return backends.Null
	}
	n := min(oldSize, newSize)
	copy(b.blocks.Slice(newPtr, n), b.blocks.Slice(ptr, n))
	b.Free(loc, ptr)
	return newPtr
}

// Locate always returns location.Host: without an accelerator there is only one physical space.
// Pointers pinned by this backend are reported as location.HostPinned.
func (b *Backend) Locate(ptr backends.Ptr) (location.Location, bool) {
	block := b.blocks.Find(ptr)
	if block != nil && block.Location == location.HostPinned {
		return location.HostPinned, true
	}
	return location.Host, true
}

// DeviceMemInfo returns ok=false, there is no accelerator.
func (b *Backend) DeviceMemInfo() (used, total uint64, ok bool) {
	return 0, 0, false
}

// Memset fills host memory.
func (b *Backend) Memset(_ location.Location, ptr backends.Ptr, value byte, size uint64) {
	if size == 0 {
		return
	}
	fill(b.blocks.Slice(ptr, size), value)
}

// Copy is a plain memory copy for all transfer kinds. Overlapping ranges are handled like memmove.
func (b *Backend) Copy(_ backends.TransferKind, dst, src backends.Ptr, size uint64) {
	if size == 0 {
		return
	}
	copy(b.blocks.Slice(dst, size), b.blocks.Slice(src, size))
}

// Prefetch is a no-op: there is no other space to migrate to.
func (b *Backend) Prefetch(ptr backends.Ptr, size uint64, target location.Location) {
	if klog.V(3).Enabled() {
		klog.Infof("%s backend: ignoring prefetch of %d bytes at %#x to %s", BackendName, size, uintptr(ptr), target)
	}
}

// Bytes returns the memory itself.
func (b *Backend) Bytes(ptr backends.Ptr, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return b.blocks.Slice(ptr, size)
}

// LiveBlocks returns the number of blocks allocated and not yet freed.
func (b *Backend) LiveBlocks() int {
	return b.blocks.Len()
}

// Synchronize is a no-op: all host operations are synchronous.
func (b *Backend) Synchronize() {}

// Finalize releases all the memory still allocated.
func (b *Backend) Finalize() {
	blocks := b.blocks.Drain()
	if len(blocks) > 0 {
		klog.V(1).Infof("%s backend: finalized with %d blocks still allocated", BackendName, len(blocks))
	}
	for _, block := range blocks {
		if block.Locked {
			unlockMemory(block.Buf)
		}
	}
}

// fill sets all bytes of buf to value.
func fill(buf []byte, value byte) {
	if value == 0 {
		clear(buf)
		return
	}
	if len(buf) == 0 {
		return
	}
	buf[0] = value
	for filled := 1; filled < len(buf); filled *= 2 {
		copy(buf[filled:], buf[:filled])
	}
}
