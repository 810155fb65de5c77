// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package addrspace keeps the table of live memory blocks of a backend, indexed by address,
// so that any pointer, including one pointing inside a block, can be mapped back to its block.
package addrspace

import (
	"math"
	"slices"
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
)

// Block is one live allocation.
type Block struct {
	// Base is the address of the first byte.
	Base backends.Ptr

	// Buf holds the memory. Its length is the block size.
	Buf []byte

	// Location where the block was allocated.
	Location location.Location

	// Residency is where the data of a Unified block currently lives (Host or Device).
	// For other locations it is equal to Location.
	Residency location.Location

	// Locked is set when the memory was page-locked (pinned) with the OS.
	Locked bool
}

// Size of the block in bytes.
func (b *Block) Size() uint64 { return uint64(len(b.Buf)) }

// End returns the address one past the last byte of the block.
func (b *Block) End() backends.Ptr { return b.Base.Add(b.Size()) }

// Contains returns whether ptr points inside the block.
func (b *Block) Contains(ptr backends.Ptr) bool {
	return ptr >= b.Base && ptr < b.End()
}

// AddressOf returns the address of the first byte of buf. buf must not be empty.
//
// The address is only used as an identifier: it is never converted back to a pointer.
func AddressOf(buf []byte) backends.Ptr {
	return backends.Ptr(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
}

// MaxBlockSize is the largest block NewBuffer accepts: Go heap addresses are limited to 48 bits.
const MaxBlockSize = min(math.MaxInt, 1<<48)

// NewBuffer returns a zeroed buffer of size bytes, or nil if size is 0 or larger than MaxBlockSize.
func NewBuffer(size uint64) []byte {
	if size == 0 || size > MaxBlockSize {
		return nil
	}
	return make([]byte, size)
}

// Table of live blocks, sorted by address. It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	blocks []*Block // Sorted by Base.
	bytes  map[location.Location]uint64
}

// New returns an empty Table.
func New() *Table {
	return &Table{bytes: make(map[location.Location]uint64)}
}

func compareBase(b *Block, ptr backends.Ptr) int {
	switch {
	case b.Base < ptr:
		return -1
	case b.Base > ptr:
		return 1
	}
	return 0
}

// Insert a new block. It panics if the block overlaps a live one.
func (t *Table) Insert(b *Block) {
	if len(b.Buf) == 0 {
		exceptions.Panicf("addrspace: cannot insert an empty block at %#x", uintptr(b.Base))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, found := slices.BinarySearchFunc(t.blocks, b.Base, compareBase)
	if found || (idx > 0 && t.blocks[idx-1].End() > b.Base) || (idx < len(t.blocks) && b.End() > t.blocks[idx].Base) {
		exceptions.Panicf("addrspace: block [%#x, %#x) overlaps a live block", uintptr(b.Base), uintptr(b.End()))
	}
	t.blocks = slices.Insert(t.blocks, idx, b)
	t.bytes[b.Location] += b.Size()
}

// Remove the block starting exactly at base. It returns nil if there is no such block.
func (t *Table) Remove(base backends.Ptr) *Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, found := slices.BinarySearchFunc(t.blocks, base, compareBase)
	if !found {
		return nil
	}
	b := t.blocks[idx]
	t.blocks = slices.Delete(t.blocks, idx, idx+1)
	t.bytes[b.Location] -= b.Size()
	return b
}

// Find the block containing ptr. It returns nil if ptr doesn't point inside any live block.
func (t *Table) Find(ptr backends.Ptr) *Block {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lockedFind(ptr)
}

func (t *Table) lockedFind(ptr backends.Ptr) *Block {
	idx, found := slices.BinarySearchFunc(t.blocks, ptr, compareBase)
	if found {
		return t.blocks[idx]
	}
	if idx == 0 {
		return nil
	}
	if b := t.blocks[idx-1]; b.Contains(ptr) {
		return b
	}
	return nil
}

// Slice returns the view of size bytes starting at ptr. It panics if the range is not fully
// inside one live block.
func (t *Table) Slice(ptr backends.Ptr, size uint64) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.lockedFind(ptr)
	if b == nil {
		exceptions.Panicf("addrspace: pointer %#x is not part of any live block", uintptr(ptr))
	}
	offset := uint64(ptr - b.Base)
	if offset+size > b.Size() {
		exceptions.Panicf("addrspace: range [%#x, +%d) overruns block [%#x, %#x)",
			uintptr(ptr), size, uintptr(b.Base), uintptr(b.End()))
	}
	return b.Buf[offset : offset+size : offset+size]
}

// SetResidency updates the residency of the block containing ptr, and returns false if there is no such block.
func (t *Table) SetResidency(ptr backends.Ptr, residency location.Location) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.lockedFind(ptr)
	if b == nil {
		return false
	}
	b.Residency = residency
	return true
}

// Residency returns where the data of the block containing ptr currently lives.
func (t *Table) Residency(ptr backends.Ptr) (location.Location, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.lockedFind(ptr)
	if b == nil {
		return location.Undefined, false
	}
	return b.Residency, true
}

// Bytes returns the total size of the live blocks allocated in loc.
func (t *Table) Bytes(loc location.Location) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bytes[loc]
}

// Len returns the number of live blocks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.blocks)
}

// Drain removes all blocks and returns them.
func (t *Table) Drain() []*Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	blocks := t.blocks
	t.blocks = nil
	clear(t.bytes)
	return blocks
}
