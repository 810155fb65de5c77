// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pool implements named memory pools, one per memory location, carving their blocks from
// an upstream allocator (the backend) and caching freed blocks for reuse.
//
// Pools are shared process-wide through a Registry, by name. The Manager creates the pools used by
// a memory.Context lazily, and keeps track of which ones it owns (and hence must release).
package pool

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Upstream provides the memory pools carve their blocks from. backends.Backend implements it.
type Upstream interface {
	Alloc(loc location.Location, size uint64) backends.Ptr
	Free(loc location.Location, ptr backends.Ptr)
}

// ErrReleased is returned when releasing a pool that was already released.
var ErrReleased = errors.New("pool already released")

// Options to create a Pool.
type Options struct {
	Name     string
	Location location.Location

	// CapacityBytes bounds the memory held by the pool, including cached free blocks.
	CapacityBytes uint64

	// BlockSize: requests are rounded up to a multiple of it.
	BlockSize uint64

	// Caching configures the cache of freed blocks. If nil, freed blocks are returned upstream immediately.
	Caching *CachingParams
}

// Pool of memory blocks in one location. It is safe for concurrent use.
type Pool struct {
	opts     Options
	upstream Upstream
	registry *Registry

	mu       sync.Mutex
	cache    *CachingAllocator
	held     map[backends.Ptr]uint64 // All blocks obtained upstream and not yet returned: in use or cached.
	inUse    map[backends.Ptr]uint64
	current  uint64
	peak     uint64
	released bool
}

// New creates a Pool. It returns an error if the options are invalid.
func New(opts Options, upstream Upstream) (*Pool, error) {
	if err := ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if !opts.Location.Valid() {
		return nil, errors.Errorf("pool %q: invalid location %d", opts.Name, int(opts.Location))
	}
	p := &Pool{
		opts:     opts,
		upstream: upstream,
		held:     make(map[backends.Ptr]uint64),
		inUse:    make(map[backends.Ptr]uint64),
	}
	if opts.Caching != nil {
		cache, err := NewCachingAllocator(*opts.Caching)
		if err != nil {
			return nil, errors.WithMessagef(err, "pool %q", opts.Name)
		}
		p.cache = cache
	}
	return p, nil
}

// Name of the pool.
func (p *Pool) Name() string { return p.opts.Name }

// Location of the pool memory.
func (p *Pool) Location() location.Location { return p.opts.Location }

// CapacityBytes is the limit of memory held by the pool.
func (p *Pool) CapacityBytes() uint64 { return p.opts.CapacityBytes }

// BlockSize is the allocation granularity of the pool.
func (p *Pool) BlockSize() uint64 { return p.opts.BlockSize }

// String implements fmt.Stringer.
func (p *Pool) String() string {
	return p.opts.Name + "@" + p.opts.Location.String()
}

// Alloc returns a block of at least size bytes. It returns backends.Null if the pool capacity
// would be exceeded, or if the upstream allocation fails.
func (p *Pool) Alloc(size uint64) backends.Ptr {
	if size == 0 {
		return backends.Null
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		exceptions.Panicf("pool %s: Alloc(%d) after release", p, size)
	}
	rounded, fits := roundUp(size, p.opts.BlockSize)
	if !fits {
		klog.V(1).Infof("pool %s: can't allocate %d bytes in blocks of %d", p, size, p.opts.BlockSize)
		return backends.Null
	}
	size = rounded
	cacheable := false
	if p.cache != nil {
		size, cacheable = p.cache.BinSize(size)
		if cacheable {
			if ptr, found := p.cache.Take(size); found {
				p.inUse[ptr] = size
				return ptr
			}
		}
	}

	ptr := backends.Null
	if p.lockedFits(size) {
		ptr = p.upstream.Alloc(p.opts.Location, size)
	}
	if ptr.IsNull() && p.cache != nil && p.cache.CachedBlocks() > 0 {
		// Give back cached blocks and retry.
		p.lockedFreeUpstream(p.cache.Drain())
		if p.lockedFits(size) {
			ptr = p.upstream.Alloc(p.opts.Location, size)
		}
	}
	if ptr.IsNull() {
		klog.V(1).Infof("pool %s: failed to allocate %s (%s held, capacity %s)", p,
			humanize.IBytes(size), humanize.IBytes(p.current), humanize.IBytes(p.opts.CapacityBytes))
		return backends.Null
	}
	p.held[ptr] = size
	p.inUse[ptr] = size
	p.current += size
	p.peak = max(p.peak, p.current)
	return ptr
}

// lockedFits returns whether size more bytes stay within the pool capacity. It must be called with p.mu locked.
func (p *Pool) lockedFits(size uint64) bool {
	return p.current <= p.opts.CapacityBytes && size <= p.opts.CapacityBytes-p.current
}

// Free returns a block to the pool. It returns false if ptr was not allocated by this pool.
func (p *Pool) Free(ptr backends.Ptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	size, found := p.inUse[ptr]
	if !found {
		return false
	}
	delete(p.inUse, ptr)
	if p.cache != nil {
		if _, cacheable := p.cache.BinSize(size); cacheable {
			p.lockedFreeUpstream(p.cache.Put(ptr, size))
			return true
		}
	}
	p.lockedFreeUpstream([]backends.Ptr{ptr})
	return true
}

// lockedFreeUpstream returns the blocks to the upstream allocator. It must be called with p.mu locked.
func (p *Pool) lockedFreeUpstream(ptrs []backends.Ptr) {
	for _, ptr := range ptrs {
		p.upstream.Free(p.opts.Location, ptr)
		p.current -= p.held[ptr]
		delete(p.held, ptr)
	}
}

// Owns returns whether ptr is a block allocated by this pool and not yet freed.
func (p *Pool) Owns(ptr backends.Ptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, found := p.inUse[ptr]
	return found
}

// CurrentBytes returns the memory held by the pool, in use or cached.
func (p *Pool) CurrentBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// HighWaterBytes returns the peak of CurrentBytes.
func (p *Pool) HighWaterBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// InUseBlocks returns the number of blocks allocated and not yet freed.
func (p *Pool) InUseBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Released returns whether the pool has been released.
func (p *Pool) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Release returns all memory held by the pool upstream, and removes the pool from its registry.
// Releasing a pool twice returns ErrReleased.
func (p *Pool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return errors.Wrapf(ErrReleased, "pool %s", p)
	}
	if len(p.inUse) > 0 {
		klog.Warningf("pool %s: released with %d blocks still in use", p, len(p.inUse))
	}
	ptrs := make([]backends.Ptr, 0, len(p.held))
	for ptr := range p.held {
		ptrs = append(ptrs, ptr)
	}
	if p.cache != nil {
		p.cache.Drain()
	}
	p.lockedFreeUpstream(ptrs)
	clear(p.inUse)
	p.released = true
	if p.registry != nil {
		p.registry.remove(p)
	}
	klog.V(1).Infof("pool %s: released, peak usage %s", p, humanize.IBytes(p.peak))
	return nil
}
