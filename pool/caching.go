// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pool

import (
	"math"

	"github.com/eapache/queue"
	"github.com/gomlx/memspaces/backends"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// CachingParams configures the bin-based CachingAllocator.
//
// Bins hold blocks of size BinGrowth^k bytes, for k in [MinBin, MaxBin].
type CachingParams struct {
	BinGrowth      uint   `json:"bin_growth"`
	MinBin         uint   `json:"min_bin"`
	MaxBin         uint   `json:"max_bin"`
	MaxCachedBytes uint64 `json:"max_cached_bytes"`
}

// DefaultCachingParams: bins from 8 bytes to 1GiB, at most 2GiB of cached free blocks.
var DefaultCachingParams = CachingParams{
	BinGrowth:      8,
	MinBin:         1,
	MaxBin:         10,
	MaxCachedBytes: 2 << 30,
}

// Validate returns an error if the parameters can't describe a set of bins.
func (p CachingParams) Validate() error {
	if p.BinGrowth < 2 {
		return errors.Errorf("caching allocator bin growth must be >= 2, got %d", p.BinGrowth)
	}
	if p.MinBin > p.MaxBin {
		return errors.Errorf("caching allocator min bin (%d) > max bin (%d)", p.MinBin, p.MaxBin)
	}
	if _, ok := ipow(uint64(p.BinGrowth), p.MaxBin); !ok {
		return errors.Errorf("caching allocator largest bin %d^%d overflows", p.BinGrowth, p.MaxBin)
	}
	return nil
}

// cachedBlock is a free block held by the cache. gen tells apart repeated caching of the same block.
type cachedBlock struct {
	ptr  backends.Ptr
	size uint64
	gen  uint64
}

// CachingAllocator keeps freed blocks, grouped by bin size, for reuse by later allocations.
// When the cached bytes exceed MaxCachedBytes, the oldest cached blocks are evicted first.
//
// It only does the bookkeeping: the owner allocates and frees the blocks themselves.
// It is not safe for concurrent use.
type CachingAllocator struct {
	params   CachingParams
	minSize  uint64
	maxSize  uint64
	bins     map[uint64][]cachedBlock
	fifo     *queue.Queue // Of cachedBlock, oldest first. It may hold stale entries.
	cached   map[backends.Ptr]uint64
	nextGen  uint64
	numBytes uint64
}

// NewCachingAllocator creates an empty cache. params must be valid.
func NewCachingAllocator(params CachingParams) (*CachingAllocator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	minSize, _ := ipow(uint64(params.BinGrowth), params.MinBin)
	maxSize, _ := ipow(uint64(params.BinGrowth), params.MaxBin)
	return &CachingAllocator{
		params:  params,
		minSize: minSize,
		maxSize: maxSize,
		bins:    make(map[uint64][]cachedBlock),
		fifo:    queue.New(),
		cached:  make(map[backends.Ptr]uint64),
	}, nil
}

// Params returns the parameters of the cache.
func (c *CachingAllocator) Params() CachingParams { return c.params }

// BinSize returns the size of the bin serving a request of size bytes.
// It returns false if the request is larger than the largest bin, in which case it's not cached.
func (c *CachingAllocator) BinSize(size uint64) (uint64, bool) {
	if size > c.maxSize {
		return size, false
	}
	bin := c.minSize
	growth := uint64(c.params.BinGrowth)
	for bin < size {
		if bin > math.MaxUint64/growth {
			return size, false
		}
		bin *= growth
	}
	return bin, true
}

// Take returns a cached block of exactly binSize bytes, if there is one.
func (c *CachingAllocator) Take(binSize uint64) (backends.Ptr, bool) {
	blocks := c.bins[binSize]
	if len(blocks) == 0 {
		return backends.Null, false
	}
	// Most recently freed first.
	b := blocks[len(blocks)-1]
	c.bins[binSize] = blocks[:len(blocks)-1]
	delete(c.cached, b.ptr)
	c.numBytes -= b.size
	return b.ptr, true
}

// Put caches a freed block of binSize bytes, and returns the blocks evicted to stay within MaxCachedBytes,
// which the caller must free. The block itself may be evicted if it alone exceeds the limit.
func (c *CachingAllocator) Put(ptr backends.Ptr, binSize uint64) (evicted []backends.Ptr) {
	c.nextGen++
	b := cachedBlock{ptr: ptr, size: binSize, gen: c.nextGen}
	c.cached[ptr] = b.gen
	c.bins[binSize] = append(c.bins[binSize], b)
	c.fifo.Add(b)
	c.numBytes += binSize
	for c.numBytes > c.params.MaxCachedBytes {
		oldest, ok := c.popOldest()
		if !ok {
			break
		}
		evicted = append(evicted, oldest.ptr)
	}
	c.compact()
	return evicted
}

// popOldest removes the oldest cached block.
func (c *CachingAllocator) popOldest() (cachedBlock, bool) {
	for c.fifo.Length() > 0 {
		b := c.fifo.Remove().(cachedBlock)
		if gen, found := c.cached[b.ptr]; !found || gen != b.gen {
			// Stale: reused since it was cached.
			continue
		}
		delete(c.cached, b.ptr)
		c.numBytes -= b.size
		blocks := c.bins[b.size]
		for i, candidate := range blocks {
			if candidate.ptr == b.ptr {
				c.bins[b.size] = append(blocks[:i], blocks[i+1:]...)
				break
			}
		}
		return b, true
	}
	return cachedBlock{}, false
}

// compact drops stale entries from the fifo once they outnumber the live ones.
func (c *CachingAllocator) compact() {
	if c.fifo.Length() <= 2*len(c.cached)+16 {
		return
	}
	fresh := queue.New()
	for c.fifo.Length() > 0 {
		b := c.fifo.Remove().(cachedBlock)
		if gen, found := c.cached[b.ptr]; found && gen == b.gen {
			fresh.Add(b)
		}
	}
	c.fifo = fresh
}

// Drain removes all cached blocks, oldest first, and returns them for the caller to free.
func (c *CachingAllocator) Drain() []backends.Ptr {
	var ptrs []backends.Ptr
	for {
		b, ok := c.popOldest()
		if !ok {
			break
		}
		ptrs = append(ptrs, b.ptr)
	}
	return ptrs
}

// CachedBytes returns the total size of the blocks held by the cache.
func (c *CachingAllocator) CachedBytes() uint64 { return c.numBytes }

// CachedBlocks returns the number of blocks held by the cache.
func (c *CachingAllocator) CachedBlocks() int { return len(c.cached) }

// ipow returns base^exp and false if it overflows.
func ipow(base uint64, exp uint) (uint64, bool) {
	result := uint64(1)
	for range exp {
		if result > math.MaxUint64/base {
			return 0, false
		}
		result *= base
	}
	return result, true
}

// roundUp rounds n up to a multiple of multiple. A zero multiple leaves n unchanged.
// ok is false if the result doesn't fit in T.
func roundUp[T constraints.Unsigned](n, multiple T) (rounded T, ok bool) {
	if multiple == 0 {
		return n, true
	}
	rem := n % multiple
	if rem == 0 {
		return n, true
	}
	rounded = n + (multiple - rem)
	return rounded, rounded > n
}
