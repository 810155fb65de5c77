// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pool

import (
	"math"
	"testing"

	"github.com/gomlx/memspaces/backends"
	"github.com/stretchr/testify/require"
)

func TestCachingParams(t *testing.T) {
	require.NoError(t, DefaultCachingParams.Validate())
	require.Error(t, CachingParams{BinGrowth: 1, MinBin: 1, MaxBin: 2}.Validate())
	require.Error(t, CachingParams{BinGrowth: 2, MinBin: 3, MaxBin: 2}.Validate())
	require.Error(t, CachingParams{BinGrowth: 8, MinBin: 1, MaxBin: 22}.Validate())
	require.NoError(t, CachingParams{BinGrowth: 8, MinBin: 1, MaxBin: 21}.Validate())

	_, err := NewCachingAllocator(CachingParams{})
	require.Error(t, err)
}

func TestCachingBinSize(t *testing.T) {
	c, err := NewCachingAllocator(DefaultCachingParams)
	require.NoError(t, err)
	for _, tc := range []struct {
		size, bin uint64
		cached    bool
	}{
		{1, 8, true},
		{8, 8, true},
		{9, 64, true},
		{512, 512, true},
		{513, 4096, true},
		{1 << 30, 1 << 30, true},
		{1<<30 + 1, 1<<30 + 1, false},
	} {
		bin, cached := c.BinSize(tc.size)
		require.Equalf(t, tc.bin, bin, "size %d", tc.size)
		require.Equalf(t, tc.cached, cached, "size %d", tc.size)
	}
}

func TestCachingEviction(t *testing.T) {
	c, err := NewCachingAllocator(CachingParams{BinGrowth: 2, MinBin: 4, MaxBin: 8, MaxCachedBytes: 512})
	require.NoError(t, err)
	p1, p2, p3, p4 := backends.Ptr(0x1000), backends.Ptr(0x2000), backends.Ptr(0x3000), backends.Ptr(0x4000)

	require.Empty(t, c.Put(p1, 256))
	require.Empty(t, c.Put(p2, 256))
	require.Equal(t, uint64(512), c.CachedBytes())

	// Over the limit: the oldest block goes first.
	require.Equal(t, []backends.Ptr{p1}, c.Put(p3, 64))
	require.Equal(t, uint64(320), c.CachedBytes())

	ptr, found := c.Take(256)
	require.True(t, found)
	require.Equal(t, p2, ptr)
	_, found = c.Take(128)
	require.False(t, found)

	// p2 is cached again: its earlier entry must not count as older than p3.
	require.Empty(t, c.Put(p2, 256))
	require.Equal(t, []backends.Ptr{p3}, c.Put(p4, 256))
	require.Equal(t, 2, c.CachedBlocks())

	require.Equal(t, []backends.Ptr{p2, p4}, c.Drain())
	require.Equal(t, uint64(0), c.CachedBytes())
	require.Equal(t, 0, c.CachedBlocks())
}

func TestCachingCompaction(t *testing.T) {
	c, err := NewCachingAllocator(DefaultCachingParams)
	require.NoError(t, err)
	ptr := backends.Ptr(0x1000)
	for range 1000 {
		c.Put(ptr, 64)
		got, found := c.Take(64)
		require.True(t, found)
		require.Equal(t, ptr, got)
	}
	require.LessOrEqual(t, c.fifo.Length(), 18)
}

func TestRoundUp(t *testing.T) {
	for _, tc := range []struct {
		n, multiple, want uint64
		ok                bool
	}{
		{1, 512, 512, true},
		{512, 512, 512, true},
		{513, 512, 1024, true},
		{7, 0, 7, true},
		{math.MaxUint64 - 511, 512, math.MaxUint64 - 511, true},
		{math.MaxUint64 - 10, 512, 0, false},
		{math.MaxUint64, 8, 0, false},
	} {
		got, ok := roundUp(tc.n, tc.multiple)
		require.Equalf(t, tc.ok, ok, "roundUp(%d, %d)", tc.n, tc.multiple)
		if ok {
			require.Equalf(t, tc.want, got, "roundUp(%d, %d)", tc.n, tc.multiple)
		}
	}
	_, ok := roundUp(uint8(250), 8)
	require.False(t, ok)
}
