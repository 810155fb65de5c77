// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package host

import (
	"math"
	"testing"

	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	require.Contains(t, backends.List(), BackendName)
	backend, err := backends.NewWithConfig(BackendName)
	require.NoError(t, err)
	require.Equal(t, BackendName, backend.Name())
	require.False(t, backend.Capabilities().Accelerator)
	backend.Finalize()

	_, err = backends.NewWithConfig(BackendName + ":bogus")
	require.Error(t, err)
}

func TestAllocCopyFree(t *testing.T) {
	b := newBackend()
	defer b.Finalize()

	require.Equal(t, backends.Null, b.Alloc(location.Host, 0))
	src := b.Alloc(location.Host, 100)
	require.False(t, src.IsNull())
	b.Memset(location.Host, src, 0xAB, 100)
	for _, v := range b.Bytes(src, 100) {
		require.Equal(t, byte(0xAB), v)
	}

	dst := b.Alloc(location.Device, 100)
	b.Copy(backends.HostToDevice, dst, src, 100)
	require.Equal(t, b.Bytes(src, 100), b.Bytes(dst, 100))

	// Everything is host memory, except what was pinned.
	loc, found := b.Locate(dst)
	require.True(t, found)
	require.Equal(t, location.Host, loc)
	pinned := b.Alloc(location.HostPinned, 32)
	loc, _ = b.Locate(pinned.Add(31))
	require.Equal(t, location.HostPinned, loc)

	b.Free(location.Host, src)
	b.Free(location.Device, dst)
	b.Free(location.HostPinned, pinned)
	require.Equal(t, 0, b.LiveBlocks())
	require.Panics(t, func() { b.Free(location.Host, src) })

	_, _, ok := b.DeviceMemInfo()
	require.False(t, ok)
}

func TestAllocTooLarge(t *testing.T) {
	b := newBackend()
	defer b.Finalize()
	for _, size := range []uint64{1 << 62, math.MaxUint64} {
		require.Equal(t, backends.Null, b.Alloc(location.Host, size))
		require.Equal(t, backends.Null, b.Alloc(location.HostPinned, size))
	}
	require.Equal(t, 0, b.LiveBlocks())
}

func TestRealloc(t *testing.T) {
	b := newBackend()
	defer b.Finalize()

	ptr := b.Alloc(location.Host, 8)
	copy(b.Bytes(ptr, 8), []byte("abcdefgh"))
	grown := b.Realloc(location.Host, ptr, 8, 16)
	require.Equal(t, []byte("abcdefgh"), b.Bytes(grown, 8))
	shrunk := b.Realloc(location.Host, grown, 16, 3)
	require.Equal(t, []byte("abc"), b.Bytes(shrunk, 3))
	require.Equal(t, 1, b.LiveBlocks())
}

func TestFill(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 7, 64, 1000} {
		buf := make([]byte, n)
		fill(buf, 0x5A)
		for i, v := range buf {
			require.Equalf(t, byte(0x5A), v, "size %d, index %d", n, i)
		}
		fill(buf, 0)
		for _, v := range buf {
			require.Equal(t, byte(0), v)
		}
	}
}
