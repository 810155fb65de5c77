// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package addrspace

import (
	"math"
	"testing"

	"github.com/gomlx/memspaces/location"
	"github.com/stretchr/testify/require"
)

func newBlock(size int, loc location.Location) *Block {
	buf := make([]byte, size)
	return &Block{Base: AddressOf(buf), Buf: buf, Location: loc, Residency: loc}
}

func TestTable(t *testing.T) {
	table := New()
	a := newBlock(64, location.Host)
	b := newBlock(128, location.Device)
	table.Insert(a)
	table.Insert(b)
	require.Equal(t, 2, table.Len())
	require.Equal(t, uint64(64), table.Bytes(location.Host))
	require.Equal(t, uint64(128), table.Bytes(location.Device))

	// Exact and interior lookups.
	require.Same(t, a, table.Find(a.Base))
	require.Same(t, a, table.Find(a.Base.Add(63)))
	require.Same(t, b, table.Find(b.Base.Add(100)))
	if a.End() != b.Base {
		require.Nil(t, table.Find(a.End()))
	}

	// Views alias the block memory.
	view := table.Slice(b.Base.Add(8), 16)
	require.Len(t, view, 16)
	view[0] = 0xAB
	require.Equal(t, byte(0xAB), b.Buf[8])
	require.Panics(t, func() { table.Slice(b.Base.Add(120), 16) })

	// Overlapping inserts are rejected.
	require.Panics(t, func() { table.Insert(&Block{Base: a.Base, Buf: make([]byte, 8)}) })
	require.Panics(t, func() { table.Insert(&Block{Base: a.Base, Buf: nil}) })

	require.True(t, table.SetResidency(b.Base.Add(1), location.Host))
	require.Equal(t, location.Host, b.Residency)

	require.Same(t, a, table.Remove(a.Base))
	require.Nil(t, table.Remove(a.Base))
	require.Nil(t, table.Find(a.Base))
	require.Equal(t, uint64(0), table.Bytes(location.Host))

	drained := table.Drain()
	require.Len(t, drained, 1)
	require.Equal(t, 0, table.Len())
	require.Equal(t, uint64(0), table.Bytes(location.Device))
}

func TestNewBuffer(t *testing.T) {
	require.Nil(t, NewBuffer(0))
	require.Len(t, NewBuffer(16), 16)
	require.Nil(t, NewBuffer(MaxBlockSize+1))
	require.Nil(t, NewBuffer(1<<62))
	require.Nil(t, NewBuffer(math.MaxUint64))
}
