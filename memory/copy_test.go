// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"testing"

	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
	"github.com/stretchr/testify/require"
)

func TestCopyTable(t *testing.T) {
	var (
		H = location.Host
		P = location.HostPinned
		D = location.Device
		U = location.Unified
	)
	want := map[[2]location.Location]transfer{
		{H, H}: transferLocal, {H, P}: transferLocal, {P, H}: transferLocal, {P, P}: transferLocal,
		{D, D}: transferDeviceToDevice, {D, U}: transferDeviceToDevice,
		{U, D}: transferDeviceToDevice, {U, U}: transferDeviceToDevice,
		{U, H}: transferHostToDevice, {U, P}: transferHostToDevice,
		{D, H}: transferHostToDevice, {D, P}: transferHostToDevice,
		{H, U}: transferDeviceToHost, {P, U}: transferDeviceToHost,
		{H, D}: transferDeviceToHost, {P, D}: transferDeviceToHost,
	}
	require.Len(t, want, 16)
	for pair, transfer := range want {
		dst, src := pair[0], pair[1]
		require.Equalf(t, transfer, lookupTransfer(dst, src), "copy %s <- %s", dst, src)
	}
	require.Equal(t, transferUndefined, lookupTransfer(location.Undefined, H))
	require.Equal(t, transferUndefined, lookupTransfer(H, location.Location(9)))
	require.Equal(t, "DeviceToHost", transferDeviceToHost.String())
	require.Equal(t, "Local", transferLocal.String())
}

func TestCopyDispatch(t *testing.T) {
	ctx, sim := newSimContext(t, "", Config{})
	const size = 32
	dsts := make(map[location.Location]backends.Ptr)
	srcs := make(map[location.Location]backends.Ptr)
	for _, loc := range location.Concrete {
		dsts[loc] = ctx.MAlloc(size, loc)
		srcs[loc] = ctx.MAlloc(size, loc)
	}

	for _, dst := range location.Concrete {
		for _, src := range location.Concrete {
			before := make(map[backends.TransferKind]int64)
			for _, kind := range backends.TransferKindValues() {
				before[kind] = sim.Transfers(kind)
			}
			ctx.Copy(dsts[dst], dst, srcs[src], src, size)

			expected := lookupTransfer(dst, src)
			for _, kind := range backends.TransferKindValues() {
				delta := sim.Transfers(kind) - before[kind]
				if expected != transferLocal && kind == transferKinds[expected] {
					require.Equalf(t, int64(1), delta, "copy %s <- %s should use %s", dst, src, kind)
				} else {
					require.Equalf(t, int64(0), delta, "copy %s <- %s shouldn't use %s", dst, src, kind)
				}
			}
		}
	}
	// Local copies don't go through the backend at all.
	require.Equal(t, int64(0), sim.Transfers(backends.HostToHost))
}

func TestCopyNoOps(t *testing.T) {
	ctx, sim := newSimContext(t, "", Config{})
	dev := ctx.MAlloc(16, location.Device)
	hostPtr := ctx.MAlloc(16, location.Host)
	before := sim.Transfers(backends.HostToDevice)

	ctx.Copy(dev, location.Device, hostPtr, location.Host, 0)
	ctx.Copy(backends.Null, location.Device, hostPtr, location.Host, 16)
	ctx.Copy(dev, location.Device, backends.Null, location.Host, 16)
	ctx.Copy(dev, location.Device, dev, location.Device, 16)
	// Same address is a no-op even with inconsistent locations.
	ctx.Copy(dev, location.Device, dev, location.Host, 16)
	require.Equal(t, before, sim.Transfers(backends.HostToDevice))
	require.Equal(t, int64(0), sim.Transfers(backends.DeviceToDevice))

	requireFatal(t, ErrWrongLocation, func() { ctx.Copy(dev, location.Undefined, hostPtr, location.Host, 16) })
}

func TestCopyOverlapping(t *testing.T) {
	ctx := newHostContext(t, Config{})
	ptr := upload(t, ctx, []byte("abcdefgh"), location.Host)
	ctx.Copy(ptr.Add(2), location.Host, ptr, location.Host, 4)
	require.Equal(t, []byte("ababcdgh"), ctx.Backend().Bytes(ptr, 8))
}
