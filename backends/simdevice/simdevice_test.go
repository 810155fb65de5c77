// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/internal/event"
	"github.com/gomlx/memspaces/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	require.Equal(t, Config{Capacity: DefaultCapacity, UnifiedAddressing: true}, cfg)

	cfg, err = ParseConfig("capacity=1MiB, unified=false,prefetch_log")
	require.NoError(t, err)
	require.Equal(t, Config{Capacity: 1 << 20, UnifiedAddressing: false, PrefetchLog: true}, cfg)

	cfg, err = ParseConfig("capacity=4096")
	require.NoError(t, err)
	require.Equal(t, uint64(4096), cfg.Capacity)

	for _, bad := range []string{"capacity=lots", "unified=maybe", "speed=fast"} {
		_, err = ParseConfig(bad)
		require.Errorf(t, err, "config %q should fail", bad)
	}

	backend, err := backends.NewWithConfig(BackendName + ":capacity=2KiB")
	require.NoError(t, err)
	defer backend.Finalize()
	require.True(t, backend.Capabilities().Accelerator)
	_, total, ok := backend.DeviceMemInfo()
	require.True(t, ok)
	require.Equal(t, uint64(2048), total)
}

func TestLocate(t *testing.T) {
	b := NewFromConfig(Config{Capacity: DefaultCapacity, UnifiedAddressing: true})
	defer b.Finalize()

	for _, loc := range location.Concrete {
		ptr := b.Alloc(loc, 64)
		require.False(t, ptr.IsNull())
		got, found := b.Locate(ptr.Add(10))
		require.True(t, found)
		require.Equal(t, loc, got)
	}

	got, found := b.Locate(backends.Ptr(0x10))
	require.False(t, found)
	require.Equal(t, location.Host, got)
}

func TestCapacity(t *testing.T) {
	b := NewFromConfig(Config{Capacity: 1000, UnifiedAddressing: true})
	defer b.Finalize()

	d := b.Alloc(location.Device, 600)
	require.False(t, d.IsNull())
	require.True(t, b.Alloc(location.Unified, 600).IsNull())
	u := b.Alloc(location.Unified, 400)
	require.False(t, u.IsNull())

	// Host memory is not bounded by the device capacity.
	h := b.Alloc(location.Host, 10_000)
	require.False(t, h.IsNull())

	used, _, _ := b.DeviceMemInfo()
	require.Equal(t, uint64(1000), used)
	b.Free(location.Device, d)
	used, _, _ = b.DeviceMemInfo()
	require.Equal(t, uint64(400), used)
	require.False(t, b.Alloc(location.Device, 600).IsNull())

	// Sizes that would wrap around the capacity check, or that Go can't allocate.
	require.True(t, b.Alloc(location.Device, math.MaxUint64-100).IsNull())
	require.True(t, b.Alloc(location.Host, 1<<62).IsNull())
	used, _, _ = b.DeviceMemInfo()
	require.Equal(t, uint64(1000), used)

	noUnified := NewFromConfig(Config{Capacity: 1000})
	defer noUnified.Finalize()
	require.True(t, noUnified.Alloc(location.Unified, 8).IsNull())
}

func TestCopyDirections(t *testing.T) {
	b := NewFromConfig(Config{Capacity: DefaultCapacity, UnifiedAddressing: true})
	defer b.Finalize()

	host := b.Alloc(location.Host, 16)
	dev := b.Alloc(location.Device, 16)
	dev2 := b.Alloc(location.Device, 16)
	copy(b.Bytes(host, 16), "0123456789abcdef")

	b.Copy(backends.HostToDevice, dev, host, 16)
	b.Copy(backends.DeviceToDevice, dev2, dev, 16)
	b.Memset(location.Host, host, 0, 16)
	b.Copy(backends.DeviceToHost, host, dev2, 16)
	require.Equal(t, "0123456789abcdef", string(b.Bytes(host, 16)))

	assert.Equal(t, int64(1), b.Transfers(backends.HostToDevice))
	assert.Equal(t, int64(1), b.Transfers(backends.DeviceToDevice))
	assert.Equal(t, int64(1), b.Transfers(backends.DeviceToHost))
	assert.Equal(t, int64(0), b.Transfers(backends.HostToHost))

	// Transfers that lie about their direction are rejected.
	require.Panics(t, func() { b.Copy(backends.HostToDevice, host, dev, 16) })
	require.Panics(t, func() { b.Copy(backends.HostToHost, dev, host, 16) })
	require.Panics(t, func() { b.Copy(backends.DeviceToHost, dev, dev2, 16) })
}

func TestStreamOrdering(t *testing.T) {
	b := NewFromConfig(Config{Capacity: DefaultCapacity, UnifiedAddressing: true})
	defer b.Finalize()

	const size = 1 << 16
	dev := b.Alloc(location.Device, size)
	host := b.Alloc(location.Host, size)
	for i := range 10 {
		b.Memset(location.Device, dev, byte(i), size)
	}
	// The copy is ordered after all the memsets.
	b.Copy(backends.DeviceToHost, host, dev, size)
	for _, v := range b.Bytes(host, size) {
		require.Equal(t, byte(9), v)
	}
}

func TestStreamRecord(t *testing.T) {
	s := newStream()
	gate := event.New()
	s.enqueue(gate.Wait)
	s.enqueue(func() {})
	require.Eventually(t, func() bool { return s.pending() == 1 }, 5*time.Second, time.Millisecond)

	recorded := s.record()
	require.False(t, recorded.WaitFor(10*time.Millisecond), "event fired before the work issued earlier")
	require.Equal(t, 2, s.pending())
	gate.Fire()
	recorded.Wait()
	require.Zero(t, s.pending())

	s.close()
	s.close()
	// Work recorded after close runs inline.
	require.True(t, s.record().WaitFor(0))
}

func TestPrefetchResidency(t *testing.T) {
	b := NewFromConfig(Config{Capacity: DefaultCapacity, UnifiedAddressing: true, PrefetchLog: true})
	defer b.Finalize()

	u := b.Alloc(location.Unified, 128)
	residency, found := b.Residency(u)
	require.True(t, found)
	require.Equal(t, location.Host, residency)

	b.Prefetch(u, 128, location.Device)
	b.Synchronize()
	residency, _ = b.Residency(u.Add(64))
	require.Equal(t, location.Device, residency)

	b.Prefetch(u, 128, location.Host)
	b.Synchronize()
	residency, _ = b.Residency(u)
	require.Equal(t, location.Host, residency)
	require.Equal(t, int64(2), b.Prefetches())

	// Prefetch of non-unified memory is ignored.
	d := b.Alloc(location.Device, 8)
	b.Prefetch(d, 8, location.Host)
	b.Synchronize()
	residency, _ = b.Residency(d)
	require.Equal(t, location.Device, residency)
	require.Equal(t, int64(2), b.Prefetches())
}

func TestConcurrentUse(t *testing.T) {
	b := NewFromConfig(Config{Capacity: DefaultCapacity, UnifiedAddressing: true})
	defer b.Finalize()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host := b.Alloc(location.Host, 256)
			dev := b.Alloc(location.Device, 256)
			b.Memset(location.Host, host, byte(i), 256)
			b.Copy(backends.HostToDevice, dev, host, 256)
			b.Memset(location.Host, host, 0xFF, 256)
			b.Copy(backends.DeviceToHost, host, dev, 256)
			for _, v := range b.Bytes(host, 256) {
				assert.Equal(t, byte(i), v)
			}
			b.Free(location.Device, dev)
			b.Free(location.Host, host)
		}()
	}
	wg.Wait()
	require.Equal(t, 0, b.LiveBlocks())
}

func TestFreeAndFinalize(t *testing.T) {
	b := NewFromConfig(Config{Capacity: DefaultCapacity, UnifiedAddressing: true})
	dev := b.Alloc(location.Device, 32)
	require.Panics(t, func() { b.Free(location.Host, dev) })
	require.Panics(t, func() { b.Free(location.Device, dev.Add(1)) })
	b.Free(location.Device, dev)
	require.Panics(t, func() { b.Free(location.Device, dev) })

	_ = b.Alloc(location.Unified, 32)
	b.Finalize()
	require.Equal(t, 0, b.LiveBlocks())
	b.Finalize() // No-op.
	require.Panics(t, func() { b.Alloc(location.Host, 8) })
}
