// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simdevice implements a simulated accelerator backend, for tests and development on
// machines without one.
//
// Device and Unified memory live in host RAM, but they are tracked separately from host memory:
// Locate tells them apart, transfers are checked against the direction they claim, device memory is
// bounded by a configurable capacity, and device work (memset, copies, prefetches) is executed on an
// in-order stream, on its own goroutine.
//
// Configuration is a comma-separated list of options, e.g. "sim:capacity=1GiB,unified=false":
//
//   - capacity=<bytes>: device memory capacity (Device plus Unified). Accepts units like "512MiB".
//     Allocations beyond it fail. Default is 16GiB.
//   - unified=<bool>: whether the device supports unified addressing. Default is true.
//   - prefetch_log: log every prefetch.
package simdevice

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/internal/addrspace"
	"github.com/gomlx/memspaces/location"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in MEMSPACES_BACKEND to specify this backend.
const BackendName = "sim"

// DefaultCapacity of the simulated device memory.
const DefaultCapacity = 16 << 30

// Registers New() as the constructor for the "sim" backend.
func init() {
	backends.Register(BackendName, New)
}

// Config of the simulated device.
type Config struct {
	// Capacity in bytes of the device memory, shared by Device and Unified allocations.
	Capacity uint64

	// UnifiedAddressing indicates whether Unified memory is supported.
	UnifiedAddressing bool

	// PrefetchLog logs every prefetch issued.
	PrefetchLog bool
}

// ParseConfig parses the backend configuration string. See package documentation for the options.
func ParseConfig(config string) (Config, error) {
	cfg := Config{
		Capacity:          DefaultCapacity,
		UnifiedAddressing: true,
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "capacity":
			capacity, err := humanize.ParseBytes(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "backend %q: invalid capacity %q", BackendName, value)
			}
			cfg.Capacity = capacity
		case "unified":
			if !hasValue {
				cfg.UnifiedAddressing = true
				continue
			}
			unified, err := strconv.ParseBool(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "backend %q: invalid value for unified %q", BackendName, value)
			}
			cfg.UnifiedAddressing = unified
		case "prefetch_log":
			cfg.PrefetchLog = true
		default:
			return cfg, errors.Errorf("backend %q: unknown configuration option %q in %q", BackendName, key, config)
		}
	}
	return cfg, nil
}

// New constructs a new simulated device Backend from the configuration string.
func New(config string) (backends.Backend, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg), nil
}

// NewFromConfig constructs a new simulated device Backend.
func NewFromConfig(cfg Config) *Backend {
	b := &Backend{
		config: cfg,
		blocks: addrspace.New(),
		stream: newStream(),
	}
	b.capabilities = backends.Capabilities{
		Locations: map[location.Location]bool{
			location.Host:       true,
			location.HostPinned: true,
			location.Device:     true,
			location.Unified:    cfg.UnifiedAddressing,
		},
		Accelerator:       true,
		UnifiedAddressing: cfg.UnifiedAddressing,
		AsyncStream:       true,
	}
	klog.V(1).Infof("%s backend: device capacity %s, unified addressing %v",
		BackendName, humanize.IBytes(cfg.Capacity), cfg.UnifiedAddressing)
	return b
}

// Backend implements backends.Backend with a simulated accelerator.
type Backend struct {
	config       Config
	capabilities backends.Capabilities
	blocks       *addrspace.Table
	stream       *stream

	// allocMu serializes the device capacity check with the insertion of the new block.
	allocMu sync.Mutex

	transfers  [backends.NumTransferKinds]atomic.Int64
	prefetches atomic.Int64
	finalized  atomic.Bool
}

// Compile-time check that simdevice.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simulated accelerator (device memory in host RAM, in-order stream)"
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return b.capabilities.Clone()
}

// Config returns the configuration of the backend.
func (b *Backend) Config() Config {
	return b.config
}

func (b *Backend) checkOk() {
	if b.finalized.Load() {
		exceptions.Panicf("%s backend: used after Finalize()", BackendName)
	}
}

func (b *Backend) deviceUsed() uint64 {
	return b.blocks.Bytes(location.Device) + b.blocks.Bytes(location.Unified)
}

// Alloc allocates size bytes in loc. It returns backends.Null if the device capacity would be exceeded,
// or if loc is Unified and unified addressing is disabled.
func (b *Backend) Alloc(loc location.Location, size uint64) backends.Ptr {
	b.checkOk()
	if size == 0 || !b.capabilities.Supports(loc) {
		return backends.Null
	}
	b.allocMu.Lock()
	defer b.allocMu.Unlock()
	if used := b.deviceUsed(); loc.IsDeviceClass() && (used > b.config.Capacity || size > b.config.Capacity-used) {
		klog.V(2).Infof("%s backend: allocation of %s in %s exceeds device capacity (%s used of %s)",
			BackendName, humanize.IBytes(size), loc, humanize.IBytes(used), humanize.IBytes(b.config.Capacity))
		return backends.Null
	}
	buf := addrspace.NewBuffer(size)
	if buf == nil {
		klog.V(2).Infof("%s backend: can't allocate %d bytes in %s", BackendName, size, loc)
		return backends.Null
	}
	residency := loc
	if loc == location.Unified {
		// Managed memory starts on the host, until touched or prefetched by the device.
		residency = location.Host
	}
	block := &addrspace.Block{
		Base:      addrspace.AddressOf(buf),
		Buf:       buf,
		Location:  loc,
		Residency: residency,
	}
	b.blocks.Insert(block)
	return block.Base
}

// Free releases memory allocated with Alloc. Device memory is only released after the work
// already issued on the stream completes.
func (b *Backend) Free(loc location.Location, ptr backends.Ptr) {
	b.checkOk()
	block := b.blocks.Find(ptr)
	if block == nil || block.Base != ptr {
		exceptions.Panicf("%s backend: Free(%#x, %s) of a pointer that was not allocated (or already freed)",
			BackendName, uintptr(ptr), loc)
	}
	if block.Location != loc {
		exceptions.Panicf("%s backend: Free(%#x, %s) of a block allocated in %s",
			BackendName, uintptr(ptr), loc, block.Location)
	}
	if loc.IsDeviceClass() {
		b.stream.synchronize()
	}
	b.blocks.Remove(ptr)
}

// Realloc moves the block at ptr to a new block of newSize bytes, preserving the first min(oldSize, newSize) bytes.
func (b *Backend) Realloc(loc location.Location, ptr backends.Ptr, oldSize, newSize uint64) backends.Ptr {
	newPtr := b.Alloc(loc, newSize)
	if newPtr.IsNull() {
		return backends.Null
	}
	if n := min(oldSize, newSize); n > 0 {
		dst, src := b.blocks.Slice(newPtr, n), b.blocks.Slice(ptr, n)
		if loc.IsDeviceClass() {
			b.stream.wait(func() { copy(dst, src) })
		} else {
			copy(dst, src)
		}
	}
	b.Free(loc, ptr)
	return newPtr
}

// Locate returns the location where ptr was allocated. Pointers not allocated by this backend
// return (location.Host, false).
func (b *Backend) Locate(ptr backends.Ptr) (location.Location, bool) {
	block := b.blocks.Find(ptr)
	if block == nil {
		return location.Host, false
	}
	return block.Location, true
}

// Residency returns where the data of a block currently lives: for Unified blocks it's the target
// of the last completed prefetch (Host initially), for other blocks it's their location.
func (b *Backend) Residency(ptr backends.Ptr) (location.Location, bool) {
	return b.blocks.Residency(ptr)
}

// DeviceMemInfo returns the device memory in use (Device and Unified) and the configured capacity.
func (b *Backend) DeviceMemInfo() (used, total uint64, ok bool) {
	return b.deviceUsed(), b.config.Capacity, true
}

// Memset fills memory. Device memory is filled asynchronously on the stream.
func (b *Backend) Memset(loc location.Location, ptr backends.Ptr, value byte, size uint64) {
	b.checkOk()
	if size == 0 {
		return
	}
	buf := b.blocks.Slice(ptr, size)
	if !loc.IsDeviceClass() {
		fill(buf, value)
		return
	}
	b.stream.enqueue(func() { fill(buf, value) })
}

// Copy transfers size bytes from src to dst, and waits for it to complete.
// It panics if the pointers are not in the spaces the transfer kind declares.
func (b *Backend) Copy(kind backends.TransferKind, dst, src backends.Ptr, size uint64) {
	b.checkOk()
	if size == 0 {
		return
	}
	b.checkTransfer(kind, dst, src)
	dstBuf, srcBuf := b.blocks.Slice(dst, size), b.blocks.Slice(src, size)
	b.transfers[kind].Add(1)
	if kind == backends.HostToHost {
		copy(dstBuf, srcBuf)
		return
	}
	b.stream.wait(func() { copy(dstBuf, srcBuf) })
}

// isDeviceSide returns whether ptr is device-accessible memory. Unknown pointers are host memory.
func (b *Backend) isDeviceSide(ptr backends.Ptr) bool {
	loc, _ := b.Locate(ptr)
	return loc.IsDeviceClass()
}

func (b *Backend) checkTransfer(kind backends.TransferKind, dst, src backends.Ptr) {
	var wantDst, wantSrc bool
	switch kind {
	case backends.HostToHost:
		wantDst, wantSrc = false, false
	case backends.HostToDevice:
		wantDst, wantSrc = true, false
	case backends.DeviceToHost:
		wantDst, wantSrc = false, true
	case backends.DeviceToDevice:
		wantDst, wantSrc = true, true
	default:
		exceptions.Panicf("%s backend: unknown transfer kind %d", BackendName, kind)
	}
	if b.isDeviceSide(dst) != wantDst || b.isDeviceSide(src) != wantSrc {
		dstLoc, _ := b.Locate(dst)
		srcLoc, _ := b.Locate(src)
		exceptions.Panicf("%s backend: %s transfer from %s (%#x) to %s (%#x)",
			BackendName, kind, srcLoc, uintptr(src), dstLoc, uintptr(dst))
	}
}

// Transfers returns how many copies of the given kind were executed.
func (b *Backend) Transfers(kind backends.TransferKind) int64 {
	return b.transfers[kind].Load()
}

// Prefetch issues the migration of a Unified block to target, and returns immediately.
// Prefetches of non-Unified memory are ignored.
func (b *Backend) Prefetch(ptr backends.Ptr, size uint64, target location.Location) {
	b.checkOk()
	if size == 0 {
		return
	}
	block := b.blocks.Find(ptr)
	if block == nil || block.Location != location.Unified {
		klog.V(2).Infof("%s backend: ignoring prefetch of non-unified memory at %#x", BackendName, uintptr(ptr))
		return
	}
	if target.IsDeviceClass() {
		target = location.Device
	} else {
		target = location.Host
	}
	if b.config.PrefetchLog {
		klog.Infof("%s backend: prefetch %s at %#x to %s", BackendName, humanize.IBytes(size), uintptr(ptr), target)
	}
	b.prefetches.Add(1)
	b.stream.enqueue(func() { b.blocks.SetResidency(ptr, target) })
}

// Prefetches returns how many prefetches were issued.
func (b *Backend) Prefetches() int64 {
	return b.prefetches.Load()
}

// Bytes returns a host view of the memory. Work pending on the stream is completed first.
func (b *Backend) Bytes(ptr backends.Ptr, size uint64) []byte {
	if size == 0 {
		return nil
	}
	if b.isDeviceSide(ptr) && !b.finalized.Load() {
		b.stream.synchronize()
	}
	return b.blocks.Slice(ptr, size)
}

// LiveBlocks returns the number of blocks allocated and not yet freed.
func (b *Backend) LiveBlocks() int {
	return b.blocks.Len()
}

// Synchronize blocks until all work issued on the stream is completed.
func (b *Backend) Synchronize() {
	b.checkOk()
	b.stream.synchronize()
}

// Finalize drains the stream and releases all memory. Further use of the backend panics.
func (b *Backend) Finalize() {
	if b.finalized.Swap(true) {
		return
	}
	b.stream.close()
	blocks := b.blocks.Drain()
	if len(blocks) > 0 {
		klog.V(1).Infof("%s backend: finalized with %d blocks still allocated", BackendName, len(blocks))
	}
}

// fill sets all bytes of buf to value.
func fill(buf []byte, value byte) {
	if len(buf) == 0 {
		return
	}
	buf[0] = value
	for filled := 1; filled < len(buf); filled *= 2 {
		copy(buf[filled:], buf[:filled])
	}
}
