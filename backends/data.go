// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/gomlx/memspaces/location"

// TransferKind is the direction of a copy, as understood by the accelerator runtime.
type TransferKind int

//go:generate go tool enumer -type TransferKind -output=gen_transferkind_enumer.go data.go

const (
	// HostToHost copies between host-class memory.
	HostToHost TransferKind = iota

	// HostToDevice copies from host-class memory into device-class memory.
	HostToDevice

	// DeviceToHost copies from device-class memory into host-class memory.
	DeviceToHost

	// DeviceToDevice copies between device-class memory.
	DeviceToDevice
)

// NumTransferKinds is the number of valid transfer kinds.
const NumTransferKinds = int(DeviceToDevice) + 1

// DataInterface is the Backend's sub-interface that fills and moves data.
type DataInterface interface {
	// Memset sets size bytes starting at ptr, allocated in loc, to value.
	// Device work may be queued on the backend stream, but it is ordered with later copies.
	Memset(loc location.Location, ptr Ptr, value byte, size uint64)

	// Copy transfers size bytes from src to dst. It returns when the data is available at dst.
	Copy(kind TransferKind, dst, src Ptr, size uint64)

	// Prefetch migrates the unified memory at ptr towards target (location.Host or location.Device).
	// It is fire-and-forget: it may return before the migration happened.
	Prefetch(ptr Ptr, size uint64, target location.Location)

	// Bytes returns a host view of size bytes starting at ptr.
	//
	// For host-class memory this is the memory itself. For device-class memory it is only available
	// in backends that can map device memory on the host (the simulated one), and it panics otherwise.
	// The returned slice becomes invalid after the memory is freed.
	Bytes(ptr Ptr, size uint64) []byte
}
