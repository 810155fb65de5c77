// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"

	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
	"k8s.io/klog/v2"
)

// transfer is the primitive used to copy between two locations.
type transfer int

const (
	transferUndefined transfer = iota

	// transferLocal is a plain memory copy on the host, without the backend.
	transferLocal

	transferHostToDevice
	transferDeviceToHost
	transferDeviceToDevice
)

var transferKinds = map[transfer]backends.TransferKind{
	transferHostToDevice:   backends.HostToDevice,
	transferDeviceToHost:   backends.DeviceToHost,
	transferDeviceToDevice: backends.DeviceToDevice,
}

// String implements fmt.Stringer.
func (t transfer) String() string {
	if t == transferLocal {
		return "Local"
	}
	if kind, found := transferKinds[t]; found {
		return kind.String()
	}
	return "Undefined"
}

// copyRules are matched in order, the first one to match selects the transfer.
// Unified rules come before Device rules.
var copyRules = []struct {
	name     string
	match    func(dst, src location.Location) bool
	transfer transfer
}{
	{"host-class to host-class", func(dst, src location.Location) bool {
		return dst.IsHostClass() && src.IsHostClass()
	}, transferLocal},
	{"device-class to device-class", func(dst, src location.Location) bool {
		return dst.IsDeviceClass() && src.IsDeviceClass()
	}, transferDeviceToDevice},
	{"host-class to unified", func(dst, src location.Location) bool {
		return dst == location.Unified && src.IsHostClass()
	}, transferHostToDevice},
	{"unified to host-class", func(dst, src location.Location) bool {
		return dst.IsHostClass() && src == location.Unified
	}, transferDeviceToHost},
	{"host-class to device", func(dst, src location.Location) bool {
		return dst == location.Device && src.IsHostClass()
	}, transferHostToDevice},
	{"device to host-class", func(dst, src location.Location) bool {
		return dst.IsHostClass() && src == location.Device
	}, transferDeviceToHost},
	{"device to device", func(dst, src location.Location) bool {
		return dst == location.Device && src == location.Device
	}, transferDeviceToDevice},
}

// numLocations is the size of the copy table dimensions, indexed by location.Location.
const numLocations = int(location.Unified) + 1

// copyTable[dst][src] is the transfer for each pair of concrete locations.
var copyTable = buildCopyTable()

// buildCopyTable applies copyRules to every pair of concrete locations, and panics if any pair
// is left without a transfer.
func buildCopyTable() (table [numLocations][numLocations]transfer) {
	for _, dst := range location.Concrete {
		for _, src := range location.Concrete {
			for _, rule := range copyRules {
				if rule.match(dst, src) {
					table[dst][src] = rule.transfer
					break
				}
			}
			if table[dst][src] == transferUndefined {
				panic(fmt.Sprintf("memory: no copy rule for %s <- %s", dst, src))
			}
		}
	}
	return
}

// lookupTransfer returns the transfer for copying from src to dst, or transferUndefined.
func lookupTransfer(dst, src location.Location) transfer {
	if !dst.Valid() || !src.Valid() {
		return transferUndefined
	}
	return copyTable[dst][src]
}

// Copy copies size bytes from src, in srcLoc, to dst, in dstLoc.
//
// A zero size, or dst equal to src, is a no-op. A null dst or src is logged and ignored.
// In debug mode, both pointers are checked to be in their claimed locations.
// Copies return once the data is available at dst.
func (c *Context) Copy(dst backends.Ptr, dstLoc location.Space, src backends.Ptr, srcLoc location.Space, size uint64) {
	if size == 0 {
		return
	}
	if dst.IsNull() || src.IsNull() {
		klog.Warningf("memspaces: Copy of %d bytes with a null pointer (dst=%#x, src=%#x) ignored",
			size, uintptr(dst), uintptr(src))
		return
	}
	if dst == src {
		return
	}
	c.checkOk()
	dstResolved, srcResolved := c.Resolve(dstLoc), c.Resolve(srcLoc)
	c.checkLocation(dst, dstResolved)
	c.checkLocation(src, srcResolved)

	t := lookupTransfer(dstResolved, srcResolved)
	switch t {
	case transferLocal:
		copy(c.backend.Bytes(dst, size), c.backend.Bytes(src, size))
	case transferHostToDevice, transferDeviceToHost, transferDeviceToDevice:
		c.backend.Copy(transferKinds[t], dst, src, size)
	default:
		c.fatalf(ErrWrongLocation, "unrecognized memory location in copy from %s to %s", srcResolved, dstResolved)
	}
}
