// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/gomlx/memspaces/location"
)

// Capabilities holds what is supported by a backend.
type Capabilities struct {
	// Locations the backend can allocate natively.
	// If not listed, it's assumed to be false, hence not supported.
	Locations map[location.Location]bool

	// Accelerator is whether there is an accelerator behind the backend. Host-only backends
	// have a single physical space, and every pointer is reported as host memory.
	Accelerator bool

	// UnifiedAddressing is whether the backend can allocate memory addressable by both host and device.
	UnifiedAddressing bool

	// AsyncStream is whether device work may be queued on an asynchronous stream, in which case
	// Synchronize is needed to observe its completion from the host.
	AsyncStream bool
}

// Supports returns whether the backend can allocate memory in loc.
func (c Capabilities) Supports(loc location.Location) bool {
	return c.Locations[loc]
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	c2 := c
	c2.Locations = make(map[location.Location]bool, len(c.Locations))
	maps.Copy(c2.Locations, c.Locations)
	return c2
}
