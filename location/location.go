// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package location defines the vocabulary of "where data lives": the physical memory
// spaces (Location), the caller-facing conceptual spaces (Conceptual) that are resolved
// to a physical one, and the execution domain (Policy) allowed to operate on data.
package location

import (
	"strings"

	"github.com/pkg/errors"
)

// Location is a physical memory space.
//
// Every allocation is associated with exactly one concrete Location for its whole lifetime.
type Location int

const (
	// Undefined is the sentinel for "no location": it must never reach an allocation, copy or policy query.
	Undefined Location = iota

	// Host is ordinary, pageable host RAM.
	Host

	// HostPinned is page-locked host RAM, registered with the accelerator runtime for DMA transfers.
	HostPinned

	// Device is discrete accelerator memory, not addressable by the host.
	Device

	// Unified is managed memory, addressable by both host and accelerator, migrated on demand.
	Unified
)

// Concrete lists the four physical locations, in enumeration order.
var Concrete = []Location{Host, HostPinned, Device, Unified}

var locationNames = map[Location]string{
	Host:       "HOST",
	HostPinned: "HOST PINNED",
	Device:     "DEVICE",
	Unified:    "UNIFIED",
}

// String returns the human-readable name of the location, e.g. "HOST PINNED".
// Undefined and out-of-range values return "".
func (l Location) String() string {
	return locationNames[l]
}

// Valid returns whether l is one of the four concrete locations.
func (l Location) Valid() bool {
	return l >= Host && l <= Unified
}

// IsHostClass returns whether l is Host or HostPinned.
func (l Location) IsHostClass() bool {
	return l == Host || l == HostPinned
}

// IsDeviceClass returns whether l is Device or Unified.
func (l Location) IsDeviceClass() bool {
	return l == Device || l == Unified
}

// ParseLocation converts a name to a Location. It is case-insensitive and accepts the names
// returned by Location.String as well as "host_pinned", "pinned" and "managed".
func ParseLocation(name string) (Location, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", " ", "_", " ").Replace(key)
	switch key {
	case "host":
		return Host, nil
	case "host pinned", "pinned":
		return HostPinned, nil
	case "device":
		return Device, nil
	case "unified", "managed":
		return Unified, nil
	}
	return Undefined, errors.Errorf("unknown memory location %q", name)
}

// MarshalText implements encoding.TextMarshaler, so locations can be used in configuration files.
func (l Location) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, errors.Errorf("cannot marshal undefined memory location %d", int(l))
	}
	return []byte(strings.ReplaceAll(strings.ToLower(l.String()), " ", "_")), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Location) UnmarshalText(text []byte) error {
	parsed, err := ParseLocation(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
