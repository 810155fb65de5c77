// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package location

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Space is anything that can be resolved to a physical Location: either a concrete Location
// or a Conceptual location.
//
// All operations of the memory layer take a Space and resolve it before executing.
type Space interface {
	fmt.Stringer

	// resolveWith is unexported so the set of Space implementations is closed.
	resolveWith(r Resolver) Location
}

// resolveWith implements Space: a concrete location resolves to itself, or to Host if there is no accelerator.
func (l Location) resolveWith(r Resolver) Location {
	if !r.HasAccelerator && l.Valid() {
		return Host
	}
	return l
}

type conceptKind int

const (
	kindUnset conceptKind = iota
	kindHost
	kindDevice
	kindShared
	kindDefault
)

// Conceptual is a caller-facing location that may be abstract, like "the default execution
// space", and is resolved to a concrete Location by a Resolver.
//
// The zero value is unset and resolves to Undefined.
type Conceptual struct {
	kind conceptKind
}

var (
	// ConceptHost is host memory.
	ConceptHost = Conceptual{kind: kindHost}

	// ConceptDevice is accelerator memory. In host-only configurations it resolves to Host.
	ConceptDevice = Conceptual{kind: kindDevice}

	// ConceptShared is memory visible to both host and accelerator: Unified if the backend supports
	// unified addressing, Device otherwise.
	ConceptShared = Conceptual{kind: kindShared}

	// ConceptDefault is the memory of the default execution space: Device if the default policy
	// is ExecDevice, Host otherwise.
	ConceptDefault = Conceptual{kind: kindDefault}
)

var conceptNames = map[conceptKind]string{
	kindHost:    "host",
	kindDevice:  "device",
	kindShared:  "shared",
	kindDefault: "default",
}

// String implements fmt.Stringer.
func (c Conceptual) String() string {
	if name, found := conceptNames[c.kind]; found {
		return name
	}
	return "unset"
}

// ParseConceptual converts "host", "device", "shared" or "default" to a Conceptual location.
func ParseConceptual(name string) (Conceptual, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for kind, kindName := range conceptNames {
		if kindName == key {
			return Conceptual{kind: kind}, nil
		}
	}
	return Conceptual{}, errors.Errorf("unknown conceptual memory location %q", name)
}

// resolveWith implements Space.
func (c Conceptual) resolveWith(r Resolver) Location {
	if c.kind == kindUnset {
		return Undefined
	}
	if !r.HasAccelerator {
		// Host-only configurations have a single physical space.
		return Host
	}
	switch c.kind {
	case kindHost:
		return Host
	case kindDevice:
		return Device
	case kindShared:
		if r.UnifiedAddressing {
			return Unified
		}
		return Device
	case kindDefault:
		if r.DefaultPolicy == ExecDevice {
			return Device
		}
		return Host
	}
	return Undefined
}

// Resolver maps Space values to physical locations. It is a pure function of its fields,
// which reflect the process-wide configuration: selected backend and default execution policy.
type Resolver struct {
	// HasAccelerator is false for host-only backends.
	HasAccelerator bool

	// UnifiedAddressing is whether the backend can allocate Unified memory.
	UnifiedAddressing bool

	// DefaultPolicy is the configured default execution policy.
	DefaultPolicy Policy
}

// Resolve returns the physical location for s.
//
// It is idempotent: resolving a resolved location returns it unchanged.
func (r Resolver) Resolve(s Space) Location {
	if s == nil {
		return Undefined
	}
	return s.resolveWith(r)
}
