// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/gomlx/memspaces/location"
)

// policyLocation resolves s for a policy query. Unlike Resolve, Unified is kept as is.
func (c *Context) policyLocation(s location.Space) location.Location {
	loc := c.Resolver().Resolve(s)
	if !loc.Valid() {
		c.fatalf(ErrWrongLocation, "wrong memory location %v for an execution policy", s)
	}
	if loc == location.HostPinned {
		return location.Host
	}
	return loc
}

// Policy1 returns the execution policy for data in s: ExecHost for host memory, ExecDevice for
// device memory and the default policy for Unified memory.
func (c *Context) Policy1(s location.Space) location.Policy {
	var policy location.Policy
	switch c.policyLocation(s) {
	case location.Host:
		policy = location.ExecHost
	case location.Device:
		policy = location.ExecDevice
	case location.Unified:
		policy = c.DefaultPolicy()
	}
	if policy == location.ExecUndefined {
		c.fatalf(ErrUndefinedPolicy, "undefined execution policy for memory location %v", s)
	}
	return policy
}

// Policy2 returns the execution policy for an operation over data in a and b.
// It raises ErrUndefinedPolicy if there is none, see TryPolicy2.
func (c *Context) Policy2(a, b location.Space) location.Policy {
	policy := c.TryPolicy2(a, b)
	if policy == location.ExecUndefined {
		c.fatalf(ErrUndefinedPolicy, "undefined execution policy for memory locations %v and %v", a, b)
	}
	return policy
}

// TryPolicy2 returns the execution policy for an operation over data in a and b, or ExecUndefined:
//
//   - Host with Device, or Unified with Device: ExecUndefined.
//   - Unified with Unified: the default policy.
//   - Host with anything else: ExecHost.
//   - Device with Device: ExecDevice.
//
// HostPinned counts as Host.
func (c *Context) TryPolicy2(a, b location.Space) location.Policy {
	return policy2(c.policyLocation(a), c.policyLocation(b), c.DefaultPolicy())
}

func policy2(a, b location.Location, defaultPolicy location.Policy) location.Policy {
	mixed := func(x, y location.Location) bool {
		return (a == x && b == y) || (a == y && b == x)
	}
	switch {
	case mixed(location.Host, location.Device):
		return location.ExecUndefined
	case mixed(location.Unified, location.Device):
		return location.ExecUndefined
	case a == location.Unified && b == location.Unified:
		return defaultPolicy
	case a == location.Host || b == location.Host:
		return location.ExecHost
	case a == location.Device || b == location.Device:
		return location.ExecDevice
	}
	return location.ExecUndefined
}
