// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memory implements the heterogeneous memory layer: allocation routing, copies across
// memory locations, execution policy resolution and pointer location checks, all held by a Context.
//
// A Context is created with New, used by any number of goroutines, and released once with Finalize.
// Operations don't return errors: fatal conditions (out of memory, unrecognized locations, undefined
// execution policies, location mismatches in debug mode) are logged and raised as a panic with a
// *FatalError, or abort the process if the Context is configured with AbortOnFatal.
package memory

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
	"github.com/gomlx/memspaces/pool"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AllocFunc is a user-supplied allocator for Device memory. It returns backends.Null on failure.
type AllocFunc func(size uint64) backends.Ptr

// FreeFunc releases memory allocated by the matching AllocFunc.
type FreeFunc func(ptr backends.Ptr)

// Context holds the process-wide state of the memory layer: the backend, the default
// execution policy, the user device allocator hooks and the pools.
//
// It is safe for concurrent use.
type Context struct {
	backend     backends.Backend
	ownsBackend bool
	caps        backends.Capabilities
	pools       *pool.Manager

	abortOnFatal bool
	debug        atomic.Bool

	mu          sync.RWMutex
	resolver    location.Resolver
	deviceAlloc AllocFunc
	deviceFree  FreeFunc

	finalized atomic.Bool
}

type options struct {
	backend  backends.Backend
	registry *pool.Registry
}

// Option for New.
type Option func(opts *options)

// WithBackend uses the given backend instead of creating one from Config.Backend.
// The backend is owned by the caller: Finalize doesn't finalize it.
func WithBackend(backend backends.Backend) Option {
	return func(opts *options) { opts.backend = backend }
}

// WithRegistry registers and looks up pools in registry, instead of pool.Global().
func WithRegistry(registry *pool.Registry) Option {
	return func(opts *options) { opts.registry = registry }
}

// New creates a Context with the given configuration.
func New(cfg Config, opts ...Option) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{registry: pool.Global()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Context{
		backend:      o.backend,
		abortOnFatal: cfg.AbortOnFatal,
	}
	if c.backend == nil {
		var err error
		if cfg.Backend != "" {
			c.backend, err = backends.NewWithConfig(cfg.Backend)
		} else {
			c.backend, err = backends.New()
		}
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create memory context")
		}
		c.ownsBackend = true
	}
	c.caps = c.backend.Capabilities()
	c.debug.Store(cfg.Debug)

	policy := cfg.DefaultPolicy
	if policy == location.ExecUndefined {
		policy = location.ExecHost
		if c.caps.Accelerator {
			policy = location.ExecDevice
		}
	}
	c.resolver = location.Resolver{
		HasAccelerator:    c.caps.Accelerator,
		UnifiedAddressing: c.caps.UnifiedAddressing,
		DefaultPolicy:     policy,
	}

	c.pools = pool.NewManager(o.registry, c.backend)
	if err := c.configurePools(cfg); err != nil {
		if c.ownsBackend {
			c.backend.Finalize()
		}
		return nil, err
	}
	klog.V(1).Infof("memspaces: using backend %q (%s), accelerator=%v, default policy %s",
		c.backend.Name(), c.backend.Description(), c.caps.Accelerator, policy)
	return c, nil
}

// configurePools applies the pool settings of the configuration over the defaults.
func (c *Context) configurePools(cfg Config) error {
	for loc, settings := range cfg.Pools {
		merged := pool.DefaultSettings(loc)
		merged.Enabled = settings.Enabled
		if settings.Name != "" {
			merged.Name = settings.Name
		}
		if settings.CapacityBytes != 0 {
			merged.CapacityBytes = settings.CapacityBytes
		}
		if settings.BlockSize != 0 {
			merged.BlockSize = settings.BlockSize
		}
		if err := c.pools.Configure(loc, merged); err != nil {
			return err
		}
	}
	if cfg.DisableCaching {
		return c.pools.SetCachingParams(nil)
	}
	if cfg.Caching != nil {
		return c.pools.SetCachingParams(cfg.Caching)
	}
	return nil
}

// Backend used by the Context.
func (c *Context) Backend() backends.Backend { return c.backend }

// Pools returns the pool manager of the Context.
func (c *Context) Pools() *pool.Manager { return c.pools }

// HasAccelerator returns whether the backend has an accelerator.
// Without one, every conceptual location resolves to location.Host.
func (c *Context) HasAccelerator() bool { return c.caps.Accelerator }

// Debug returns whether pointer location checks are enabled.
func (c *Context) Debug() bool { return c.debug.Load() }

// SetDebug enables or disables the pointer location checks.
func (c *Context) SetDebug(debug bool) { c.debug.Store(debug) }

// checkOk raises ErrFinalized if the Context was finalized.
func (c *Context) checkOk() {
	if c.finalized.Load() {
		c.fatalf(ErrFinalized, "memory context used after Finalize()")
	}
}

// SetDefaultPolicy sets the default execution policy: it changes Policy1(location.Unified) and
// the resolution of location.ConceptDefault. Only ExecHost or ExecDevice are accepted.
func (c *Context) SetDefaultPolicy(policy location.Policy) {
	if policy != location.ExecHost && policy != location.ExecDevice {
		c.fatalf(ErrUndefinedPolicy, "invalid default execution policy %s", policy)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver.DefaultPolicy = policy
}

// DefaultPolicy returns the default execution policy.
func (c *Context) DefaultPolicy() location.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver.DefaultPolicy
}

// Resolver returns a copy of the current location resolver.
func (c *Context) Resolver() location.Resolver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver
}

// Resolve returns the physical location where memory for s is allocated.
//
// Unified memory is served as Device memory by backends without unified addressing.
// It raises ErrWrongLocation if s doesn't resolve to a concrete location.
func (c *Context) Resolve(s location.Space) location.Location {
	loc := c.Resolver().Resolve(s)
	if !loc.Valid() {
		c.fatalf(ErrWrongLocation, "unrecognized memory location %v", s)
	}
	if loc == location.Unified && c.caps.Accelerator && !c.caps.UnifiedAddressing {
		return location.Device
	}
	return loc
}

// SetDeviceAllocator registers a user allocator for Device memory, used instead of pools and of the
// backend. Both functions must be given, or both nil to clear them.
func (c *Context) SetDeviceAllocator(alloc AllocFunc, free FreeFunc) error {
	if (alloc == nil) != (free == nil) {
		return errors.New("device allocator hooks must be set together: both alloc and free, or neither")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceAlloc, c.deviceFree = alloc, free
	return nil
}

// ClearDeviceAllocator removes the user Device allocator.
func (c *Context) ClearDeviceAllocator() {
	_ = c.SetDeviceAllocator(nil, nil)
}

func (c *Context) deviceHooks() (AllocFunc, FreeFunc) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceAlloc, c.deviceFree
}

// checkConcrete raises ErrWrongLocation if loc is not a concrete location.
func (c *Context) checkConcrete(loc location.Location) {
	if !loc.Valid() {
		c.fatalf(ErrWrongLocation, "unrecognized memory location %d", int(loc))
	}
}

// EnablePooling enables or disables pooled allocation for loc.
func (c *Context) EnablePooling(loc location.Location, enabled bool) {
	c.checkConcrete(loc)
	c.pools.Enable(loc, enabled)
}

// SetPoolCapacity sets the capacity in bytes of the pool for loc.
func (c *Context) SetPoolCapacity(loc location.Location, bytes uint64) {
	c.checkConcrete(loc)
	c.pools.SetCapacity(loc, bytes)
}

// PoolCapacity returns the capacity in bytes of the pool for loc.
func (c *Context) PoolCapacity(loc location.Location) uint64 {
	c.checkConcrete(loc)
	return c.pools.Capacity(loc)
}

// SetPoolBlockSize sets the allocation granularity of the pool for loc.
func (c *Context) SetPoolBlockSize(loc location.Location, bytes uint64) {
	c.checkConcrete(loc)
	c.pools.SetBlockSize(loc, bytes)
}

// PoolBlockSize returns the allocation granularity of the pool for loc.
func (c *Context) PoolBlockSize(loc location.Location) uint64 {
	c.checkConcrete(loc)
	return c.pools.BlockSize(loc)
}

// SetPoolName sets the name of the pool for loc, at most pool.MaxNameLength bytes long.
// If a pool with that name already exists when first needed, it is shared instead of created.
func (c *Context) SetPoolName(loc location.Location, name string) error {
	c.checkConcrete(loc)
	return c.pools.SetName(loc, name)
}

// PoolName returns the name of the pool for loc.
func (c *Context) PoolName(loc location.Location) string {
	c.checkConcrete(loc)
	return c.pools.Name(loc)
}

// SetCachingParams configures the caching of freed blocks in pools created later:
// bins of binGrowth^k bytes for k in [minBin, maxBin], holding at most maxCachedBytes.
func (c *Context) SetCachingParams(binGrowth, minBin, maxBin uint, maxCachedBytes uint64) error {
	return c.pools.SetCachingParams(&pool.CachingParams{
		BinGrowth:      binGrowth,
		MinBin:         minBin,
		MaxBin:         maxBin,
		MaxCachedBytes: maxCachedBytes,
	})
}

// Synchronize waits for all work issued on the backend stream to complete.
func (c *Context) Synchronize() {
	c.checkOk()
	c.backend.Synchronize()
}

// Finalize releases the pools owned by the Context, and finalizes the backend if it was created by New.
// The Context can't be used afterwards. Calling Finalize more than once is a no-op.
func (c *Context) Finalize() error {
	if c.finalized.Swap(true) {
		return nil
	}
	var result *multierror.Error
	if err := c.pools.ReleaseAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.ownsBackend {
		if err := exceptions.TryCatch[error](c.backend.Finalize); err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "finalizing backend %q", c.backend.Name()))
		}
	}
	klog.V(1).Infof("memspaces: context finalized")
	return result.ErrorOrNil()
}
