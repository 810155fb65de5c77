// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pool

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/memspaces/backends"
	"github.com/gomlx/memspaces/location"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultCapacity of a pool, in bytes.
	DefaultCapacity = 4 << 30

	// DefaultBlockSize of a pool, in bytes.
	DefaultBlockSize = 512
)

// DefaultNames of the pools of each location.
var DefaultNames = map[location.Location]string{
	location.Host:       "MEMSPACES_HOST_POOL",
	location.HostPinned: "MEMSPACES_PINNED_POOL",
	location.Device:     "MEMSPACES_DEVICE_POOL",
	location.Unified:    "MEMSPACES_UM_POOL",
}

// Settings of the pool of one location.
type Settings struct {
	Enabled       bool   `json:"enabled"`
	Name          string `json:"name,omitempty"`
	CapacityBytes uint64 `json:"capacity_bytes,omitempty"`
	BlockSize     uint64 `json:"block_size,omitempty"`
}

// DefaultSettings returns the settings of a disabled pool for loc, with default name, capacity and block size.
func DefaultSettings(loc location.Location) Settings {
	return Settings{
		Name:          DefaultNames[loc],
		CapacityBytes: DefaultCapacity,
		BlockSize:     DefaultBlockSize,
	}
}

// State of the pool of one location, as seen by its Manager.
type State int

//go:generate go tool enumer -type State -output=gen_state_enumer.go manager.go

const (
	// Unallocated: the pool has not been needed yet.
	Unallocated State = iota

	// Owned: the pool was created by this Manager, which is responsible for releasing it.
	Owned

	// Shared: the pool already existed in the registry, and is used but never released by this Manager.
	Shared

	// Released: the Manager was released, and the pool can't be used anymore.
	Released
)

// Usage of one pool.
type Usage struct {
	Name      string
	Location  location.Location
	Current   uint64
	HighWater uint64
	Owned     bool
}

type slot struct {
	settings Settings
	state    State
	pool     *Pool
}

// Manager lazily creates at most one pool per location, and releases the pools it owns exactly once.
// It is safe for concurrent use.
type Manager struct {
	registry *Registry
	upstream Upstream

	mu      sync.Mutex
	caching *CachingParams
	slots   map[location.Location]*slot
}

// NewManager creates a Manager whose pools are registered in registry and carve memory from upstream.
// Pooling starts disabled for all locations, and caching of freed blocks uses DefaultCachingParams.
func NewManager(registry *Registry, upstream Upstream) *Manager {
	caching := DefaultCachingParams
	m := &Manager{
		registry: registry,
		upstream: upstream,
		caching:  &caching,
		slots:    make(map[location.Location]*slot, len(location.Concrete)),
	}
	for _, loc := range location.Concrete {
		m.slots[loc] = &slot{settings: DefaultSettings(loc)}
	}
	return m
}

// lockedSlot returns the slot for loc, or panics if loc is not a concrete location.
func (m *Manager) lockedSlot(loc location.Location) *slot {
	s := m.slots[loc]
	if s == nil {
		exceptions.Panicf("pool manager: invalid location %d", int(loc))
	}
	return s
}

func (m *Manager) update(loc location.Location, fn func(s *slot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.lockedSlot(loc)
	if s.state != Unallocated {
		klog.Warningf("pool manager: pool for %s is already %s, new settings only apply to pools created later",
			loc, s.state)
	}
	fn(s)
}

// Enable or disable pooling for loc.
func (m *Manager) Enable(loc location.Location, enabled bool) {
	m.update(loc, func(s *slot) { s.settings.Enabled = enabled })
}

// Enabled returns whether pooling is enabled for loc.
func (m *Manager) Enabled(loc location.Location) bool {
	return m.Settings(loc).Enabled
}

// SetCapacity sets the capacity in bytes of the pool for loc.
func (m *Manager) SetCapacity(loc location.Location, bytes uint64) {
	m.update(loc, func(s *slot) { s.settings.CapacityBytes = bytes })
}

// Capacity returns the capacity in bytes of the pool for loc.
func (m *Manager) Capacity(loc location.Location) uint64 {
	return m.Settings(loc).CapacityBytes
}

// SetBlockSize sets the allocation granularity of the pool for loc.
func (m *Manager) SetBlockSize(loc location.Location, bytes uint64) {
	m.update(loc, func(s *slot) { s.settings.BlockSize = bytes })
}

// BlockSize returns the allocation granularity of the pool for loc.
func (m *Manager) BlockSize(loc location.Location) uint64 {
	return m.Settings(loc).BlockSize
}

// SetName sets the name of the pool for loc. It fails if the name is invalid, or if the pool
// was already created.
func (m *Manager) SetName(loc location.Location, name string) error {
	if err := ValidateName(name); err != nil {
		return errors.WithMessagef(err, "pool for %s", loc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.lockedSlot(loc)
	if s.state != Unallocated {
		return errors.Errorf("pool for %s is already %s as %q, it can't be renamed", loc, s.state, s.settings.Name)
	}
	s.settings.Name = name
	return nil
}

// Name returns the name of the pool for loc.
func (m *Manager) Name(loc location.Location) string {
	return m.Settings(loc).Name
}

// Settings returns the current settings for loc.
func (m *Manager) Settings(loc location.Location) Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockedSlot(loc).settings
}

// Configure replaces all settings for loc.
func (m *Manager) Configure(loc location.Location, settings Settings) error {
	if err := ValidateName(settings.Name); err != nil {
		return errors.WithMessagef(err, "pool for %s", loc)
	}
	m.update(loc, func(s *slot) { s.settings = settings })
	return nil
}

// SetCachingParams configures the caching of freed blocks of pools created later. Nil disables caching.
func (m *Manager) SetCachingParams(params *CachingParams) error {
	if params != nil {
		if err := params.Validate(); err != nil {
			return err
		}
		copied := *params
		params = &copied
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caching = params
	return nil
}

// CachingParams returns the caching configuration, or nil if caching is disabled.
func (m *Manager) CachingParams() *CachingParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caching == nil {
		return nil
	}
	params := *m.caching
	return &params
}

// State returns the state of the pool for loc.
func (m *Manager) State(loc location.Location) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockedSlot(loc).state
}

// Pool returns the pool for loc, creating it, or finding it in the registry by name, on first use.
func (m *Manager) Pool(loc location.Location) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.lockedSlot(loc)
	if s.state != Unallocated {
		return m.lockedLivePool(loc)
	}

	settings := s.settings
	p, created, err := m.registry.GetOrCreate(settings.Name, func() (*Pool, error) {
		return New(Options{
			Name:          settings.Name,
			Location:      loc,
			CapacityBytes: settings.CapacityBytes,
			BlockSize:     settings.BlockSize,
			Caching:       m.caching,
		}, m.upstream)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "pool manager: creating pool for %s", loc)
	}
	if p.Location() != loc {
		return nil, errors.Errorf("pool manager: pool %q holds %s memory, it can't serve %s", p.Name(), p.Location(), loc)
	}
	if p.upstream != m.upstream {
		return nil, errors.Errorf("pool manager: pool %q carves memory from another backend, it can't serve %s: "+
			"use a different pool name or a separate registry", p.Name(), loc)
	}
	s.pool = p
	if created {
		s.state = Owned
		klog.V(1).Infof("pool manager: created pool %s, capacity %s, block size %d",
			p, humanize.IBytes(p.CapacityBytes()), p.BlockSize())
	} else {
		s.state = Shared
		klog.V(1).Infof("pool manager: reusing existing pool %s", p)
	}
	return p, nil
}

// lockedLivePool returns the pool in use for loc, or nil if it wasn't created yet. It returns an error
// wrapping ErrReleased if the pool was released, by this Manager or, for a shared pool, by its owner.
// It must be called with m.mu locked.
func (m *Manager) lockedLivePool(loc location.Location) (*Pool, error) {
	s := m.lockedSlot(loc)
	switch {
	case s.state == Released:
		return nil, errors.Wrapf(ErrReleased, "pool manager: pool %q for %s used after release", s.settings.Name, loc)
	case s.state == Shared && s.pool.Released():
		return nil, errors.Wrapf(ErrReleased, "pool manager: shared pool %s for %s was released by its owner", s.pool, loc)
	}
	return s.pool, nil
}

// Err returns an error wrapping ErrReleased if the pool for loc was released while still in use.
func (m *Manager) Err(loc location.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.lockedLivePool(loc)
	return err
}

// Alloc allocates size bytes from the pool for loc. It returns backends.Null if the pool can't serve it.
func (m *Manager) Alloc(loc location.Location, size uint64) (backends.Ptr, error) {
	p, err := m.Pool(loc)
	if err != nil {
		return backends.Null, err
	}
	return p.Alloc(size), nil
}

// Free returns ptr to the pool of loc that allocated it. It returns false if no pool
// held by the Manager owns ptr.
func (m *Manager) Free(loc location.Location, ptr backends.Ptr) bool {
	m.mu.Lock()
	p, err := m.lockedLivePool(loc)
	m.mu.Unlock()
	if err != nil || p == nil {
		return false
	}
	return p.Free(ptr)
}

// Owns returns whether ptr was allocated from the pool of loc.
func (m *Manager) Owns(loc location.Location, ptr backends.Ptr) bool {
	m.mu.Lock()
	p, err := m.lockedLivePool(loc)
	m.mu.Unlock()
	return err == nil && p != nil && p.Owns(ptr)
}

// Usage returns the current and peak bytes held by the pool for loc, or zeros if there is no pool yet.
func (m *Manager) Usage(loc location.Location) (current, peak uint64) {
	m.mu.Lock()
	p := m.lockedSlot(loc).pool
	m.mu.Unlock()
	if p == nil {
		return 0, 0
	}
	return p.CurrentBytes(), p.HighWaterBytes()
}

// Usages returns the usage of the pools in use by the Manager, in location order.
func (m *Manager) Usages() []Usage {
	m.mu.Lock()
	type entry struct {
		loc   location.Location
		pool  *Pool
		owned bool
	}
	var entries []entry
	for _, loc := range location.Concrete {
		s := m.slots[loc]
		if s.pool != nil && s.state != Released && !s.pool.Released() {
			entries = append(entries, entry{loc, s.pool, s.state == Owned})
		}
	}
	m.mu.Unlock()

	usages := make([]Usage, 0, len(entries))
	for _, e := range entries {
		usages = append(usages, Usage{
			Name:      e.pool.Name(),
			Location:  e.loc,
			Current:   e.pool.CurrentBytes(),
			HighWater: e.pool.HighWaterBytes(),
			Owned:     e.owned,
		})
	}
	return usages
}

// ReleaseAll releases the pools owned by the Manager, and stops using the shared ones.
// It is safe to call more than once: pools are released only the first time.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result *multierror.Error
	for _, loc := range location.Concrete {
		s := m.slots[loc]
		switch s.state {
		case Owned:
			if err := s.pool.Release(); err != nil {
				result = multierror.Append(result, errors.WithMessagef(err, "releasing pool for %s", loc))
			}
		case Shared:
			klog.V(1).Infof("pool manager: leaving shared pool %s to its owner", s.pool)
		case Released:
			continue
		}
		s.state = Released
	}
	return result.ErrorOrNil()
}
