// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pool

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// MaxNameLength is the maximum length in bytes of a pool name.
const MaxNameLength = 64

// ValidateName returns an error if name is not a valid pool name.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("pool name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return errors.Errorf("pool name %q is %d bytes long, the maximum is %d", name, len(name), MaxNameLength)
	}
	return nil
}

// Registry maps names to live pools. It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

var globalRegistry = NewRegistry()

// Global returns the process-wide registry.
func Global() *Registry {
	return globalRegistry
}

// Lookup returns the pool with the given name, or nil if there is none.
func (r *Registry) Lookup(name string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pools[name]
}

// Names returns the sorted names of the registered pools.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// GetOrCreate returns the pool registered under name, or else registers the one returned by create.
// created reports whether create was called.
func (r *Registry) GetOrCreate(name string, create func() (*Pool, error)) (p *Pool, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p = r.pools[name]; p != nil {
		return p, false, nil
	}
	p, err = create()
	if err != nil {
		return nil, false, err
	}
	if p.Name() != name {
		return nil, false, errors.Errorf("pool created as %q registered under name %q", p.Name(), name)
	}
	p.registry = r
	r.pools[name] = p
	return p, true, nil
}

// remove unregisters p, if it is still the pool registered under its name.
func (r *Registry) remove(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pools[p.Name()] == p {
		delete(r.pools, p.Name())
	}
}
