// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the capability interface a memory backend needs to implement: the
// per-space primitives (allocate, free, fill, copy, prefetch, pointer query) of one accelerator
// ecosystem, or of the host alone.
//
// Callers of the memory layer never use a backend directly: package memory routes every
// operation to the backend selected for the process.
//
// To simplify error handling, backends are expected to panic with a stack trace on programming errors
// (unknown pointers, out-of-range accesses). Running out of memory is not an error at this level:
// Alloc returns Null and the memory layer decides what to do.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/memspaces/location"
	"github.com/pkg/errors"
)

// Ptr is the address of a block of memory handed out by a backend. Null (0) is the null pointer.
//
// Pointer arithmetic is allowed: a Ptr pointing inside a block is resolved by the backend to
// the block containing it.
type Ptr uintptr

// Null is the null pointer.
const Null Ptr = 0

// IsNull returns whether p is the null pointer.
func (p Ptr) IsNull() bool { return p == Null }

// Add returns p advanced by offset bytes.
func (p Ptr) Add(offset uint64) Ptr { return p + Ptr(offset) }

// Backend is the API that needs to be implemented by a memory backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "sim" for the simulated accelerator.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities returns what the backend supports.
	Capabilities() Capabilities

	// Alloc allocates size bytes in the given location. It returns Null if the memory
	// could not be allocated. The contents of the memory are undefined.
	Alloc(loc location.Location, size uint64) Ptr

	// Free releases memory allocated with Alloc (or Realloc) with the same location.
	Free(loc location.Location, ptr Ptr)

	// Realloc resizes the block at ptr, possibly moving it, preserving min(oldSize, newSize) bytes.
	// It returns Null if the new block could not be allocated, in which case ptr is left untouched.
	Realloc(loc location.Location, ptr Ptr, oldSize, newSize uint64) Ptr

	// Locate returns the physical location of the memory pointed by ptr.
	// It returns (location.Host, false) if the pointer is not recognized by the accelerator runtime.
	Locate(ptr Ptr) (loc location.Location, found bool)

	// DeviceMemInfo returns the used and total accelerator memory, if the backend has an accelerator.
	DeviceMemInfo() (used, total uint64, ok bool)

	// DataInterface is the sub-interface that moves and fills data.
	DataInterface

	// Synchronize blocks until all work queued on the backend's stream is finished.
	Synchronize()

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// MEMSPACES_BACKEND is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "sim") and
// "<backend_configuration>" is backend specific (e.g.: for the sim backend, "capacity=1073741824").
const MEMSPACES_BACKEND = "MEMSPACES_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment MEMSPACES_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(MEMSPACES_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "host") and
// "<backend_configuration>" is backend specific.
// If config has no ":", it is taken as the backend name, and an empty backend configuration is used.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.New(`no registered memory backends -- maybe import the host one with import _ "github.com/gomlx/memspaces/backends/host"?`)
	}
	backendName := firstRegistered
	backendConfig := ""
	if config != "" {
		backendName = config
		if idx := strings.Index(config, ":"); idx != -1 {
			backendName = config[:idx]
			backendConfig = config[idx+1:]
		}
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find memory backend %q for configuration %q given, registered backends: %v",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to construct memory backend %q", backendName)
	}
	return backend, nil
}
