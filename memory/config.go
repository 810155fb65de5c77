// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"os"

	"github.com/gomlx/memspaces/location"
	"github.com/gomlx/memspaces/pool"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Config of a Context. It can be loaded from YAML (or JSON) with LoadConfig or ParseConfig:
//
//	backend: "sim:capacity=8GiB"
//	default_policy: device
//	debug: true
//	pools:
//	  device:
//	    enabled: true
//	    name: SOLVER_DEVICE_POOL
//	    capacity_bytes: 1073741824
//	caching:
//	  bin_growth: 8
//	  min_bin: 3
//	  max_bin: 7
//	  max_cached_bytes: 268435456
type Config struct {
	// Backend configuration, in the format "<backend_name>:<backend_configuration>".
	// If empty, backends.New() selects the backend (see MEMSPACES_BACKEND).
	Backend string `json:"backend,omitempty"`

	// DefaultPolicy is the execution policy used for Unified memory and for location.ConceptDefault.
	// If undefined, it is ExecDevice when the backend has an accelerator, ExecHost otherwise.
	DefaultPolicy location.Policy `json:"default_policy,omitempty"`

	// Debug enables the pointer location checks on every operation.
	Debug bool `json:"debug,omitempty"`

	// AbortOnFatal makes fatal conditions exit the process (after flushing the logs), instead of panicking.
	AbortOnFatal bool `json:"abort_on_fatal,omitempty"`

	// Pools settings per location. Locations not listed use pool.DefaultSettings (pooling disabled).
	Pools map[location.Location]pool.Settings `json:"pools,omitempty"`

	// Caching configures the caching of freed blocks in pools. If nil, pool.DefaultCachingParams is used.
	Caching *pool.CachingParams `json:"caching,omitempty"`

	// DisableCaching returns blocks freed in pools to the backend immediately.
	DisableCaching bool `json:"disable_caching,omitempty"`
}

// ParseConfig parses a YAML (or JSON) configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse memory configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read memory configuration from %q", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "configuration file %q", path)
	}
	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (cfg Config) Validate() error {
	for loc, settings := range cfg.Pools {
		if !loc.Valid() {
			return errors.Errorf("pool settings for invalid location %d", int(loc))
		}
		if settings.Name != "" {
			if err := pool.ValidateName(settings.Name); err != nil {
				return errors.WithMessagef(err, "pool settings for %s", loc)
			}
		}
	}
	if cfg.Caching != nil {
		if err := cfg.Caching.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Marshal returns the YAML representation of the configuration.
func (cfg Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal memory configuration")
	}
	return data, nil
}
