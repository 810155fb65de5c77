// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backends, namely host and the simulated device.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/memspaces/backends/default"
//
// The host backend is registered first, so it is the one used when no configuration is given.
// If you add the tag `nosim` it will not include the simulated device.
package _default

import (
	_ "github.com/gomlx/memspaces/backends/host"
)
