// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !nosim

package _default

import _ "github.com/gomlx/memspaces/backends/simdevice"
