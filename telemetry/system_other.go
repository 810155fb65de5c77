// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !linux

package telemetry

const hasProcFS = false

// readSystemMemory is only implemented for Linux.
func readSystemMemory(*Snapshot) error { return nil }
