// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !linux

package host

// lockMemory is not supported outside Linux: pinned memory is pageable host memory.
func lockMemory([]byte) bool { return false }

func unlockMemory([]byte) {}
