// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build linux

package host

import (
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// lockMemory page-locks buf, so it can't be swapped out. It returns false if the OS refused,
// usually because of RLIMIT_MEMLOCK: the memory is still usable, only not locked.
func lockMemory(buf []byte) bool {
	if err := unix.Mlock(buf); err != nil {
		klog.V(2).Infof("mlock of %d bytes failed, pinned memory will be pageable: %v", len(buf), err)
		return false
	}
	return true
}

// unlockMemory undoes lockMemory.
func unlockMemory(buf []byte) {
	if err := unix.Munlock(buf); err != nil {
		klog.Warningf("munlock of %d bytes failed: %v", len(buf), err)
	}
}
