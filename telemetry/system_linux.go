// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build linux

package telemetry

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const hasProcFS = true

// readSystemMemory fills the used and total system RAM of snap.
func readSystemMemory(snap *Snapshot) error {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return errors.Wrap(err, "sysinfo failed")
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := uint64(info.Freeram) * unit
	snap.SystemTotal = total
	snap.SystemUsed = total - free
	return nil
}
