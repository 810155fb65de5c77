// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package telemetry takes snapshots of the memory usage of a process: host memory of the process
// and of the system, accelerator memory and pools. Snapshots of many workers can be aggregated
// and reported as a table, or published to a Sink.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"github.com/gomlx/memspaces/location"
	"github.com/gomlx/memspaces/memory"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// PoolUsage of one pool, in bytes.
type PoolUsage struct {
	Name      string            `json:"name"`
	Location  location.Location `json:"location"`
	Current   uint64            `json:"current"`
	HighWater uint64            `json:"high_water"`
	Owned     bool              `json:"owned"`
}

// Snapshot of the memory usage of a worker. All sizes are in bytes.
type Snapshot struct {
	WorkerID string    `json:"worker_id"`
	Time     time.Time `json:"time"`

	// Process memory: virtual size, resident set size and their peaks.
	VirtualSize  uint64 `json:"virtual_size"`
	VirtualPeak  uint64 `json:"virtual_peak"`
	ResidentSize uint64 `json:"resident_size"`
	ResidentPeak uint64 `json:"resident_peak"`

	// System RAM.
	SystemUsed  uint64 `json:"system_used"`
	SystemTotal uint64 `json:"system_total"`

	// Accelerator memory, only if HasDevice.
	HasDevice   bool   `json:"has_device"`
	DeviceUsed  uint64 `json:"device_used,omitempty"`
	DeviceTotal uint64 `json:"device_total,omitempty"`

	Pools []PoolUsage `json:"pools,omitempty"`
}

// PoolUsage returns the usage of the pool in loc, summed if there is more than one.
func (s *Snapshot) PoolUsage(loc location.Location) (current, highWater uint64) {
	for _, p := range s.Pools {
		if p.Location == loc {
			current += p.Current
			highWater += p.HighWater
		}
	}
	return
}

// Sampler takes snapshots for one worker.
type Sampler struct {
	// WorkerID identifies the worker in the snapshots.
	WorkerID string

	// ProcMount is where the proc filesystem is mounted, procfs.DefaultMountPoint if empty.
	ProcMount string
}

// NewSampler returns a Sampler with a random worker id.
func NewSampler() *Sampler {
	return &Sampler{WorkerID: uuid.NewString()}
}

var defaultSampler = NewSampler()

// Take a snapshot of the memory usage of the process, identified by a worker id unique to the process.
//
// Host process and system figures are only available on Linux, and are left as zero elsewhere.
// The snapshot is returned filled as much as possible even if an error is returned.
func Take(ctx *memory.Context) (Snapshot, error) {
	return defaultSampler.Take(ctx)
}

// Take a snapshot of the memory usage of the process and of the pools and backend of ctx.
// If ctx is nil, only host figures are filled.
func (s *Sampler) Take(ctx *memory.Context) (Snapshot, error) {
	snap := Snapshot{
		WorkerID: s.WorkerID,
		Time:     time.Now(),
	}
	var result *multierror.Error
	if hasProcFS {
		mount := s.ProcMount
		if mount == "" {
			mount = procfs.DefaultMountPoint
		}
		if err := readProcessUsage(mount, &snap); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := readSystemMemory(&snap); err != nil {
		result = multierror.Append(result, err)
	}
	if ctx != nil {
		snap.DeviceUsed, snap.DeviceTotal, snap.HasDevice = ctx.Backend().DeviceMemInfo()
		for _, usage := range ctx.Pools().Usages() {
			snap.Pools = append(snap.Pools, PoolUsage{
				Name:      usage.Name,
				Location:  usage.Location,
				Current:   usage.Current,
				HighWater: usage.HighWater,
				Owned:     usage.Owned,
			})
		}
	}
	return snap, result.ErrorOrNil()
}

// readProcessUsage fills the process fields of snap from the status of the current process
// in the proc filesystem mounted at mount.
func readProcessUsage(mount string, snap *Snapshot) error {
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return errors.Wrapf(err, "failed to open proc filesystem at %q", mount)
	}
	self, err := fs.Self()
	if err != nil {
		return errors.Wrap(err, "failed to find the current process in the proc filesystem")
	}
	status, err := self.NewStatus()
	if err != nil {
		return errors.Wrapf(err, "failed to read status of process %d", self.PID)
	}
	snap.VirtualSize = status.VmSize
	snap.VirtualPeak = status.VmPeak
	snap.ResidentSize = status.VmRSS
	snap.ResidentPeak = status.VmHWM
	return nil
}
