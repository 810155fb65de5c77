// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/gomlx/memspaces/backends/simdevice"
	"github.com/gomlx/memspaces/location"
	"github.com/gomlx/memspaces/memory"
	"github.com/gomlx/memspaces/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

const statusFixture = `Name:	memspaces
State:	R (running)
Pid:	4242
Uid:	1000	1000	1000	1000
Gid:	1000	1000	1000	1000
VmPeak:	  204800 kB
VmSize:	  102400 kB
VmHWM:	   51200 kB
VmRSS:	   25600 kB
Threads:	8
`

// newProcFixture creates a fake proc filesystem with a "self" process.
func newProcFixture(t *testing.T) string {
	t.Helper()
	mount := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(mount, "4242"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "4242", "status"), []byte(statusFixture), 0o644))
	if err := os.Symlink("4242", filepath.Join(mount, "self")); err != nil {
		t.Skipf("symbolic links not supported: %v", err)
	}
	return mount
}

func TestReadProcessUsage(t *testing.T) {
	var snap Snapshot
	require.NoError(t, readProcessUsage(newProcFixture(t), &snap))
	assert.Equal(t, uint64(102400*1024), snap.VirtualSize)
	assert.Equal(t, uint64(204800*1024), snap.VirtualPeak)
	assert.Equal(t, uint64(25600*1024), snap.ResidentSize)
	assert.Equal(t, uint64(51200*1024), snap.ResidentPeak)

	require.Error(t, readProcessUsage(filepath.Join(t.TempDir(), "missing"), &snap))
}

func TestTake(t *testing.T) {
	backend := simdevice.NewFromConfig(simdevice.Config{Capacity: 1 << 20, UnifiedAddressing: true})
	defer backend.Finalize()
	ctx, err := memory.New(memory.Config{}, memory.WithBackend(backend), memory.WithRegistry(pool.NewRegistry()))
	require.NoError(t, err)
	defer func() { require.NoError(t, ctx.Finalize()) }()
	ctx.EnablePooling(location.Device, true)
	ptr := ctx.MAlloc(1000, location.Device)
	defer ctx.Free(ptr, location.Device)

	sampler := &Sampler{WorkerID: "worker-0"}
	if runtime.GOOS == "linux" {
		sampler.ProcMount = newProcFixture(t)
	}
	snap, err := sampler.Take(ctx)
	require.NoError(t, err)
	require.Equal(t, "worker-0", snap.WorkerID)
	require.True(t, snap.HasDevice)
	require.Equal(t, uint64(1<<20), snap.DeviceTotal)
	require.Greater(t, snap.DeviceUsed, uint64(0))
	require.Len(t, snap.Pools, 1)
	require.Equal(t, pool.DefaultNames[location.Device], snap.Pools[0].Name)
	current, peak := snap.PoolUsage(location.Device)
	require.Equal(t, uint64(4096), current)
	require.Equal(t, uint64(4096), peak)
	if runtime.GOOS == "linux" {
		require.Equal(t, uint64(102400*1024), snap.VirtualSize)
		require.Greater(t, snap.SystemTotal, uint64(0))
	}

	// Snapshots without a context only have host figures, and a worker id unique to the process.
	first, _ := Take(nil)
	second, _ := Take(nil)
	require.NotEmpty(t, first.WorkerID)
	require.Equal(t, first.WorkerID, second.WorkerID)
	require.False(t, first.HasDevice)
	require.Empty(t, first.Pools)
}

func TestAggregate(t *testing.T) {
	require.Equal(t, 0, Aggregate(nil).Workers)

	snaps := []Snapshot{
		{VirtualSize: 2 << 30, SystemTotal: 8 << 30},
		{VirtualSize: 4 << 30, SystemTotal: 8 << 30},
	}
	stats := Aggregate(snaps)
	require.Equal(t, 2, stats.Workers)
	require.Equal(t, "VmSize", Fields[0].Name)
	require.Equal(t, float64(2<<30), stats.Min[0])
	require.Equal(t, float64(4<<30), stats.Max[0])
	require.Equal(t, float64(3<<30), stats.Avg[0])
	require.Equal(t, float64(1<<30), stats.Std[0])
	require.Equal(t, "RAMTotal", Fields[5].Name)
	require.Equal(t, float64(0), stats.Std[5])
}

func TestReport(t *testing.T) {
	snaps := []Snapshot{
		{VirtualSize: 2 << 30, ResidentSize: 1 << 30, SystemTotal: 8 << 30},
		{VirtualSize: 4 << 30, ResidentSize: 1 << 30, SystemTotal: 8 << 30,
			Pools: []PoolUsage{{Name: "DEV", Location: location.Device, Current: 1 << 20, HighWater: 2 << 20}}},
	}

	var buf bytes.Buffer
	require.NoError(t, Report(&buf, snaps, 0, "setup"))
	require.Zero(t, buf.Len())

	require.NoError(t, Report(&buf, snaps, ReportWorkers, "setup"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "[0]: setup | Vm[Size,RSS]/[Peak,HWM]: (2.0 GiB, 1.0 GiB"))
	require.NotContains(t, lines[0], "PoolD")
	require.Contains(t, lines[1], "PoolDSize/PoolDPeak: (1.0 MiB / 2.0 MiB)")

	buf.Reset()
	require.NoError(t, Report(&buf, snaps, ReportSummary, "setup"))
	report := buf.String()
	require.Contains(t, report, "Memory usage across 2 workers - setup")
	for _, want := range []string{"VmSize (GiB)", "PoolDPeak (GiB)", "Min", "Std", "3.00", "8.00"} {
		require.Contains(t, report, want)
	}
	// Optional columns without data are omitted.
	require.NotContains(t, report, "VRAMUsed")
	require.NotContains(t, report, "PoolHSize")
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLines(&buf)
	require.NoError(t, sink.Publish(Snapshot{WorkerID: "a", VirtualSize: 10}))
	require.NoError(t, sink.Publish(Snapshot{WorkerID: "b", HasDevice: true, DeviceTotal: 20,
		Pools: []PoolUsage{{Name: "P", Location: location.HostPinned, Current: 5}}}))

	var got []Snapshot
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var snap Snapshot
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &snap))
		got = append(got, snap)
	}
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].WorkerID)
	require.Equal(t, uint64(10), got[0].VirtualSize)
	require.Equal(t, location.HostPinned, got[1].Pools[0].Location)
	require.Equal(t, uint64(20), got[1].DeviceTotal)

	var published []Snapshot
	snap, err := Publish(nil, SinkFunc(func(snap Snapshot) error {
		published = append(published, snap)
		return nil
	}))
	require.NoError(t, err)
	require.Equal(t, []Snapshot{snap}, published)
}
