// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"math"

	"github.com/gomlx/memspaces/location"
)

// Field is one figure of a Snapshot that can be aggregated across workers.
type Field struct {
	Name string

	// Optional fields are only reported if some worker has a non-zero value.
	Optional bool

	Value func(s *Snapshot) uint64
}

// Fields aggregated by Aggregate, in report order.
var Fields = []Field{
	{Name: "VmSize", Value: func(s *Snapshot) uint64 { return s.VirtualSize }},
	{Name: "VmPeak", Value: func(s *Snapshot) uint64 { return s.VirtualPeak }},
	{Name: "VmRSS", Value: func(s *Snapshot) uint64 { return s.ResidentSize }},
	{Name: "VmHWM", Value: func(s *Snapshot) uint64 { return s.ResidentPeak }},
	{Name: "RAMUsed", Value: func(s *Snapshot) uint64 { return s.SystemUsed }},
	{Name: "RAMTotal", Value: func(s *Snapshot) uint64 { return s.SystemTotal }},
	{Name: "VRAMUsed", Optional: true, Value: func(s *Snapshot) uint64 { return s.DeviceUsed }},
	{Name: "VRAMTotal", Optional: true, Value: func(s *Snapshot) uint64 { return s.DeviceTotal }},
	poolField("PoolHSize", location.Host, false),
	poolField("PoolHPeak", location.Host, true),
	poolField("PoolPSize", location.HostPinned, false),
	poolField("PoolPPeak", location.HostPinned, true),
	poolField("PoolDSize", location.Device, false),
	poolField("PoolDPeak", location.Device, true),
	poolField("PoolUSize", location.Unified, false),
	poolField("PoolUPeak", location.Unified, true),
}

func poolField(name string, loc location.Location, peak bool) Field {
	return Field{Name: name, Optional: true, Value: func(s *Snapshot) uint64 {
		current, highWater := s.PoolUsage(loc)
		if peak {
			return highWater
		}
		return current
	}}
}

// Stats of each of Fields across workers, in bytes.
type Stats struct {
	Workers            int
	Min, Max, Avg, Std []float64
}

// Aggregate computes the minimum, maximum, average and (population) standard deviation of
// each of Fields across snaps.
func Aggregate(snaps []Snapshot) Stats {
	numFields := len(Fields)
	stats := Stats{
		Workers: len(snaps),
		Min:     make([]float64, numFields),
		Max:     make([]float64, numFields),
		Avg:     make([]float64, numFields),
		Std:     make([]float64, numFields),
	}
	if len(snaps) == 0 {
		return stats
	}
	n := float64(len(snaps))
	for j, field := range Fields {
		minV, maxV, sum := math.Inf(1), 0.0, 0.0
		for i := range snaps {
			v := float64(field.Value(&snaps[i]))
			minV = min(minV, v)
			maxV = max(maxV, v)
			sum += v
		}
		avg := sum / n
		var ssq float64
		for i := range snaps {
			d := float64(field.Value(&snaps[i])) - avg
			ssq += d * d / n
		}
		stats.Min[j], stats.Max[j], stats.Avg[j], stats.Std[j] = minV, maxV, avg, math.Sqrt(ssq)
	}
	return stats
}
