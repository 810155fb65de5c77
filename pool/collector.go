// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// UsageSource provides the pool usages exported by the Collector. Manager implements it.
type UsageSource interface {
	Usages() []Usage
}

var (
	descCurrentBytes = prometheus.NewDesc(
		"memspaces_pool_current_bytes",
		"Memory held by the pool, in use or cached, in bytes.",
		[]string{"pool", "location"}, nil,
	)
	descHighWaterBytes = prometheus.NewDesc(
		"memspaces_pool_high_water_bytes",
		"Peak memory held by the pool, in bytes.",
		[]string{"pool", "location"}, nil,
	)
)

// Collector exports pool usage as Prometheus gauges.
type Collector struct {
	source UsageSource
}

// NewCollector returns a prometheus.Collector for the pools of source.
func NewCollector(source UsageSource) *Collector {
	return &Collector{source: source}
}

// Compile-time check that Collector implements prometheus.Collector.
var _ prometheus.Collector = (*Collector)(nil)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCurrentBytes
	ch <- descHighWaterBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, u := range c.source.Usages() {
		loc := u.Location.String()
		ch <- prometheus.MustNewConstMetric(descCurrentBytes, prometheus.GaugeValue, float64(u.Current), u.Name, loc)
		ch <- prometheus.MustNewConstMetric(descHighWaterBytes, prometheus.GaugeValue, float64(u.HighWater), u.Name, loc)
	}
}
