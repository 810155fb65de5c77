// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// memspaces inspects the memory backends available to the process, reports memory usage and
// runs a self-check of copies across all memory locations.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/memspaces/backends"
	_ "github.com/gomlx/memspaces/backends/default"
	"github.com/gomlx/memspaces/location"
	"github.com/gomlx/memspaces/memory"
	"github.com/gomlx/memspaces/pool"
	"github.com/gomlx/memspaces/telemetry"
	"github.com/janpfeifer/must"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend configuration, formatted as \"<backend_name>:<backend_configuration>\". "+
			"Overrides the configuration file and $%s.", backends.MEMSPACES_BACKEND))
	flagConfig = flag.String("config", "", "YAML configuration file of the memory context.")
	flagPolicy = flag.String("policy", "", "Default execution policy: \"host\" or \"device\".")
	flagList   = flag.Bool("list", false, "Lists the registered backends.")
	flagInfo   = flag.Bool("info", false, "Displays the backend, its capabilities and the memory locations resolution.")
	flagReport = flag.Int("report", 0, "Memory usage report level, bits that can be combined: "+
		"1 prints the usage of this process, 2 prints the summary table.")
	flagPublish   = flag.String("publish", "", "Appends a JSON line with the memory usage snapshot to the given file.")
	flagMetrics   = flag.Bool("metrics", false, "Prints the pool metrics in the Prometheus text format.")
	flagSelfCheck = flag.Bool("selfcheck", false,
		"Copies data through every pair of memory locations and checks it arrives unchanged.")
	flagParallelism = flag.Int("parallelism", -2, "Number of self-check cases run in parallel. "+
		"0 runs them inline, -1 has no limit, and the default uses the number of CPUs.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagList {
		fmt.Println(strings.Join(backends.List(), "\n"))
		return
	}

	var cfg memory.Config
	if *flagConfig != "" {
		cfg = must.M1(memory.LoadConfig(*flagConfig))
	}
	if *flagBackend != "" {
		cfg.Backend = *flagBackend
	}
	if *flagPolicy != "" {
		cfg.DefaultPolicy = must.M1(location.ParsePolicy(*flagPolicy))
	}
	ctx, err := memory.New(cfg)
	if err != nil {
		klog.Errorf("Failed to create memory context: %+v", err)
		os.Exit(1)
	}

	exitCode := 0
	if *flagInfo {
		info(ctx)
	}
	if *flagSelfCheck {
		if failures := selfCheck(ctx, *flagParallelism); failures > 0 {
			klog.Errorf("Self-check failed for %d cases", failures)
			exitCode = 1
		}
	}
	if *flagReport != 0 || *flagPublish != "" {
		report(ctx)
	}
	if *flagMetrics {
		metrics(ctx)
	}

	if err := ctx.Finalize(); err != nil {
		klog.Errorf("Failed to finalize memory context: %+v", err)
		exitCode = 1
	}
	klog.Flush()
	os.Exit(exitCode)
}

// info displays the backend and how each location resolves with it.
func info(ctx *memory.Context) {
	backend := ctx.Backend()
	caps := backend.Capabilities()
	fmt.Println(titleStyle.Render("Backend"))
	table := newPlainTable(false)
	table.Row("name", backend.Name())
	table.Row("description", backend.Description())
	table.Row("accelerator", fmt.Sprint(caps.Accelerator))
	table.Row("unified addressing", fmt.Sprint(caps.UnifiedAddressing))
	table.Row("default policy", ctx.DefaultPolicy().String())
	if used, total, ok := backend.DeviceMemInfo(); ok {
		table.Row("device memory", fmt.Sprintf("%s / %s", humanize.IBytes(used), humanize.IBytes(total)))
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Locations"))
	table = newPlainTable(true)
	table.Headers("Location", "Resolves to", "Policy", "Pool")
	for _, s := range []location.Space{
		location.Host, location.HostPinned, location.Device, location.Unified,
		location.ConceptHost, location.ConceptDevice, location.ConceptShared, location.ConceptDefault,
	} {
		loc := ctx.Resolve(s)
		poolDesc := "disabled"
		if settings := ctx.Pools().Settings(loc); settings.Enabled {
			poolDesc = fmt.Sprintf("%s (%s)", settings.Name, humanize.IBytes(settings.CapacityBytes))
		}
		table.Row(fmt.Sprint(s), loc.String(), ctx.Policy1(s).String(), poolDesc)
	}
	fmt.Println(table.Render())
}

// report prints and publishes a memory usage snapshot.
func report(ctx *memory.Context) {
	snap, err := telemetry.Take(ctx)
	if err != nil {
		klog.Warningf("Incomplete memory usage snapshot: %v", err)
	}
	must.M(telemetry.Report(os.Stdout, []telemetry.Snapshot{snap}, *flagReport, "memspaces"))
	if *flagPublish != "" {
		f := must.M1(os.OpenFile(*flagPublish, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644))
		defer func() { must.M(f.Close()) }()
		must.M(telemetry.NewJSONLines(f).Publish(snap))
	}
}

// metrics prints the pool gauges in the Prometheus text exposition format.
func metrics(ctx *memory.Context) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(pool.NewCollector(ctx.Pools()))
	for _, family := range must.M1(registry.Gather()) {
		_ = must.M1(expfmt.MetricFamilyToText(os.Stdout, family))
	}
}
