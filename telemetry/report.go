// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/memspaces/location"
	"github.com/pkg/errors"
)

// Report levels, bits that can be combined.
const (
	// ReportWorkers prints one line per worker.
	ReportWorkers = 0x1

	// ReportSummary prints a table with the statistics across workers.
	ReportSummary = 0x2
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1).Align(lipgloss.Right)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1).Align(lipgloss.Right)
)

const bytesPerGiB = float64(1 << 30)

// Report writes the memory usage of the workers in snaps to w, according to the bits of level
// (ReportWorkers, ReportSummary). Nothing is written if neither bit is set.
// The title (e.g. the name of the phase being measured) is included in each line and in the summary header.
func Report(w io.Writer, snaps []Snapshot, level int, title string) error {
	if level&(ReportWorkers|ReportSummary) == 0 || len(snaps) == 0 {
		return nil
	}
	var sb strings.Builder
	if level&ReportWorkers != 0 {
		digits := len(strconv.Itoa(len(snaps) - 1))
		for i := range snaps {
			sb.WriteString(workerLine(i, digits, title, &snaps[i]))
			sb.WriteByte('\n')
		}
	}
	if level&ReportSummary != 0 {
		fmt.Fprintf(&sb, "\nMemory usage across %d workers - %s\n\n", len(snaps), title)
		sb.WriteString(summaryTable(Aggregate(snaps)))
		sb.WriteByte('\n')
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return errors.Wrap(err, "failed to write memory usage report")
	}
	return nil
}

var poolLabels = map[location.Location]string{
	location.Host:       "PoolH",
	location.HostPinned: "PoolP",
	location.Device:     "PoolD",
	location.Unified:    "PoolU",
}

func workerLine(idx, digits int, title string, s *Snapshot) string {
	b := humanize.IBytes
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%*d]: %s", digits, idx, title)
	fmt.Fprintf(&sb, " | Vm[Size,RSS]/[Peak,HWM]: (%s, %s / %s, %s)",
		b(s.VirtualSize), b(s.ResidentSize), b(s.VirtualPeak), b(s.ResidentPeak))
	fmt.Fprintf(&sb, " | Used/Total RAM: (%s / %s)", b(s.SystemUsed), b(s.SystemTotal))
	if s.HasDevice {
		fmt.Fprintf(&sb, " | Used/Total VRAM: (%s / %s)", b(s.DeviceUsed), b(s.DeviceTotal))
	}
	for _, loc := range location.Concrete {
		current, highWater := s.PoolUsage(loc)
		if highWater == 0 {
			continue
		}
		fmt.Fprintf(&sb, " | %sSize/%sPeak: (%s / %s)", poolLabels[loc], poolLabels[loc], b(current), b(highWater))
	}
	return sb.String()
}

func summaryTable(stats Stats) string {
	var columns []int
	for j, field := range Fields {
		if field.Optional && stats.Max[j] == 0 {
			continue
		}
		columns = append(columns, j)
	}
	headers := []string{""}
	for _, j := range columns {
		headers = append(headers, Fields[j].Name+" (GiB)")
	}

	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				return oddRowStyle
			default:
				return evenRowStyle
			}
		}).
		Headers(headers...)
	for _, stat := range []struct {
		label  string
		values []float64
	}{{"Min", stats.Min}, {"Max", stats.Max}, {"Avg", stats.Avg}, {"Std", stats.Std}} {
		row := []string{stat.label}
		for _, j := range columns {
			row = append(row, fmt.Sprintf("%.2f", stat.values[j]/bytesPerGiB))
		}
		table.Row(row...)
	}
	return table.Render()
}
