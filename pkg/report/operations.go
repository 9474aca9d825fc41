package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/types"
)

// LogSummary is the contract exposed by the log analysis collaborator
type LogSummary struct {
	TotalIssues    int
	CriticalIssues int
}

// OperationsData is everything a daily report needs
type OperationsData struct {
	Timestamp time.Time
	Snapshot  *types.MetricsSnapshot
	Incidents []*types.Incident
	Logs      LogSummary
}

// WeeklyData aggregates seven days of observations
type WeeklyData struct {
	Timestamp time.Time
	Snapshots []*types.MetricsSnapshot
	Incidents []*types.Incident
	Logs      LogSummary
}

const weeklyIncidentCap = 10

// WriteDailyReport renders and persists the daily operations report
func (w *Writer) WriteDailyReport(data OperationsData) (string, error) {
	return w.write(fmt.Sprintf("daily-%s.md", data.Timestamp.Format("2006-01-02")), RenderDailyReport(data))
}

// WriteWeeklyReport renders and persists the weekly operations report
func (w *Writer) WriteWeeklyReport(data WeeklyData) (string, error) {
	return w.write(fmt.Sprintf("weekly-%s.md", data.Timestamp.Format("2006-01-02")), RenderWeeklyReport(data))
}

func (w *Writer) write(name, content string) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// RenderDailyReport produces the daily operations markdown
func RenderDailyReport(data OperationsData) string {
	var b strings.Builder

	b.WriteString("# Daily Operations Report\n\n")
	fmt.Fprintf(&b, "**Date:** %s\n\n", data.Timestamp.Format("2006-01-02"))

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "%d incidents, %d log issues detected (%d critical).\n\n",
		len(data.Incidents), data.Logs.TotalIssues, data.Logs.CriticalIssues)

	b.WriteString("## System Health\n\n")
	if data.Snapshot != nil {
		b.WriteString("### CPU Usage\n\n")
		fmt.Fprintf(&b, "%.1f%%\n\n", data.Snapshot.System.CPU)
		b.WriteString("### Memory Usage\n\n")
		fmt.Fprintf(&b, "%.1f%%\n\n", data.Snapshot.System.Memory.Percentage)
		b.WriteString("### Disk Usage\n\n")
		for _, d := range data.Snapshot.System.Disk {
			fmt.Fprintf(&b, "- %s (%s): %.1f%%\n", d.Mount, d.Device, d.Percentage)
		}
		b.WriteString("\n")
	}

	writeIncidentSection(&b, data.Incidents, 0)

	b.WriteString("## Log Analysis Summary\n\n")
	fmt.Fprintf(&b, "**Total Issues Detected:** %d\n\n", data.Logs.TotalIssues)
	fmt.Fprintf(&b, "**Critical Issues:** %d\n\n", data.Logs.CriticalIssues)

	writeRecommendations(&b, data.Snapshot, len(data.Incidents))

	return b.String()
}

// RenderWeeklyReport produces the weekly operations markdown
func RenderWeeklyReport(data WeeklyData) string {
	var b strings.Builder

	b.WriteString("# Weekly Operations Report\n\n")
	b.WriteString("**Period:** Last 7 days\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n\n", data.Timestamp.Format("2006-01-02"))

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "%d incidents over the period, %d log issues detected (%d critical).\n\n",
		len(data.Incidents), data.Logs.TotalIssues, data.Logs.CriticalIssues)

	b.WriteString("## System Health\n\n")
	writeStatLines(&b, "CPU Usage", collect(data.Snapshots, func(s *types.MetricsSnapshot) float64 {
		return s.System.CPU
	}))
	writeStatLines(&b, "Memory Usage", collect(data.Snapshots, func(s *types.MetricsSnapshot) float64 {
		return s.System.Memory.Percentage
	}))
	writeStatLines(&b, "Disk Usage", collect(data.Snapshots, maxDisk))

	writeIncidentSection(&b, data.Incidents, weeklyIncidentCap)

	b.WriteString("## Log Analysis Summary\n\n")
	fmt.Fprintf(&b, "**Total Issues Detected:** %d\n\n", data.Logs.TotalIssues)
	fmt.Fprintf(&b, "**Critical Issues:** %d\n\n", data.Logs.CriticalIssues)

	var latest *types.MetricsSnapshot
	if len(data.Snapshots) > 0 {
		latest = data.Snapshots[len(data.Snapshots)-1]
	}
	writeRecommendations(&b, latest, len(data.Incidents))

	return b.String()
}

// writeIncidentSection lists incidents, newest first, capped when limit > 0
func writeIncidentSection(b *strings.Builder, incidents []*types.Incident, limit int) {
	if len(incidents) == 0 {
		b.WriteString("## Incidents\n\n")
		b.WriteString("No incidents in the last 24 hours.\n\n")
		return
	}

	fmt.Fprintf(b, "## Incidents (%d)\n\n", len(incidents))

	sorted := make([]*types.Incident, len(incidents))
	copy(sorted, incidents)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	if limit > 0 && len(sorted) > limit {
		fmt.Fprintf(b, "Top %d shown.\n\n", limit)
		sorted = sorted[:limit]
	}

	for _, inc := range sorted {
		status := "✅"
		if !inc.Success {
			status = "❌"
		}
		fmt.Fprintf(b, "- %s `%s` %s (%s)\n", status, inc.ID, inc.Scenario,
			inc.Timestamp.Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")
}

func writeRecommendations(b *strings.Builder, snapshot *types.MetricsSnapshot, incidentCount int) {
	b.WriteString("## Recommendations\n\n")

	var recs []string
	if snapshot != nil {
		if snapshot.System.CPU > 90 {
			recs = append(recs, "🔴 CPU usage above 90%: investigate top consumers and consider scaling")
		}
		if snapshot.System.Memory.Percentage > 90 {
			recs = append(recs, "🔴 Memory usage above 90%: check for leaks and restart offenders")
		}
		for _, d := range snapshot.System.Disk {
			if d.Percentage > 85 {
				recs = append(recs, fmt.Sprintf("🟡 Disk usage on %s above 85%%: clean up or expand", d.Mount))
				break
			}
		}
	}
	if incidentCount > 5 {
		recs = append(recs, fmt.Sprintf("⚠️ %d incidents in the period: review recurring scenarios", incidentCount))
	}
	if len(recs) == 0 {
		recs = append(recs, "✅ All Systems Nominal")
	}

	for _, r := range recs {
		fmt.Fprintf(b, "- %s\n", r)
	}
	b.WriteString("\n")
}

func writeStatLines(b *strings.Builder, title string, values []float64) {
	fmt.Fprintf(b, "### %s\n\n", title)
	if len(values) == 0 {
		b.WriteString("No data.\n\n")
		return
	}

	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	fmt.Fprintf(b, "Min: %.1f%%\n", min)
	fmt.Fprintf(b, "Max: %.1f%%\n", max)
	fmt.Fprintf(b, "Avg: %.1f%%\n\n", sum/float64(len(values)))
}

func collect(snapshots []*types.MetricsSnapshot, f func(*types.MetricsSnapshot) float64) []float64 {
	out := make([]float64, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, f(s))
	}
	return out
}

func maxDisk(s *types.MetricsSnapshot) float64 {
	var max float64
	for _, d := range s.System.Disk {
		if d.Percentage > max {
			max = d.Percentage
		}
	}
	return max
}
