package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/studiowebux/difyload/internal/report"
	"github.com/studiowebux/difyload/internal/stresstest"
)

// maxEndpointRows bounds the endpoint list on the dashboard
const maxEndpointRows = 8

var (
	colorCyan = lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"}

	styleModal = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(1, 2)
)

// View renders the dashboard
func (m Model) View() string {
	stats := m.stats
	var content strings.Builder

	title := "Load Test - Running"
	switch {
	case m.report != nil:
		title = "Load Test - Finished"
	case m.stopping:
		title = "Load Test - Stopping"
	}
	content.WriteString(report.StyleTitle.Render(title))
	if m.title != "" {
		content.WriteString(" " + report.StyleSubtle.Render(m.title))
	}
	content.WriteString("\n\n")

	// Progress section
	content.WriteString(report.StyleTitle.Render("Progress") + "\n")
	if stats.Duration > 0 {
		content.WriteString(m.progress.ViewAs(stats.Progress()/100) + "\n")
		content.WriteString(fmt.Sprintf("Elapsed: %s / %s\n",
			report.FormatDuration(stats.Elapsed), report.FormatDuration(stats.Duration)))
	} else {
		content.WriteString(fmt.Sprintf("Elapsed: %s (no time limit)\n", report.FormatDuration(stats.Elapsed)))
	}
	content.WriteString(fmt.Sprintf("Users:   %d active / %d\n", stats.ActiveUsers, stats.TargetUsers))

	if m.stopping && m.report == nil {
		msg := fmt.Sprintf("Waiting for %d active users to finish their calls...", stats.ActiveUsers)
		content.WriteString(report.StyleWarning.Render(msg) + "\n")
	}
	content.WriteString("\n")

	// Statistics section
	content.WriteString(report.StyleTitle.Render("Statistics") + "\n")
	ps := stats.Percentiles(50, 95, 99)

	leftCol := []string{
		fmt.Sprintf("Requests:   %d", stats.CompletedRequests),
		fmt.Sprintf("Success:    %d", stats.SuccessCount),
		fmt.Sprintf("Failures:   %d", stats.FailureCount),
		fmt.Sprintf("Transport:  %d", stats.TransportErrorCount),
		fmt.Sprintf("Scenario:   %d", stats.ScenarioErrorCount),
	}
	rightCol := []string{
		fmt.Sprintf("Avg:  %.0fms", stats.AvgDurationMs()),
		fmt.Sprintf("Min:  %dms", stats.Min()),
		fmt.Sprintf("P50:  %dms", ps[0]),
		fmt.Sprintf("P95:  %dms", ps[1]),
		fmt.Sprintf("P99:  %dms", ps[2]),
	}
	for i := range leftCol {
		content.WriteString(fmt.Sprintf("%-25s%s\n", leftCol[i], rightCol[i]))
	}

	errStyle := report.StyleSuccess
	if stats.TotalFailures() > 0 {
		errStyle = report.StyleError
	}
	content.WriteString(fmt.Sprintf("\nRequests/sec: %.2f   Error rate: %s\n",
		stats.RPS(), errStyle.Render(fmt.Sprintf("%.2f%%", stats.ErrorRate()))))

	if rows := endpointRows(stats); len(rows) > 0 {
		content.WriteString("\n" + report.StyleTitle.Render("Endpoints") + "\n")
		for _, row := range rows {
			content.WriteString(row + "\n")
		}
	}

	// Instructions
	content.WriteString("\n")
	footer := "q/esc/ctrl+c: Stop test"
	if m.stopping {
		footer = "Stopping test gracefully... please wait"
	}
	content.WriteString(report.StyleSubtle.Render(footer))

	modalWidth := min(max(m.width-4, 40), 100)
	return styleModal.Width(modalWidth).Render(content.String()) + "\n"
}

// endpointRows lists the busiest endpoints first
func endpointRows(stats *stresstest.Stats) []string {
	keys := make([]string, 0, len(stats.Endpoints))
	for key := range stats.Endpoints {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := stats.Endpoints[keys[i]], stats.Endpoints[keys[j]]
		if a.Requests != b.Requests {
			return a.Requests > b.Requests
		}
		return keys[i] < keys[j]
	})
	if len(keys) > maxEndpointRows {
		keys = keys[:maxEndpointRows]
	}

	rows := make([]string, 0, len(keys))
	for _, key := range keys {
		ep := stats.Endpoints[key]
		line := fmt.Sprintf("%-45s %6d reqs", key, ep.Requests)
		if ep.Failures > 0 {
			line += report.StyleError.Render(fmt.Sprintf(" %6d fails", ep.Failures))
		}
		rows = append(rows, line)
	}
	return rows
}
