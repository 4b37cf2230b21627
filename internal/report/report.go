// Package report renders load test results for the terminal and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/difyload/internal/hostmon"
	"github.com/studiowebux/difyload/internal/stresstest"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formats lists the accepted output formats
var Formats = []string{FormatText, FormatJSON, FormatYAML}

// Format renders a report in the given format. An empty format is text.
func Format(r *stresstest.Report, format string) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil

	case FormatYAML:
		data, err := yaml.Marshal(r)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case FormatText, "":
		return Text(r), nil

	default:
		return "", fmt.Errorf("unknown output format %q (expected one of: %s)", format, strings.Join(Formats, ", "))
	}
}

// Text renders the end-of-run summary: header, endpoint table, failures and verdict
func Text(r *stresstest.Report) string {
	var sb strings.Builder

	sb.WriteString(StyleTitle.Render("Load Test Summary") + "\n")
	if r.RunID > 0 {
		sb.WriteString(fmt.Sprintf("Run:       #%d\n", r.RunID))
	}
	sb.WriteString(fmt.Sprintf("Scenario:  %s (%s)\n", r.Scenario, r.Mode))
	sb.WriteString(fmt.Sprintf("Status:    %s\n", StatusStyle(r.Status).Render(r.Status)))
	sb.WriteString(fmt.Sprintf("Users:     %d\n", r.Users))
	sb.WriteString(fmt.Sprintf("Elapsed:   %s\n", FormatDuration(time.Duration(r.ElapsedS*float64(time.Second)))))
	sb.WriteString("\n")

	sb.WriteString(StyleTitle.Render("Requests") + "\n")
	sb.WriteString(EndpointTable(r.Endpoints, &r.Total) + "\n")

	if len(r.Failures) > 0 {
		sb.WriteString("\n" + StyleTitle.Render("Failures") + "\n")
		sb.WriteString(failureTable(r.Failures) + "\n")
	}

	if r.Error != "" {
		sb.WriteString("\n" + StyleError.Render("Run failed: "+r.Error) + "\n")
	}

	if r.Host != nil && r.Host.Samples > 0 {
		sb.WriteString("\n" + StyleTitle.Render("Load Host") + "\n")
		sb.WriteString(HostText(r.Host))
	}

	if r.Verdict != nil {
		sb.WriteString("\n" + StyleTitle.Render("Thresholds") + "\n")
		sb.WriteString(VerdictText(r.Verdict))
	}

	return sb.String()
}

// EndpointTable renders one row per endpoint, plus the aggregated row when total is set
func EndpointTable(endpoints []stresstest.EndpointReport, total *stresstest.EndpointReport) string {
	t := newTable("Type", "Name", "Reqs", "Fails", "Mean", "P50", "P95", "P99", "Max", "Req/s")
	for _, ep := range endpoints {
		t.Row(endpointRow(ep)...)
	}
	if total != nil {
		t.Row(endpointRow(*total)...)
	}
	return t.Render()
}

func endpointRow(ep stresstest.EndpointReport) []string {
	fails := fmt.Sprintf("%d (%.2f%%)", ep.Failures, ep.FailureRate*100)
	return []string{
		ep.Method,
		ep.Name,
		strconv.Itoa(ep.Requests),
		fails,
		formatMs(ep.MeanMs),
		formatMs(ep.P50Ms),
		formatMs(ep.P95Ms),
		formatMs(ep.P99Ms),
		formatMs(ep.MaxMs),
		fmt.Sprintf("%.2f", ep.RPS),
	}
}

func failureTable(failures []stresstest.FailureCount) string {
	t := newTable("Count", "Type", "Name", "Message")
	for _, f := range failures {
		t.Row(strconv.Itoa(f.Count), f.Method, f.Name, f.Message)
	}
	return t.Render()
}

// HostText renders the resource usage of the machine that generated the load
func HostText(h *hostmon.Summary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Samples:   %d\n", h.Samples))
	sb.WriteString(fmt.Sprintf("CPU:       avg %.1f%%, max %.1f%%\n", h.CPUAvgPercent, h.CPUMaxPercent))
	sb.WriteString(fmt.Sprintf("Memory:    avg %.1f%%, max %.1f%%\n", h.MemoryAvgPercent, h.MemoryMaxPercent))
	sb.WriteString(fmt.Sprintf("Disk busy: max %.1f%%\n", h.DiskBusyMaxPercent))
	sb.WriteString(fmt.Sprintf("Disk I/O:  %s read, %s written\n", formatBytes(h.DiskReadBytes), formatBytes(h.DiskWriteBytes)))
	sb.WriteString(fmt.Sprintf("Network:   %s sent, %s received\n", formatBytes(h.NetSentBytes), formatBytes(h.NetRecvBytes)))
	return sb.String()
}

// VerdictText renders one line per threshold check and the overall result
func VerdictText(v *stresstest.Verdict) string {
	var sb strings.Builder
	for _, c := range v.Checks {
		style := StyleSuccess
		if !c.Passed {
			style = StyleError
		}
		sb.WriteString(style.Render(c.String()) + "\n")
	}
	if v.Passed() {
		sb.WriteString(StyleSuccess.Render("PASSED") + "\n")
	} else {
		sb.WriteString(StyleError.Render("FAILED") + "\n")
	}
	return sb.String()
}

// RunList renders stored runs, newest first
func RunList(runs []*stresstest.Run) string {
	if len(runs) == 0 {
		return "No runs found.\n"
	}

	now := time.Now()
	t := newTable("ID", "Started", "Scenario", "Mode", "Users", "Status", "Reqs", "Fails", "P95", "Req/s", "Verdict")
	for _, run := range runs {
		t.Row(
			strconv.FormatInt(run.ID, 10),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.Scenario,
			run.Mode,
			fmt.Sprintf("%d+%d", run.APIUsers, run.SandboxUsers),
			run.DisplayStatus(now),
			strconv.Itoa(run.TotalRequests),
			strconv.Itoa(run.TotalFailures),
			fmt.Sprintf("%dms", run.P95DurationMs),
			fmt.Sprintf("%.2f", run.RPS),
			verdictLabel(run.Passed),
		)
	}
	return t.Render() + "\n"
}

// RunDetails renders a stored run with its per-endpoint summary
func RunDetails(run *stresstest.Run, endpoints []stresstest.EndpointSummary) string {
	var sb strings.Builder

	sb.WriteString(StyleTitle.Render(fmt.Sprintf("Run #%d", run.ID)) + "\n\n")

	sb.WriteString(StyleTitle.Render("Status") + "\n")
	sb.WriteString(fmt.Sprintf("Scenario:   %s (%s)\n", run.Scenario, run.Mode))
	sb.WriteString(fmt.Sprintf("Users:      %d API, %d sandbox, spawn %.1f/s\n", run.APIUsers, run.SandboxUsers, run.SpawnRate))
	status := run.DisplayStatus(time.Now())
	sb.WriteString(fmt.Sprintf("Status:     %s\n", StatusStyle(status).Render(status)))
	sb.WriteString(fmt.Sprintf("Started:    %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05")))
	if status == stresstest.StatusStale {
		sb.WriteString("            still marked running past its planned end; the process likely exited\n")
	}
	if run.IsCompleted() && run.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("Completed:  %s\n", run.CompletedAt.Local().Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("Duration:   %s\n", FormatDuration(run.CompletedAt.Sub(run.StartedAt))))
	}
	sb.WriteString(fmt.Sprintf("Verdict:    %s\n", verdictLabel(run.Passed)))
	sb.WriteString("\n")

	sb.WriteString(StyleTitle.Render("Requests") + "\n")
	sb.WriteString(fmt.Sprintf("Completed:  %d\n", run.TotalRequests))
	sb.WriteString(fmt.Sprintf("Failures:   %d\n", run.TotalFailures))
	sb.WriteString(fmt.Sprintf("Transport:  %d\n", run.TotalTransportErrors))
	if run.TotalRequests > 0 {
		rate := float64(run.TotalFailures) / float64(run.TotalRequests) * 100
		sb.WriteString(fmt.Sprintf("Error Rate: %.2f%%\n", rate))
	}
	sb.WriteString(fmt.Sprintf("Req/s:      %.2f\n", run.RPS))
	sb.WriteString("\n")

	sb.WriteString(StyleTitle.Render("Latency") + "\n")
	sb.WriteString(fmt.Sprintf("Average:    %.0fms\n", run.AvgDurationMs))
	sb.WriteString(fmt.Sprintf("Min:        %dms\n", run.MinDurationMs))
	sb.WriteString(fmt.Sprintf("Max:        %dms\n", run.MaxDurationMs))
	sb.WriteString(fmt.Sprintf("P50:        %dms\n", run.P50DurationMs))
	sb.WriteString(fmt.Sprintf("P95:        %dms\n", run.P95DurationMs))
	sb.WriteString(fmt.Sprintf("P99:        %dms\n", run.P99DurationMs))

	if len(endpoints) > 0 {
		sb.WriteString("\n" + StyleTitle.Render("Endpoints") + "\n")
		t := newTable("Type", "Name", "Reqs", "Fails", "Avg", "Max")
		for _, ep := range endpoints {
			t.Row(ep.Method, ep.Name, strconv.Itoa(ep.Requests), strconv.Itoa(ep.Failures),
				formatMs(ep.AvgDurationMs), fmt.Sprintf("%dms", ep.MaxDurationMs))
		}
		sb.WriteString(t.Render() + "\n")
	}

	return sb.String()
}

// SampleTable renders the stored samples of a run in arrival order
func SampleTable(samples []*stresstest.Metric) string {
	if len(samples) == 0 {
		return "No samples stored.\n"
	}

	t := newTable("Elapsed", "Type", "Name", "Status", "Duration", "Failure")
	for _, m := range samples {
		code := strconv.Itoa(m.StatusCode)
		if m.Transport {
			code = "-"
		}
		t.Row(
			FormatDuration(time.Duration(m.ElapsedMs)*time.Millisecond),
			m.Method,
			m.Name,
			code,
			fmt.Sprintf("%dms", m.DurationMs),
			m.Failure,
		)
	}
	return t.Render() + "\n"
}

// TaskWeights is the weight table of one domain
type TaskWeights struct {
	Domain string
	Tasks  map[string]int
}

// WeightTable renders the task weights of each domain, heaviest first
func WeightTable(domains []TaskWeights) string {
	var sb strings.Builder
	for _, d := range domains {
		sb.WriteString(StyleTitle.Render(d.Domain) + "\n")

		names := make([]string, 0, len(d.Tasks))
		total := 0
		for name, w := range d.Tasks {
			names = append(names, name)
			total += w
		}
		sort.Slice(names, func(i, j int) bool {
			if d.Tasks[names[i]] != d.Tasks[names[j]] {
				return d.Tasks[names[i]] > d.Tasks[names[j]]
			}
			return names[i] < names[j]
		})

		t := newTable("Task", "Weight", "Share")
		for _, name := range names {
			w := d.Tasks[name]
			t.Row(name, strconv.Itoa(w), fmt.Sprintf("%.1f%%", float64(w)/float64(total)*100))
		}
		sb.WriteString(t.Render() + "\n\n")
	}
	return sb.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styleBorder).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		})
}

func verdictLabel(passed *bool) string {
	switch {
	case passed == nil:
		return "-"
	case *passed:
		return StyleSuccess.Render("pass")
	default:
		return StyleError.Render("fail")
	}
}

func formatMs(ms float64) string {
	if ms >= 10 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.1fms", ms)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
