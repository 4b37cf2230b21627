package stresstest

import (
	"fmt"

	"github.com/studiowebux/difyload/internal/config"
	"github.com/studiowebux/difyload/internal/hostmon"
)

// Check names
const (
	CheckP95       = "p95"
	CheckP99       = "p99"
	CheckErrorRate = "error_rate"
	CheckMinRPS    = "min_rps"

	CheckHostCPU      = "host_cpu"
	CheckHostMemory   = "host_memory"
	CheckHostDiskBusy = "host_disk_busy"
)

// Check is the outcome of one threshold
type Check struct {
	Name   string  `json:"name" yaml:"name"`
	Limit  float64 `json:"limit" yaml:"limit"`
	Actual float64 `json:"actual" yaml:"actual"`
	Unit   string  `json:"unit" yaml:"unit"`
	Passed bool    `json:"passed" yaml:"passed"`
}

func (c Check) String() string {
	status := "PASS"
	if !c.Passed {
		status = "FAIL"
	}
	return fmt.Sprintf("%s: %.3f%s (limit %.3f%s) %s", c.Name, c.Actual, c.Unit, c.Limit, c.Unit, status)
}

// Verdict is the list of threshold checks of a run
type Verdict struct {
	Checks []Check `json:"checks" yaml:"checks"`
}

// Evaluate checks the aggregated totals against the thresholds. Latency and
// throughput checks with a zero limit are skipped; the error rate is always
// checked.
func Evaluate(total EndpointReport, t config.Thresholds) *Verdict {
	v := &Verdict{}

	if t.P95Ms > 0 {
		v.Checks = append(v.Checks, Check{
			Name:   CheckP95,
			Limit:  float64(t.P95Ms),
			Actual: total.P95Ms,
			Unit:   "ms",
			Passed: total.P95Ms <= float64(t.P95Ms),
		})
	}
	if t.P99Ms > 0 {
		v.Checks = append(v.Checks, Check{
			Name:   CheckP99,
			Limit:  float64(t.P99Ms),
			Actual: total.P99Ms,
			Unit:   "ms",
			Passed: total.P99Ms <= float64(t.P99Ms),
		})
	}

	v.Checks = append(v.Checks, Check{
		Name:   CheckErrorRate,
		Limit:  t.ErrorRate * 100,
		Actual: total.FailureRate * 100,
		Unit:   "%",
		Passed: total.FailureRate <= t.ErrorRate,
	})

	if t.MinRPS > 0 {
		v.Checks = append(v.Checks, Check{
			Name:   CheckMinRPS,
			Limit:  t.MinRPS,
			Actual: total.RPS,
			Unit:   " req/s",
			Passed: total.RPS >= t.MinRPS,
		})
	}

	return v
}

// AddHostChecks compares the peak usage of the load host against the host
// limits. Nothing is added without samples; a zero limit is skipped.
func (v *Verdict) AddHostChecks(host *hostmon.Summary, t config.Thresholds) {
	if host == nil || host.Samples == 0 {
		return
	}
	limits := []struct {
		name   string
		limit  float64
		actual float64
	}{
		{CheckHostCPU, t.CPUPercent, host.CPUMaxPercent},
		{CheckHostMemory, t.MemoryPercent, host.MemoryMaxPercent},
		{CheckHostDiskBusy, t.DiskBusyPercent, host.DiskBusyMaxPercent},
	}
	for _, l := range limits {
		if l.limit <= 0 {
			continue
		}
		v.Checks = append(v.Checks, Check{
			Name:   l.name,
			Limit:  l.limit,
			Actual: l.actual,
			Unit:   "%",
			Passed: l.actual <= l.limit,
		})
	}
}

// Passed returns true if every check passed
func (v *Verdict) Passed() bool {
	for _, c := range v.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Check returns the check with the given name
func (v *Verdict) Check(name string) (Check, bool) {
	for _, c := range v.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// ExitCode is 1 when the error rate is exceeded, or when any check fails
// and strict is set
func (v *Verdict) ExitCode(strict bool) int {
	if c, ok := v.Check(CheckErrorRate); ok && !c.Passed {
		return 1
	}
	if strict && !v.Passed() {
		return 1
	}
	return 0
}
