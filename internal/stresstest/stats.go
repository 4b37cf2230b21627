package stresstest

import (
	"maps"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"

	"github.com/studiowebux/difyload/internal/types"
)

// SnapshotPercentiles are the percentiles a cloned Stats can answer
var SnapshotPercentiles = []float64{50, 90, 95, 99}

// EndpointCount is the running tally of one named request
type EndpointCount struct {
	Requests int
	Failures int
}

// Stats holds runtime statistics for a load test
type Stats struct {
	CompletedRequests   int // every recorded sample, scenario errors included
	SuccessCount        int
	FailureCount        int // responses marked as failed
	TransportErrorCount int // no response (timeouts, connection failures)
	ScenarioErrorCount  int // "ERROR" samples
	ActiveUsers         int
	TargetUsers         int
	Elapsed             time.Duration
	Duration            time.Duration // 0 when the run has no time limit
	Measured            int           // samples with a response time
	TotalDurationMs     int64
	MinDurationMs       int64
	MaxDurationMs       int64
	Endpoints           map[string]EndpointCount // keyed by "METHOD name"

	latencies *vegeta.LatencyMetrics // streaming quantile estimator, nil on clones
	frozen    map[float64]int64      // SnapshotPercentiles taken by Clone
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		MinDurationMs: -1,
		MaxDurationMs: -1,
		Endpoints:     make(map[string]EndpointCount),
		latencies:     &vegeta.LatencyMetrics{},
	}
}

// AddSample adds a recorded sample to the statistics. Scenario errors count
// as failed requests but carry no response time.
func (s *Stats) AddSample(sample types.Sample) {
	key := sample.Method + " " + sample.Name
	ep := s.Endpoints[key]
	ep.Requests++
	if sample.Failed() {
		ep.Failures++
	}
	s.Endpoints[key] = ep

	if sample.Method == types.MethodError {
		s.CompletedRequests++
		s.ScenarioErrorCount++
		return
	}
	s.AddResult(sample.Duration.Milliseconds(), sample.Transport, sample.Failed() && !sample.Transport)
}

// AddResult adds a request result to the statistics
// isTransportError: true for connection failures, timeouts, etc.
// isFailure: true for responses the scenario marked as failed
func (s *Stats) AddResult(durationMs int64, isTransportError bool, isFailure bool) {
	s.CompletedRequests++
	s.TotalDurationMs += durationMs
	s.Measured++
	s.latencies.Add(time.Duration(durationMs) * time.Millisecond)

	if isTransportError {
		s.TransportErrorCount++
	} else if isFailure {
		s.FailureCount++
	} else {
		s.SuccessCount++
	}

	// Update min/max
	if s.MinDurationMs == -1 || durationMs < s.MinDurationMs {
		s.MinDurationMs = durationMs
	}
	if s.MaxDurationMs == -1 || durationMs > s.MaxDurationMs {
		s.MaxDurationMs = durationMs
	}
}

// Clone returns a read-only copy. The estimator is not copied: the clone
// keeps the SnapshotPercentiles computed at the time of the call and cannot
// take more results.
func (s *Stats) Clone() *Stats {
	c := *s
	c.Endpoints = maps.Clone(s.Endpoints)
	c.latencies = nil
	c.frozen = make(map[float64]int64, len(SnapshotPercentiles))
	for i, v := range s.Percentiles(SnapshotPercentiles...) {
		c.frozen[SnapshotPercentiles[i]] = v
	}
	return &c
}

// TotalFailures returns every failed sample: responses, transport errors and scenario errors
func (s *Stats) TotalFailures() int {
	return s.FailureCount + s.TransportErrorCount + s.ScenarioErrorCount
}

// AvgDurationMs returns the average response time in milliseconds
func (s *Stats) AvgDurationMs() float64 {
	if s.Measured == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.Measured)
}

// Min returns the minimum duration, or 0 if no results
func (s *Stats) Min() int64 {
	if s.MinDurationMs == -1 {
		return 0
	}
	return s.MinDurationMs
}

// Max returns the maximum duration, or 0 if no results
func (s *Stats) Max() int64 {
	if s.MaxDurationMs == -1 {
		return 0
	}
	return s.MaxDurationMs
}

// Percentile calculates the percentile value (p should be between 0 and 100)
func (s *Stats) Percentile(p float64) int64 {
	return s.Percentiles(p)[0]
}

// Percentiles returns several percentiles in milliseconds. The bounds are
// exact; values in between are estimated. On a clone, percentiles outside
// SnapshotPercentiles are 0.
func (s *Stats) Percentiles(ps ...float64) []int64 {
	out := make([]int64, len(ps))
	if s.Measured == 0 {
		return out
	}

	for i, p := range ps {
		switch {
		case p <= 0:
			out[i] = s.Min()
		case p >= 100:
			out[i] = s.Max()
		case s.latencies == nil:
			out[i] = s.frozen[p]
		default:
			out[i] = s.latencies.Quantile(p / 100).Milliseconds()
		}
	}
	return out
}

// P50 returns the 50th percentile (median)
func (s *Stats) P50() int64 {
	return s.Percentile(50)
}

// P95 returns the 95th percentile
func (s *Stats) P95() int64 {
	return s.Percentile(95)
}

// P99 returns the 99th percentile
func (s *Stats) P99() int64 {
	return s.Percentile(99)
}

// SuccessRate returns the success rate as a percentage
func (s *Stats) SuccessRate() float64 {
	if s.CompletedRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CompletedRequests) * 100
}

// ErrorRate returns the share of failed samples as a percentage
func (s *Stats) ErrorRate() float64 {
	if s.CompletedRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures()) / float64(s.CompletedRequests) * 100
}

// RPS returns the completed requests per second over the elapsed time
func (s *Stats) RPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.CompletedRequests) / s.Elapsed.Seconds()
}

// Progress returns the elapsed share of the run duration as a percentage
func (s *Stats) Progress() float64 {
	if s.Duration == 0 {
		return 0
	}
	p := float64(s.Elapsed) / float64(s.Duration) * 100
	if p > 100 {
		return 100
	}
	return p
}
