package stresstest

import (
	"sort"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"

	"github.com/studiowebux/difyload/internal/hostmon"
	"github.com/studiowebux/difyload/internal/types"
)

// EndpointReport summarizes the samples of one named request
type EndpointReport struct {
	Method      string         `json:"method" yaml:"method"`
	Name        string         `json:"name" yaml:"name"`
	Requests    int            `json:"requests" yaml:"requests"`
	Failures    int            `json:"failures" yaml:"failures"`
	FailureRate float64        `json:"failureRate" yaml:"failureRate"` // fraction
	MeanMs      float64        `json:"meanMs" yaml:"meanMs"`
	MinMs       float64        `json:"minMs" yaml:"minMs"`
	P50Ms       float64        `json:"p50Ms" yaml:"p50Ms"`
	P95Ms       float64        `json:"p95Ms" yaml:"p95Ms"`
	P99Ms       float64        `json:"p99Ms" yaml:"p99Ms"`
	MaxMs       float64        `json:"maxMs" yaml:"maxMs"`
	RPS         float64        `json:"rps" yaml:"rps"`
	BytesIn     uint64         `json:"bytesIn" yaml:"bytesIn"`
	BytesOut    uint64         `json:"bytesOut" yaml:"bytesOut"`
	StatusCodes map[string]int `json:"statusCodes,omitempty" yaml:"statusCodes,omitempty"`
}

// FailureCount is one row of the failure table: how often a request failed
// with a given message
type FailureCount struct {
	Method  string `json:"method" yaml:"method"`
	Name    string `json:"name" yaml:"name"`
	Message string `json:"message" yaml:"message"`
	Count   int    `json:"count" yaml:"count"`
}

// Report is the end-of-run summary
type Report struct {
	RunID     int64            `json:"runId,omitempty" yaml:"runId,omitempty"`
	Scenario  string           `json:"scenario" yaml:"scenario"`
	Mode      string           `json:"mode" yaml:"mode"`
	Status    string           `json:"status" yaml:"status"`
	StartedAt time.Time        `json:"startedAt" yaml:"startedAt"`
	ElapsedS  float64          `json:"elapsedSeconds" yaml:"elapsedSeconds"`
	Users     int              `json:"users" yaml:"users"`
	Total     EndpointReport   `json:"total" yaml:"total"`
	Endpoints []EndpointReport `json:"endpoints" yaml:"endpoints"`
	Failures  []FailureCount   `json:"failures,omitempty" yaml:"failures,omitempty"`
	Verdict   *Verdict         `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Host      *hostmon.Summary `json:"host,omitempty" yaml:"host,omitempty"`
	Error     string           `json:"error,omitempty" yaml:"error,omitempty"`
}

type endpointKey struct {
	method string
	name   string
}

type failureKey struct {
	endpointKey
	message string
}

// endpointTally accumulates the latency distribution of one endpoint
type endpointTally struct {
	requests int
	failures int
	latency  vegeta.Metrics
}

// aggregator turns samples into per-endpoint vegeta metrics. It is owned by
// the collector goroutine.
type aggregator struct {
	endpoints map[endpointKey]*endpointTally
	total     endpointTally
	failures  map[failureKey]int
	seq       uint64
}

func newAggregator() *aggregator {
	return &aggregator{
		endpoints: make(map[endpointKey]*endpointTally),
		failures:  make(map[failureKey]int),
	}
}

func (a *aggregator) add(s types.Sample) {
	key := endpointKey{method: s.Method, name: s.Name}
	ep, ok := a.endpoints[key]
	if !ok {
		ep = &endpointTally{}
		a.endpoints[key] = ep
	}

	ep.requests++
	a.total.requests++
	if s.Failed() {
		ep.failures++
		a.total.failures++
		a.failures[failureKey{endpointKey: key, message: s.Failure}]++
	}

	// scenario errors have no response to measure
	if s.Method == types.MethodError {
		return
	}

	a.seq++
	res := &vegeta.Result{
		Seq:       a.seq,
		Code:      uint16(s.StatusCode),
		Timestamp: s.Timestamp,
		Latency:   s.Duration,
		BytesOut:  uint64(max(s.RequestSize, 0)),
		BytesIn:   uint64(max(s.ResponseSize, 0)),
		Error:     s.Failure,
		Method:    s.Method,
		URL:       s.Name,
	}
	ep.latency.Add(res)
	a.total.latency.Add(res)
}

func (a *aggregator) report(elapsed time.Duration) (EndpointReport, []EndpointReport, []FailureCount) {
	total := a.total.summarize("", "Aggregated", elapsed)

	endpoints := make([]EndpointReport, 0, len(a.endpoints))
	for key, ep := range a.endpoints {
		endpoints = append(endpoints, ep.summarize(key.method, key.name, elapsed))
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Name != endpoints[j].Name {
			return endpoints[i].Name < endpoints[j].Name
		}
		return endpoints[i].Method < endpoints[j].Method
	})

	failures := make([]FailureCount, 0, len(a.failures))
	for key, n := range a.failures {
		failures = append(failures, FailureCount{
			Method:  key.method,
			Name:    key.name,
			Message: key.message,
			Count:   n,
		})
	}
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Count != failures[j].Count {
			return failures[i].Count > failures[j].Count
		}
		if failures[i].Name != failures[j].Name {
			return failures[i].Name < failures[j].Name
		}
		return failures[i].Message < failures[j].Message
	})

	return total, endpoints, failures
}

func (t *endpointTally) summarize(method, name string, elapsed time.Duration) EndpointReport {
	r := EndpointReport{
		Method:   method,
		Name:     name,
		Requests: t.requests,
		Failures: t.failures,
	}
	if t.requests > 0 {
		r.FailureRate = float64(t.failures) / float64(t.requests)
	}
	if elapsed > 0 {
		r.RPS = float64(t.requests) / elapsed.Seconds()
	}

	if t.latency.Requests == 0 {
		return r
	}
	t.latency.Close()

	l := t.latency.Latencies
	r.MeanMs = toMs(l.Mean)
	r.MinMs = toMs(l.Min)
	r.P50Ms = toMs(l.P50)
	r.P95Ms = toMs(l.P95)
	r.P99Ms = toMs(l.P99)
	r.MaxMs = toMs(l.Max)
	r.BytesIn = t.latency.BytesIn.Total
	r.BytesOut = t.latency.BytesOut.Total
	r.StatusCodes = t.latency.StatusCodes
	return r
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
