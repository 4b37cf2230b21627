package stresstest

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/difyload/internal/config"
	"github.com/studiowebux/difyload/internal/hostmon"
	"github.com/studiowebux/difyload/internal/metrics"
	"github.com/studiowebux/difyload/internal/poller"
	"github.com/studiowebux/difyload/internal/scenario"
	"github.com/studiowebux/difyload/internal/testfiles"
	"github.com/studiowebux/difyload/internal/types"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	// StatusStale is shown, never stored, for an abandoned running record
	StatusStale = "stale"
)

// Config represents the shape of a load test
type Config struct {
	Scenario       string // keyword the targets were resolved from, e.g. "all"
	Mode           scenario.Mode
	APIUsers       int
	SandboxUsers   int
	SpawnRate      float64 // users started per second
	Duration       time.Duration
	RequestTimeout time.Duration
	// WaitMin and WaitMax override the per-domain wait range when WaitMax > 0
	WaitMin    time.Duration
	WaitMax    time.Duration
	Thresholds config.Thresholds
}

// Run represents a load test run record
type Run struct {
	ID                   int64
	Scenario             string
	Mode                 string
	APIUsers             int
	SandboxUsers         int
	SpawnRate            float64
	DurationSec          int
	StartedAt            time.Time
	CompletedAt          *time.Time
	Status               string // "running", "completed", "cancelled", "failed"
	TotalRequests        int
	TotalFailures        int
	TotalTransportErrors int
	AvgDurationMs        float64
	MinDurationMs        int64
	MaxDurationMs        int64
	P50DurationMs        int64
	P95DurationMs        int64
	P99DurationMs        int64
	RPS                  float64
	Passed               *bool // threshold verdict, nil until evaluated
}

// Metric represents a single recorded sample of a run
type Metric struct {
	ID           int64
	RunID        int64
	Timestamp    time.Time
	ElapsedMs    int64
	Name         string
	Method       string
	StatusCode   int
	DurationMs   int64
	RequestSize  int64
	ResponseSize int64
	Failure      string
	Transport    bool
}

// Target is a resolved domain with the host and credential its users need
type Target struct {
	Definition scenario.Definition
	BaseURL    string
	Credential string
}

// ExecutionConfig contains the runtime configuration for executing a load test
type ExecutionConfig struct {
	Config      *Config
	Targets     []Target
	TLSConfig   *types.TLSConfig
	Files       testfiles.Set
	Budget      poller.Budget
	SandboxPath string
	Logger      *zap.Logger
	Metrics     *metrics.Collector // optional Prometheus exporter
	HTTPClient  *http.Client       // optional; built from the config when nil
	Host        *hostmon.Sampler   // optional load host sampler
}

// Validate validates the load test configuration
func (c *Config) Validate() error {
	if c.Scenario == "" {
		return fmt.Errorf("scenario is required")
	}
	if c.APIUsers < 0 || c.SandboxUsers < 0 {
		return fmt.Errorf("user counts cannot be negative")
	}
	if c.APIUsers+c.SandboxUsers == 0 {
		return fmt.Errorf("at least one user is required")
	}
	if c.APIUsers+c.SandboxUsers > 10000 {
		return fmt.Errorf("total users cannot exceed 10,000")
	}
	if c.SpawnRate <= 0 {
		return fmt.Errorf("spawn rate must be greater than 0")
	}
	if c.SpawnRate > 1000 {
		return fmt.Errorf("spawn rate cannot exceed 1000 users per second")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if c.WaitMin < 0 || c.WaitMax < 0 {
		return fmt.Errorf("wait times cannot be negative")
	}
	if c.WaitMax > 0 && c.WaitMin > c.WaitMax {
		return fmt.Errorf("minimum wait cannot exceed maximum wait")
	}
	if _, err := scenario.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	return nil
}

// GetRequestTimeout returns the request timeout, defaulting to 60s
func (c *Config) GetRequestTimeout() time.Duration {
	if c.RequestTimeout == 0 {
		return 60 * time.Second
	}
	return c.RequestTimeout
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// StaleGrace is how long past its planned end a running record is trusted
const StaleGrace = 5 * time.Minute

// IsStale returns true for a run still marked running long after its planned
// end, left behind by a process that exited without finalizing it. Runs
// without a duration are never stale.
func (r *Run) IsStale(now time.Time) bool {
	if !r.IsRunning() || r.DurationSec <= 0 {
		return false
	}
	end := r.StartedAt.Add(time.Duration(r.DurationSec)*time.Second + StaleGrace)
	return now.After(end)
}

// DisplayStatus is the status to show for the run at now
func (r *Run) DisplayStatus(now time.Time) string {
	if r.IsStale(now) {
		return StatusStale
	}
	return r.Status
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled || r.Status == StatusFailed
}

// planUsers assigns every virtual user to a target. API users rotate over
// the API targets and sandbox users over the sandbox targets; the two pools
// are interleaved so both ramp up together. A pool without targets gets no
// users.
func planUsers(cfg *Config, targets []Target) ([]Target, error) {
	var api, sandbox []Target
	for _, t := range targets {
		if t.Definition.Surface == scenario.SurfaceSandbox {
			sandbox = append(sandbox, t)
		} else {
			api = append(api, t)
		}
	}

	apiN, sandboxN := 0, 0
	if len(api) > 0 {
		apiN = cfg.APIUsers
	}
	if len(sandbox) > 0 {
		sandboxN = cfg.SandboxUsers
	}
	if apiN+sandboxN == 0 {
		return nil, fmt.Errorf("no users to run for scenario %q", cfg.Scenario)
	}

	plan := make([]Target, 0, apiN+sandboxN)
	ai, si := 0, 0
	for len(plan) < apiN+sandboxN {
		if si >= sandboxN || (ai < apiN && ai*sandboxN <= si*apiN) {
			plan = append(plan, api[ai%len(api)])
			ai++
		} else {
			plan = append(plan, sandbox[si%len(sandbox)])
			si++
		}
	}
	return plan, nil
}
