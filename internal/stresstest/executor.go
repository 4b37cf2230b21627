package stresstest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/hostmon"
	"github.com/studiowebux/difyload/internal/metrics"
	"github.com/studiowebux/difyload/internal/scenario"
	"github.com/studiowebux/difyload/internal/types"
)

// DefaultBufferSize is the number of samples written to the database per batch
const DefaultBufferSize = 100

// Executor runs virtual users against the platform and collects their samples
type Executor struct {
	config     *ExecutionConfig
	manager    *Manager // nil when history is not stored
	run        *Run
	plan       []Target
	stats      *Stats
	agg        *aggregator
	collector  *metrics.Collector
	logger     *zap.Logger
	httpClient *http.Client

	ctx        context.Context
	cancelFunc context.CancelFunc
	users      errgroup.Group
	spawnDone  chan struct{}
	sampleChan chan types.Sample
	collected  chan struct{}
	hostDone   chan struct{}

	testStart  time.Time
	finishedAt time.Time
	statsMu    sync.Mutex
	spawned    atomic.Int32
	active     atomic.Int32
	stopped    atomic.Bool
	failMu     sync.Mutex
	failErr    error
	finishOnce sync.Once
	report     *Report

	metricsBuf []*Metric
	bufferSize int
}

// NewExecutor creates a new load test executor. manager may be nil.
func NewExecutor(config *ExecutionConfig, manager *Manager) (*Executor, error) {
	if err := config.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(config.Targets) == 0 {
		return nil, fmt.Errorf("invalid config: no targets")
	}

	plan, err := planUsers(config.Config, config.Targets)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient, err = executor.NewHTTPClient(executor.TransportOptions{
			MaxConns:       len(plan),
			RequestTimeout: config.Config.GetRequestTimeout(),
			TLS:            config.TLSConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := config.Config
	run := &Run{
		Scenario:     cfg.Scenario,
		Mode:         string(cfg.Mode),
		APIUsers:     cfg.APIUsers,
		SandboxUsers: cfg.SandboxUsers,
		SpawnRate:    cfg.SpawnRate,
		DurationSec:  int(cfg.Duration / time.Second),
		StartedAt:    time.Now(),
		Status:       StatusRunning,
	}
	if manager != nil {
		if err := manager.CreateRun(run); err != nil {
			return nil, fmt.Errorf("failed to create run record: %w", err)
		}
	}

	stats := NewStats()
	stats.TargetUsers = len(plan)
	stats.Duration = cfg.Duration

	ctx, cancel := context.WithCancel(context.Background())

	return &Executor{
		config:     config,
		manager:    manager,
		run:        run,
		plan:       plan,
		stats:      stats,
		agg:        newAggregator(),
		collector:  config.Metrics,
		logger:     logger,
		httpClient: httpClient,
		ctx:        ctx,
		cancelFunc: cancel,
		spawnDone:  make(chan struct{}),
		sampleChan: make(chan types.Sample, len(plan)*4),
		collected:  make(chan struct{}),
		hostDone:   make(chan struct{}),
		metricsBuf: make([]*Metric, 0, DefaultBufferSize),
		bufferSize: DefaultBufferSize,
	}, nil
}

// Start spawns the virtual users and returns immediately
func (e *Executor) Start() {
	e.testStart = time.Now()
	e.run.StartedAt = e.testStart

	e.logger.Info("load test started",
		zap.String("scenario", e.run.Scenario),
		zap.String("mode", e.run.Mode),
		zap.Int("users", len(e.plan)),
		zap.Float64("spawn_rate", e.config.Config.SpawnRate),
		zap.Duration("duration", e.config.Config.Duration),
	)

	go e.collectResults()
	go e.spawnUsers()
	go e.sampleHost()

	if d := e.config.Config.Duration; d > 0 {
		go e.durationTimer(d)
	}
}

// durationTimer cancels the test after the specified duration
func (e *Executor) durationTimer(duration time.Duration) {
	select {
	case <-time.After(duration):
		e.cancelFunc()
	case <-e.ctx.Done():
	}
}

// sampleHost records the load host usage until the test stops
func (e *Executor) sampleHost() {
	defer close(e.hostDone)
	if e.config.Host != nil {
		e.config.Host.Run(e.ctx)
	}
}

// spawnUsers starts users at the configured rate until all are running or
// the test stops
func (e *Executor) spawnUsers() {
	defer close(e.spawnDone)

	limiter := rate.NewLimiter(rate.Limit(e.config.Config.SpawnRate), 1)
	for i, target := range e.plan {
		if err := limiter.Wait(e.ctx); err != nil {
			return
		}
		id := i + 1
		e.spawned.Add(1)
		e.users.Go(func() error {
			return e.runUser(e.ctx, id, target)
		})
	}
	e.logger.Info("all users spawned", zap.Int("users", len(e.plan)))
}

// UserCount returns the number of users spawned so far
func (e *Executor) UserCount() int {
	return int(e.spawned.Load())
}

// runUser loops over the domain's scenario until the test stops. Failures
// are recorded as samples; a user never stops on its own.
func (e *Executor) runUser(ctx context.Context, id int, target Target) error {
	e.setActive(e.active.Add(1))
	defer func() { e.setActive(e.active.Add(-1)) }()
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("user %d panicked: %v", id, r))
		}
	}()

	def := target.Definition
	session := types.NewSession("test_user_"+uuid.NewString(), target.Credential, nil)
	client := executor.NewClient(executor.ClientConfig{
		BaseURL:    target.BaseURL,
		Session:    session,
		Auth:       def.Auth,
		HTTPClient: e.httpClient,
		Recorder:   executor.RecorderFunc(e.record),
	})

	logger := e.logger.With(zap.Int("user", id), zap.String("user_id", session.UserID()))
	domain := def.New(scenario.Deps{
		Client:      client,
		Env:         e,
		Logger:      logger,
		Files:       e.config.Files,
		Budget:      e.config.Budget,
		SandboxPath: e.config.SandboxPath,
	})
	logger.Debug("user started", zap.String("domain", domain.Name()))

	rng := rand.New(rand.NewPCG(uint64(id), uint64(e.testStart.UnixNano())))
	waitMin, waitMax := e.waitRange(def)
	tasks := domain.Tasks()

	for ctx.Err() == nil {
		if e.config.Config.Mode == scenario.ModeWeighted {
			if task, ok := scenario.Pick(tasks, rng); ok {
				domain.Perform(ctx, task)
			}
		} else {
			domain.PerformAll(ctx)
		}

		select {
		case <-ctx.Done():
		case <-time.After(between(rng, waitMin, waitMax)):
		}
	}
	return nil
}

func (e *Executor) waitRange(def scenario.Definition) (time.Duration, time.Duration) {
	cfg := e.config.Config
	if cfg.WaitMax > 0 {
		return cfg.WaitMin, cfg.WaitMax
	}
	return def.WaitMin, def.WaitMax
}

// between returns a uniform duration in [lo, hi]
func between(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int64N(int64(hi-lo)+1))
}

func (e *Executor) setActive(n int32) {
	if e.collector != nil {
		e.collector.SetActiveUsers(int(n))
	}
}

// record hands a sample to the collector. The channel stays open until
// every user has returned.
func (e *Executor) record(sample types.Sample) {
	e.sampleChan <- sample
}

// collectResults collects and processes samples
func (e *Executor) collectResults() {
	defer close(e.collected)

	for sample := range e.sampleChan {
		e.statsMu.Lock()
		e.stats.AddSample(sample)
		e.agg.add(sample)
		e.statsMu.Unlock()

		if e.collector != nil {
			e.collector.Observe(sample)
		}

		if e.manager == nil {
			continue
		}

		// Buffer metric for batch insert
		e.metricsBuf = append(e.metricsBuf, &Metric{
			RunID:        e.run.ID,
			Timestamp:    sample.Timestamp,
			ElapsedMs:    sample.Timestamp.Sub(e.testStart).Milliseconds(),
			Name:         sample.Name,
			Method:       sample.Method,
			StatusCode:   sample.StatusCode,
			DurationMs:   sample.Duration.Milliseconds(),
			RequestSize:  sample.RequestSize,
			ResponseSize: sample.ResponseSize,
			Failure:      sample.Failure,
			Transport:    sample.Transport,
		})

		if len(e.metricsBuf) >= e.bufferSize {
			e.flushMetrics()
		}
	}

	e.flushMetrics()
}

// flushMetrics writes buffered metrics to database
func (e *Executor) flushMetrics() {
	if len(e.metricsBuf) == 0 {
		return
	}

	if err := e.manager.SaveMetricsBatch(e.metricsBuf); err != nil {
		// Log error but don't stop execution
		e.logger.Error("failed to save metrics", zap.Int("count", len(e.metricsBuf)), zap.Error(err))
	}

	e.metricsBuf = e.metricsBuf[:0]
}

// Stop cancels the load test and waits for in-flight calls to finish
func (e *Executor) Stop() *Report {
	e.stopped.Store(true)
	e.cancelFunc()
	return e.Wait()
}

// Abort stops the load test and marks the run failed with err
func (e *Executor) Abort(err error) *Report {
	e.fail(err)
	return e.Wait()
}

// fail records the first failure and stops the test
func (e *Executor) fail(err error) {
	e.failMu.Lock()
	if e.failErr == nil {
		e.failErr = err
		e.logger.Error("load test failed", zap.Error(err))
	}
	e.failMu.Unlock()
	e.cancelFunc()
}

// Err returns the failure that stopped the run, if any
func (e *Executor) Err() error {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	return e.failErr
}

// Done is closed when the test stops spawning and starts winding down
func (e *Executor) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Wait blocks until the test has stopped and every sample is collected,
// then returns the final report. Safe to call more than once.
func (e *Executor) Wait() *Report {
	e.finishOnce.Do(e.finish)
	return e.report
}

func (e *Executor) finish() {
	<-e.ctx.Done()
	<-e.spawnDone
	e.users.Wait()
	close(e.sampleChan)
	<-e.collected
	<-e.hostDone

	status := StatusCompleted
	if e.stopped.Load() {
		status = StatusCancelled
	}
	var failure string
	if err := e.Err(); err != nil {
		status = StatusFailed
		failure = err.Error()
	}

	e.statsMu.Lock()
	e.finishedAt = time.Now()
	elapsed := e.finishedAt.Sub(e.testStart)
	e.stats.Elapsed = elapsed
	total, endpoints, failures := e.agg.report(elapsed)
	e.statsMu.Unlock()

	verdict := Evaluate(total, e.config.Config.Thresholds)
	var host *hostmon.Summary
	if e.config.Host != nil {
		summary := e.config.Host.Summary()
		host = &summary
		verdict.AddHostChecks(host, e.config.Config.Thresholds)
	}
	e.report = &Report{
		Scenario:  e.run.Scenario,
		Mode:      e.run.Mode,
		Status:    status,
		StartedAt: e.testStart,
		ElapsedS:  elapsed.Seconds(),
		Users:     int(e.spawned.Load()),
		Total:     total,
		Endpoints: endpoints,
		Failures:  failures,
		Verdict:   verdict,
		Host:      host,
		Error:     failure,
	}

	e.finalize(status, verdict.Passed())

	e.report.RunID = e.run.ID
	e.logger.Info("load test finished",
		zap.String("status", status),
		zap.Int("requests", total.Requests),
		zap.Int("failures", total.Failures),
		zap.Duration("elapsed", elapsed),
		zap.Bool("passed", verdict.Passed()),
	)
}

// GetStats returns the current statistics (thread-safe)
func (e *Executor) GetStats() *Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	stats := e.stats.Clone()
	stats.ActiveUsers = int(e.active.Load())
	if e.finishedAt.IsZero() && !e.testStart.IsZero() {
		stats.Elapsed = time.Since(e.testStart)
	}
	return stats
}

// GetRun returns the current run record
func (e *Executor) GetRun() *Run {
	return e.run
}

// finalize completes the run record with final statistics
func (e *Executor) finalize(status string, passed bool) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	now := time.Now()
	ps := e.stats.Percentiles(50, 95, 99)

	e.run.CompletedAt = &now
	e.run.Status = status
	e.run.TotalRequests = e.stats.CompletedRequests
	e.run.TotalFailures = e.stats.TotalFailures()
	e.run.TotalTransportErrors = e.stats.TransportErrorCount
	e.run.AvgDurationMs = e.stats.AvgDurationMs()
	e.run.MinDurationMs = e.stats.Min()
	e.run.MaxDurationMs = e.stats.Max()
	e.run.P50DurationMs = ps[0]
	e.run.P95DurationMs = ps[1]
	e.run.P99DurationMs = ps[2]
	e.run.RPS = e.stats.RPS()
	e.run.Passed = &passed

	if e.manager == nil {
		return
	}
	if err := e.manager.UpdateRun(e.run); err != nil {
		e.logger.Error("failed to update run record", zap.Int64("run_id", e.run.ID), zap.Error(err))
	}
}
