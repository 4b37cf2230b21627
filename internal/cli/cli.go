package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/difyload/internal/config"
	"github.com/studiowebux/difyload/internal/hostmon"
	"github.com/studiowebux/difyload/internal/logger"
	"github.com/studiowebux/difyload/internal/metrics"
	"github.com/studiowebux/difyload/internal/poller"
	"github.com/studiowebux/difyload/internal/report"
	"github.com/studiowebux/difyload/internal/scenario"
	"github.com/studiowebux/difyload/internal/stresstest"
	"github.com/studiowebux/difyload/internal/testfiles"
	"github.com/studiowebux/difyload/internal/tui"
)

// ProgressInterval is how often a plain run logs its progress
const ProgressInterval = 10 * time.Second

// RunOptions contains options for running a load test. Pointer fields are
// nil when the flag was not given.
type RunOptions struct {
	Scenario     string
	ConfigPath   string // profile file (.yaml, .yml, .json, .jsonc)
	EnvFile      string // path to .env file
	APIUsers     *int
	SandboxUsers *int
	SpawnRate    *float64
	Duration     string
	Mode         string
	TestFiles    string
	LogLevel     string
	Live         bool
	MetricsAddr  string
	DBPath       string
	NoStore      bool
	OutputFormat string // text, json, yaml
	Strict       bool
	HostMetrics  bool // sample this host's CPU, memory, disk and network

	Stdout io.Writer
	Stderr io.Writer
}

// Run executes a load test and writes its report. The returned exit code is
// non-zero when the error rate threshold failed, or any threshold under Strict.
func Run(ctx context.Context, opts RunOptions) (int, error) {
	stdout, stderr := writers(opts)

	settings, err := loadSettings(opts)
	if err != nil {
		return 1, err
	}

	defs, err := scenario.Resolve(opts.Scenario)
	if err != nil {
		return 1, err
	}
	if err := settings.Check(defs); err != nil {
		return 1, err
	}
	targets, err := buildTargets(settings, defs)
	if err != nil {
		return 1, err
	}

	log, err := newLogger(opts, settings)
	if err != nil {
		return 1, err
	}
	defer log.Sync()

	var manager *stresstest.Manager
	if !opts.NoStore {
		manager, err = openManager(opts.DBPath)
		if err != nil {
			return 1, err
		}
		defer manager.Close()
	}

	var collector *metrics.Collector
	if opts.MetricsAddr != "" {
		collector = metrics.NewCollector()
		srv, err := metrics.Serve(opts.MetricsAddr, collector)
		if err != nil {
			return 1, err
		}
		log.Info("metrics server listening", zap.String("addr", srv.Addr()))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics server shutdown", zap.Error(err))
			}
		}()
	}

	keyword := opts.Scenario
	if keyword == "" {
		keyword = scenario.KeywordAll
	}
	l := settings.Load

	var host *hostmon.Sampler
	if l.HostMetrics {
		hostOpts := hostmon.Options{Logger: log}
		if collector != nil {
			hostOpts.OnReading = collector.ObserveHost
		}
		host = hostmon.NewSampler(hostmon.ReadHost, hostOpts)
	}
	exec, err := stresstest.NewExecutor(&stresstest.ExecutionConfig{
		Config: &stresstest.Config{
			Scenario:       keyword,
			Mode:           scenario.Mode(l.Mode),
			APIUsers:       l.APIUsers,
			SandboxUsers:   l.SandboxUsers,
			SpawnRate:      l.SpawnRate,
			Duration:       l.Duration,
			RequestTimeout: l.RequestTimeout,
			Thresholds:     settings.Thresholds,
		},
		Targets:     targets,
		TLSConfig:   settings.TLS,
		Files:       testfiles.NewSet(l.TestFiles),
		Budget:      poller.DefaultBudget(),
		SandboxPath: l.SandboxPath,
		Logger:      log,
		Metrics:     collector,
		Host:        host,
	}, manager)
	if err != nil {
		return 1, fmt.Errorf("failed to create load test executor: %w", err)
	}

	exec.Start()

	var rep *stresstest.Report
	if opts.Live {
		rep, err = runLive(ctx, exec, keyword)
		if err != nil {
			return 1, err
		}
	} else {
		rep = runPlain(ctx, exec, log)
	}

	output, err := report.Format(rep, opts.OutputFormat)
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(stdout, output)

	code := rep.Verdict.ExitCode(opts.Strict)
	if code != 0 {
		fmt.Fprintln(stderr, report.StyleError.Render("thresholds not met"))
	}
	return code, nil
}

// loadSettings resolves env, profile and flags, in increasing precedence
func loadSettings(opts RunOptions) (*config.Settings, error) {
	settings, err := config.LoadSettings(opts.EnvFile)
	if err != nil {
		return nil, err
	}

	if opts.ConfigPath != "" {
		path, err := config.ExpandPath(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		profile, err := config.LoadProfile(path)
		if err != nil {
			return nil, err
		}
		if err := settings.Apply(profile); err != nil {
			return nil, err
		}
	}

	if err := applyFlags(settings, opts); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func applyFlags(s *config.Settings, opts RunOptions) error {
	if opts.APIUsers != nil {
		s.Load.APIUsers = *opts.APIUsers
	}
	if opts.SandboxUsers != nil {
		s.Load.SandboxUsers = *opts.SandboxUsers
	}
	if opts.SpawnRate != nil {
		s.Load.SpawnRate = *opts.SpawnRate
	}
	if opts.Duration != "" {
		d, err := config.ParseDuration(opts.Duration)
		if err != nil {
			return err
		}
		s.Load.Duration = d
	}
	if opts.Mode != "" {
		s.Load.Mode = opts.Mode
	}
	if opts.TestFiles != "" {
		s.Load.TestFiles = opts.TestFiles
	}
	if opts.LogLevel != "" {
		s.LogLevel = opts.LogLevel
	}
	if opts.HostMetrics {
		s.Load.HostMetrics = true
	}
	return nil
}

// buildTargets pairs every domain with its host and credential
func buildTargets(s *config.Settings, defs []scenario.Definition) ([]stresstest.Target, error) {
	targets := make([]stresstest.Target, 0, len(defs))
	for _, def := range defs {
		host, err := s.Host(def.Surface)
		if err != nil {
			return nil, err
		}
		credential, err := s.Credential(def.KeyVar)
		if err != nil {
			return nil, err
		}
		targets = append(targets, stresstest.Target{
			Definition: def,
			BaseURL:    host,
			Credential: credential,
		})
	}
	return targets, nil
}

// newLogger logs to stderr, or to the log file while the dashboard owns the terminal
func newLogger(opts RunOptions, s *config.Settings) (*zap.Logger, error) {
	if !opts.Live {
		return logger.New(s.LogLevel)
	}
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	return logger.New(s.LogLevel, config.LogFile)
}

// openManager opens the run history at path, or at the default database
func openManager(path string) (*stresstest.Manager, error) {
	if path == "" {
		if err := config.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
		path = config.DatabasePath
	} else {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, err
		}
		path = expanded
		if err := os.MkdirAll(filepath.Dir(path), config.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	manager, err := stresstest.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return manager, nil
}

// runPlain waits for the run, logging progress, and stops it when ctx is cancelled
func runPlain(ctx context.Context, exec *stresstest.Executor, log *zap.Logger) *stresstest.Report {
	ticker := time.NewTicker(ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted, waiting for in-flight calls")
			return exec.Stop()
		case <-exec.Done():
			return exec.Wait()
		case <-ticker.C:
			stats := exec.GetStats()
			log.Info("progress",
				zap.Int("users", stats.ActiveUsers),
				zap.Int("requests", stats.CompletedRequests),
				zap.Int("failures", stats.TotalFailures()),
				zap.Float64("rps", stats.RPS()),
				zap.Int64("p95_ms", stats.P95()),
			)
		}
	}
}

// runLive shows the dashboard. Cancelling ctx stops the run and closes it.
func runLive(ctx context.Context, exec *stresstest.Executor, title string) (*stresstest.Report, error) {
	go func() {
		select {
		case <-ctx.Done():
			exec.Stop()
		case <-exec.Done():
		}
	}()

	rep, err := tui.Run(exec, title)
	if err != nil {
		err = fmt.Errorf("dashboard failed: %w", err)
		exec.Abort(err)
		return nil, err
	}
	return rep, nil
}

// formatOutput renders v as JSON or YAML, or with text for the text format
func formatOutput(v any, format string, text func() string) (string, error) {
	switch format {
	case report.FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil

	case report.FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case report.FormatText, "":
		return text(), nil

	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func writers(opts RunOptions) (io.Writer, io.Writer) {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
