package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/studiowebux/difyload/internal/scenario"
	"github.com/studiowebux/difyload/internal/types"
)

// Environment variables read by Load
const (
	EnvAPIHost     = "API_HOST"
	EnvSandboxHost = "SANDBOX_HOST"
	EnvLogLevel    = "DIFYLOAD_LOG_LEVEL"
)

var (
	ErrMissingVariable = errors.New("missing environment variable")
	ErrInvalidSettings = errors.New("invalid settings")
)

// Load holds the shape of a run
type Load struct {
	APIUsers       int           `json:"apiUsers,omitempty" yaml:"apiUsers,omitempty"`
	SandboxUsers   int           `json:"sandboxUsers,omitempty" yaml:"sandboxUsers,omitempty"`
	SpawnRate      float64       `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`
	Duration       time.Duration `json:"-" yaml:"-"`
	RequestTimeout time.Duration `json:"-" yaml:"-"`
	Mode           string        `json:"mode,omitempty" yaml:"mode,omitempty"`
	TestFiles      string        `json:"testFiles,omitempty" yaml:"testFiles,omitempty"`
	SandboxPath    string        `json:"sandboxPath,omitempty" yaml:"sandboxPath,omitempty"`
	HostMetrics    bool          `json:"hostMetrics,omitempty" yaml:"hostMetrics,omitempty"`
}

// Thresholds are the performance requirements a run is judged against
type Thresholds struct {
	P95Ms     int64   `json:"p95Ms,omitempty" yaml:"p95Ms,omitempty"`
	P99Ms     int64   `json:"p99Ms,omitempty" yaml:"p99Ms,omitempty"`
	ErrorRate float64 `json:"errorRate,omitempty" yaml:"errorRate,omitempty"` // fraction, 0.001 = 0.1%
	MinRPS    float64 `json:"minRps,omitempty" yaml:"minRps,omitempty"`

	// Load host limits in percent, checked only when host metrics are sampled
	CPUPercent      float64 `json:"cpuPercent,omitempty" yaml:"cpuPercent,omitempty"`
	MemoryPercent   float64 `json:"memoryPercent,omitempty" yaml:"memoryPercent,omitempty"`
	DiskBusyPercent float64 `json:"diskBusyPercent,omitempty" yaml:"diskBusyPercent,omitempty"`
}

// Settings is the resolved configuration of a run
type Settings struct {
	APIHost     string
	SandboxHost string
	LogLevel    string
	Load        Load
	Thresholds  Thresholds
	TLS         *types.TLSConfig

	keys map[string]string
}

// DefaultLoad returns the load used when nothing overrides it
func DefaultLoad() Load {
	return Load{
		APIUsers:       100,
		SandboxUsers:   50,
		SpawnRate:      10,
		Duration:       30 * time.Minute,
		RequestTimeout: 60 * time.Second,
		Mode:           string(scenario.ModeSequence),
		TestFiles:      "test_files",
		SandboxPath:    scenario.DefaultSandboxPath,
	}
}

// DefaultThresholds returns the default performance requirements
func DefaultThresholds() Thresholds {
	return Thresholds{
		P95Ms:     1000,
		P99Ms:     2000,
		ErrorRate: 0.001,
		MinRPS:    100,

		CPUPercent:      80,
		MemoryPercent:   85,
		DiskBusyPercent: 70,
	}
}

// LoadSettings reads the environment, after loading envFile into it. An
// empty envFile loads ./.env when present. Variables already set in the
// process environment win over the file.
func LoadSettings(envFile string) (*Settings, error) {
	if envFile == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	s := &Settings{
		APIHost:     strings.TrimRight(getEnv(EnvAPIHost, ""), "/"),
		SandboxHost: strings.TrimRight(getEnv(EnvSandboxHost, ""), "/"),
		LogLevel:    getEnv(EnvLogLevel, "dev"),
		Load:        DefaultLoad(),
		Thresholds:  DefaultThresholds(),
		keys:        make(map[string]string),
	}

	for _, def := range scenario.Definitions() {
		if def.KeyVar == "" {
			continue
		}
		if v := getEnv(def.KeyVar, ""); v != "" {
			s.keys[def.KeyVar] = v
		}
	}

	return s, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Host returns the base URL of a surface
func (s *Settings) Host(surface scenario.Surface) (string, error) {
	host, name := s.APIHost, EnvAPIHost
	if surface == scenario.SurfaceSandbox {
		host, name = s.SandboxHost, EnvSandboxHost
	}
	if host == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, name)
	}
	return host, nil
}

// Credential returns the value of a key variable. Definitions without a
// key variable need no credential.
func (s *Settings) Credential(keyVar string) (string, error) {
	if keyVar == "" {
		return "", nil
	}
	v, ok := s.keys[keyVar]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, keyVar)
	}
	return v, nil
}

// Check verifies that every host and key needed by defs is set
func (s *Settings) Check(defs []scenario.Definition) error {
	var errs []error
	seen := make(map[string]bool)
	for _, def := range defs {
		if _, err := s.Host(def.Surface); err != nil && !seen[def.Surface.String()] {
			seen[def.Surface.String()] = true
			errs = append(errs, err)
		}
		if _, err := s.Credential(def.KeyVar); err != nil && !seen[def.KeyVar] {
			seen[def.KeyVar] = true
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks the load shape and thresholds
func (s *Settings) Validate() error {
	l := s.Load
	switch {
	case l.APIUsers < 0 || l.SandboxUsers < 0:
		return fmt.Errorf("%w: user counts cannot be negative", ErrInvalidSettings)
	case l.APIUsers+l.SandboxUsers == 0:
		return fmt.Errorf("%w: at least one user is required", ErrInvalidSettings)
	case l.SpawnRate <= 0:
		return fmt.Errorf("%w: spawn rate must be greater than 0", ErrInvalidSettings)
	case l.Duration < 0:
		return fmt.Errorf("%w: duration cannot be negative", ErrInvalidSettings)
	case s.Thresholds.ErrorRate < 0 || s.Thresholds.ErrorRate > 1:
		return fmt.Errorf("%w: error rate threshold must be between 0 and 1", ErrInvalidSettings)
	case s.Thresholds.P95Ms < 0 || s.Thresholds.P99Ms < 0 || s.Thresholds.MinRPS < 0:
		return fmt.Errorf("%w: latency and throughput thresholds cannot be negative", ErrInvalidSettings)
	case !isPercent(s.Thresholds.CPUPercent) || !isPercent(s.Thresholds.MemoryPercent) || !isPercent(s.Thresholds.DiskBusyPercent):
		return fmt.Errorf("%w: host limits must be between 0 and 100", ErrInvalidSettings)
	}
	if _, err := scenario.ParseMode(l.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

func isPercent(v float64) bool {
	return v >= 0 && v <= 100
}

// ParseDuration accepts Go durations ("90s", "1h30m") and bare seconds ("300")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
