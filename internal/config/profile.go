package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/difyload/internal/types"
)

// Profile is a run profile file. Every field is optional and overrides the
// defaults when set.
type Profile struct {
	Load       Load               `json:"load" yaml:"load"`
	Duration   string             `json:"duration,omitempty" yaml:"duration,omitempty"`
	Timeout    string             `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`
	Thresholds ThresholdOverrides `json:"thresholds" yaml:"thresholds"`
	TLS        *types.TLSConfig   `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// ThresholdOverrides are the thresholds of a profile. A field that is
// present overrides the default, including an explicit 0 which disables the
// latency, throughput and host checks and sets a zero error budget.
type ThresholdOverrides struct {
	P95Ms           *int64   `json:"p95Ms,omitempty" yaml:"p95Ms,omitempty"`
	P99Ms           *int64   `json:"p99Ms,omitempty" yaml:"p99Ms,omitempty"`
	ErrorRate       *float64 `json:"errorRate,omitempty" yaml:"errorRate,omitempty"`
	MinRPS          *float64 `json:"minRps,omitempty" yaml:"minRps,omitempty"`
	CPUPercent      *float64 `json:"cpuPercent,omitempty" yaml:"cpuPercent,omitempty"`
	MemoryPercent   *float64 `json:"memoryPercent,omitempty" yaml:"memoryPercent,omitempty"`
	DiskBusyPercent *float64 `json:"diskBusyPercent,omitempty" yaml:"diskBusyPercent,omitempty"`
}

// LoadProfile reads a profile from a .yaml, .yml, .json or .jsonc file
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var profile Profile

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("failed to parse YAML profile: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &profile); err != nil {
			return nil, fmt.Errorf("failed to parse JSON profile: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported profile format: %s (use .yaml, .yml, .json or .jsonc)", ext)
	}

	return &profile, nil
}

// Apply overlays a profile onto the settings. Load fields apply when
// non-zero; thresholds apply whenever they are present.
func (s *Settings) Apply(p *Profile) error {
	if p == nil {
		return nil
	}

	l := p.Load
	if l.APIUsers != 0 {
		s.Load.APIUsers = l.APIUsers
	}
	if l.SandboxUsers != 0 {
		s.Load.SandboxUsers = l.SandboxUsers
	}
	if l.SpawnRate != 0 {
		s.Load.SpawnRate = l.SpawnRate
	}
	if l.Mode != "" {
		s.Load.Mode = l.Mode
	}
	if l.TestFiles != "" {
		s.Load.TestFiles = l.TestFiles
	}
	if l.SandboxPath != "" {
		s.Load.SandboxPath = l.SandboxPath
	}
	if l.HostMetrics {
		s.Load.HostMetrics = true
	}

	if p.Duration != "" {
		d, err := ParseDuration(p.Duration)
		if err != nil {
			return fmt.Errorf("profile duration: %w", err)
		}
		s.Load.Duration = d
	}
	if p.Timeout != "" {
		d, err := ParseDuration(p.Timeout)
		if err != nil {
			return fmt.Errorf("profile request timeout: %w", err)
		}
		s.Load.RequestTimeout = d
	}

	t := p.Thresholds
	setIfPresent(&s.Thresholds.P95Ms, t.P95Ms)
	setIfPresent(&s.Thresholds.P99Ms, t.P99Ms)
	setIfPresent(&s.Thresholds.ErrorRate, t.ErrorRate)
	setIfPresent(&s.Thresholds.MinRPS, t.MinRPS)
	setIfPresent(&s.Thresholds.CPUPercent, t.CPUPercent)
	setIfPresent(&s.Thresholds.MemoryPercent, t.MemoryPercent)
	setIfPresent(&s.Thresholds.DiskBusyPercent, t.DiskBusyPercent)

	if p.TLS != nil {
		s.TLS = p.TLS
	}
	return nil
}

func setIfPresent[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
