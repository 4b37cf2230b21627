package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/difyload/internal/config"
	"github.com/studiowebux/difyload/internal/stresstest"
)

// isolate clears the variables the settings read and moves into an empty directory
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvAPIHost, config.EnvSandboxHost, config.EnvLogLevel,
		"CHATFLOW_API_KEY", "WORKFLOW_API_KEY", "KNOWLEDGE_API_KEY", "SANDBOX_API_KEY", "CHATFLOW_SANDBOX_API_KEY",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("DIFYLOAD_HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func healthServer(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"welcome":"Dify OpenAPI"}`))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func healthOptions(stdout *bytes.Buffer) RunOptions {
	return RunOptions{
		Scenario:     "health",
		APIUsers:     intPtr(2),
		SandboxUsers: intPtr(0),
		SpawnRate:    floatPtr(100),
		Duration:     "300ms",
		LogLevel:     "error",
		NoStore:      true,
		OutputFormat: "json",
		Stdout:       stdout,
		Stderr:       &bytes.Buffer{},
	}
}

func TestRun_Health(t *testing.T) {
	isolate(t)
	server, hits := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL+"/")

	var stdout bytes.Buffer
	code, err := Run(context.Background(), healthOptions(&stdout))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var rep stresstest.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rep))
	assert.Equal(t, "health", rep.Scenario)
	assert.Equal(t, stresstest.StatusCompleted, rep.Status)
	assert.Equal(t, 2, rep.Users)
	assert.Equal(t, int(atomic.LoadInt64(hits)), rep.Total.Requests)
	assert.Zero(t, rep.Total.Failures)
	assert.Zero(t, rep.RunID)
}

func TestRun_StrictFailsOnThroughput(t *testing.T) {
	isolate(t)
	server, _ := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL)

	opts := healthOptions(&bytes.Buffer{})
	opts.Strict = true

	// two users cannot reach the default 100 req/s
	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestRun_ErrorRateFails(t *testing.T) {
	isolate(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	t.Setenv(config.EnvAPIHost, server.URL)

	var stdout bytes.Buffer
	opts := healthOptions(&stdout)
	opts.OutputFormat = "text"

	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "health_check failed: Unknown Error (503)")
}

func TestRun_Cancelled(t *testing.T) {
	isolate(t)
	server, _ := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout bytes.Buffer
	opts := healthOptions(&stdout)
	opts.Duration = "0"

	_, err := Run(ctx, opts)
	require.NoError(t, err)

	var rep stresstest.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rep))
	assert.Equal(t, stresstest.StatusCancelled, rep.Status)
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		mutate  func(o *RunOptions)
		wantErr string
	}{
		{
			name:    "missing host",
			wantErr: "API_HOST",
		},
		{
			name:    "missing key",
			env:     map[string]string{config.EnvAPIHost: "http://localhost"},
			mutate:  func(o *RunOptions) { o.Scenario = "chat" },
			wantErr: "CHATFLOW_API_KEY",
		},
		{
			name:    "unknown scenario",
			env:     map[string]string{config.EnvAPIHost: "http://localhost"},
			mutate:  func(o *RunOptions) { o.Scenario = "chta" },
			wantErr: `did you mean "chat"`,
		},
		{
			name:    "bad mode",
			env:     map[string]string{config.EnvAPIHost: "http://localhost"},
			mutate:  func(o *RunOptions) { o.Mode = "random" },
			wantErr: "unknown mode",
		},
		{
			name:    "bad duration",
			env:     map[string]string{config.EnvAPIHost: "http://localhost"},
			mutate:  func(o *RunOptions) { o.Duration = "soon" },
			wantErr: "invalid duration",
		},
		{
			name:    "missing profile",
			env:     map[string]string{config.EnvAPIHost: "http://localhost"},
			mutate:  func(o *RunOptions) { o.ConfigPath = "missing.yaml" },
			wantErr: "failed to read profile",
		},
		{
			name:    "bad output",
			env:     map[string]string{config.EnvAPIHost: "http://localhost"},
			mutate:  func(o *RunOptions) { o.OutputFormat = "xml"; o.Duration = "1ms" },
			wantErr: "unknown output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := healthOptions(&bytes.Buffer{})
			if tt.mutate != nil {
				tt.mutate(&opts)
			}

			code, err := Run(context.Background(), opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 1, code)
		})
	}
}

func TestRun_ProfileAndFlags(t *testing.T) {
	isolate(t)
	server, _ := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL)

	profile := filepath.Join(t.TempDir(), "load.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(`
load:
  apiUsers: 7
  spawnRate: 50
duration: 10m
thresholds:
  errorRate: 0.5
`), 0644))

	settings, err := loadSettings(RunOptions{ConfigPath: profile, APIUsers: intPtr(3), Duration: "2s"})
	require.NoError(t, err)

	assert.Equal(t, 3, settings.Load.APIUsers, "flag wins over profile")
	assert.Equal(t, 50.0, settings.Load.SpawnRate, "profile wins over default")
	assert.Equal(t, "2s", settings.Load.Duration.String())
	assert.Equal(t, 0.5, settings.Thresholds.ErrorRate)
	assert.Equal(t, 50, settings.Load.SandboxUsers, "default kept")
}

func TestRun_StoresHistory(t *testing.T) {
	isolate(t)
	server, _ := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL)

	db := filepath.Join(t.TempDir(), "history", "runs.db")
	opts := healthOptions(&bytes.Buffer{})
	opts.NoStore = false
	opts.DBPath = db

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	var list bytes.Buffer
	hist := HistoryOptions{DBPath: db, OutputFormat: "json", Stdout: &list}
	require.NoError(t, ListRuns(hist, "", 10))

	var runs []stresstest.Run
	require.NoError(t, json.Unmarshal(list.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "health", runs[0].Scenario)
	assert.Equal(t, stresstest.StatusCompleted, runs[0].Status)

	var show bytes.Buffer
	hist.Stdout = &show
	hist.OutputFormat = "text"
	require.NoError(t, ShowRun(hist, runs[0].ID, false))
	assert.Contains(t, show.String(), "/health-check")
	assert.NotContains(t, show.String(), "Samples")

	var samples bytes.Buffer
	hist.Stdout = &samples
	hist.OutputFormat = "json"
	require.NoError(t, ShowRun(hist, runs[0].ID, true))

	var details struct {
		Run     stresstest.Run       `json:"run"`
		Stale   bool                 `json:"stale"`
		Samples []*stresstest.Metric `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(samples.Bytes(), &details))
	assert.False(t, details.Stale)
	assert.Len(t, details.Samples, details.Run.TotalRequests)
	assert.Equal(t, "/health-check", details.Samples[0].Name)
	hist.OutputFormat = "text"

	var del bytes.Buffer
	hist.Stdout = &del
	require.NoError(t, DeleteRun(hist, runs[0].ID))
	assert.Contains(t, del.String(), "Deleted run")

	require.Error(t, ShowRun(hist, runs[0].ID, false))
	require.Error(t, DeleteRun(hist, runs[0].ID))
}

func TestRun_MetricsEndpoint(t *testing.T) {
	isolate(t)
	server, _ := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL)

	opts := healthOptions(&bytes.Buffer{})
	opts.MetricsAddr = "127.0.0.1:0"

	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRun_HostMetrics(t *testing.T) {
	isolate(t)
	server, _ := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL)

	var stdout bytes.Buffer
	opts := healthOptions(&stdout)
	opts.HostMetrics = true
	opts.MetricsAddr = "127.0.0.1:0"

	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var rep stresstest.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rep))
	require.NotNil(t, rep.Host)
	assert.GreaterOrEqual(t, rep.Host.Samples, 1)
	assert.Greater(t, rep.Host.MemoryMaxPercent, 0.0)

	_, ok := rep.Verdict.Check(stresstest.CheckHostMemory)
	assert.True(t, ok)
}

func TestRun_WithoutHostMetrics(t *testing.T) {
	isolate(t)
	server, _ := healthServer(t)
	t.Setenv(config.EnvAPIHost, server.URL)

	var stdout bytes.Buffer
	_, err := Run(context.Background(), healthOptions(&stdout))
	require.NoError(t, err)

	var rep stresstest.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rep))
	assert.Nil(t, rep.Host)
	_, ok := rep.Verdict.Check(stresstest.CheckHostCPU)
	assert.False(t, ok)
}

func TestScenarios(t *testing.T) {
	var out bytes.Buffer
	Scenarios(&out)

	for _, want := range []string{"chat", "workflow", "knowledge", "sandbox", "health", "SANDBOX_API_KEY", "run_simple", "health_check"} {
		assert.Contains(t, out.String(), want)
	}
}

func TestGenerateFiles(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, GenerateFiles(&out, dir))

	for _, name := range []string{"sample.txt", "sample.jpg", "sample.mp3"} {
		assert.FileExists(t, filepath.Join(dir, name))
		assert.Contains(t, out.String(), name)
	}
}
