package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugOn   bool
		infoOn    bool
		expectErr bool
	}{
		{level: "", debugOn: true, infoOn: true},
		{level: "dev", debugOn: true, infoOn: true},
		{level: "prod", debugOn: false, infoOn: true},
		{level: "warn", debugOn: false, infoOn: false},
		{level: "loud", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(tt.level)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			core := logger.Core()
			if got := core.Enabled(zap.DebugLevel); got != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugOn)
			}
			if got := core.Enabled(zap.InfoLevel); got != tt.infoOn {
				t.Errorf("info enabled = %v, want %v", got, tt.infoOn)
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	logger, err := New("info", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("run started", zap.String("scenario", "chat"))
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "run started") || !strings.Contains(string(data), "chat") {
		t.Errorf("log file missing entry: %q", data)
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Errorf("file output should not be colored: %q", data)
	}
}
