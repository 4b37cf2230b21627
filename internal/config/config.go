package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

var (
	// DataDir is the global data directory (~/.difyload)
	DataDir string

	// DatabasePath is the SQLite database holding run history
	DatabasePath string

	// LogFile receives log output while the live dashboard owns the terminal
	LogFile string
)

// Initialize sets up the data directory. It creates ~/.difyload if it
// doesn't exist. DIFYLOAD_HOME overrides the location.
func Initialize() error {
	dir := os.Getenv("DIFYLOAD_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".difyload")
	}

	dir, err := ExpandPath(dir)
	if err != nil {
		return err
	}

	DataDir = dir
	DatabasePath = filepath.Join(DataDir, "difyload.db")
	LogFile = filepath.Join(DataDir, "difyload.log")

	if err := os.MkdirAll(DataDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", DataDir, err)
	}

	return nil
}

// ExpandPath expands a leading ~/ to the home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
