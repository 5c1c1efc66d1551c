package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

var (
	// ConfigDir is the global configuration directory (~/.echotest)
	ConfigDir string

	// DatabasePath is the SQLite database file for run history
	DatabasePath string

	// LogDir is the default directory for log files
	LogDir string

	// ConfigFile is the optional global configuration file
	ConfigFile string
)

// Initialize sets up the configuration directories
// It creates ~/.echotest/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".echotest"))
}

// InitializeAt sets the global paths below dir and creates the directories.
func InitializeAt(dir string) error {
	ConfigDir = dir
	DatabasePath = filepath.Join(ConfigDir, "echotest.db")
	LogDir = filepath.Join(ConfigDir, "log")
	ConfigFile = filepath.Join(ConfigDir, "config.yaml")

	// Create directories if they don't exist
	dirs := []string{ConfigDir, LogDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ResolveConfigPath returns the explicit path if set, otherwise a local
// echotest.yaml, otherwise the global config file when it exists. An empty
// result means no file is used.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("echotest.yaml"); err == nil {
		return "echotest.yaml"
	}
	if ConfigFile != "" {
		if _, err := os.Stat(ConfigFile); err == nil {
			return ConfigFile
		}
	}
	return ""
}
