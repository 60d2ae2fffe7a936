// Package config resolves the on-disk layout for voxloop instances.
package config

import (
	"os"
	"path/filepath"
)

const DefaultInstance = "default"

// InstancePaths contains all paths for a voxloop instance.
type InstancePaths struct {
	Home         string // Instance home directory
	ConfigDB     string // SQLite configuration store path
	TranscriptDB string // SQLite transcript archive path
	Logs         string // Logs directory
	PluginsDir   string // JS tool plugin directory
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetVoxloopHome(), "instances", instanceName)

	return InstancePaths{
		Home:         instanceDir,
		ConfigDB:     filepath.Join(instanceDir, "config.db"),
		TranscriptDB: filepath.Join(instanceDir, "transcripts.db"),
		Logs:         filepath.Join(instanceDir, "logs"),
		PluginsDir:   filepath.Join(instanceDir, "plugins"),
	}
}

// GetVoxloopHome returns the voxloop home directory (~/.voxloop).
func GetVoxloopHome() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".voxloop")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given instance
// if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)

	dirs := []string{
		paths.Home,
		paths.Logs,
		paths.PluginsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
