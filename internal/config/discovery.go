package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath names the variable that points at an explicit config file.
const EnvConfigPath = "CREWGATE_CONFIG"

// SearchPaths returns the candidate config files in priority order.
func SearchPaths() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "crewgate", "config.yaml"))
	}
	paths = append(paths, "crewgate.yaml")
	return paths
}

// Discover returns the first existing config file, or "" when none exists.
func Discover() string {
	for _, p := range SearchPaths() {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
