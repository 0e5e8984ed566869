//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "histd-data"
		}
	}
	return filepath.Join(dir, "histd")
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

// configFilePath honours HISTD_CONFIG_FILE, then the XDG config directory.
func configFilePath() string {
	if p := os.Getenv("HISTD_CONFIG_FILE"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "histd", "config.json")
}
