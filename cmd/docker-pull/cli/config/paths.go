// Package config provides configuration management for the docker-pull CLI.
package config

import (
	"os"
	"path/filepath"
)

// FileName is the name of the configuration file inside Dir.
const FileName = "config.yaml"

// Dir returns the docker-pull config directory.
// Uses XDG_CONFIG_HOME/docker-pull, defaulting to ~/.config/docker-pull.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "docker-pull"), nil
}

// File returns the path of the default configuration file.
func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}
