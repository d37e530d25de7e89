package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadHostInfo fills in the fields that describe where the agent runs.
// Path is made absolute so checkpoints and the source header stay stable
// across working directories, and Hostname defaults to the OS hostname.
func LoadHostInfo(cfg *Config) error {
	if cfg.Path != "" {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		cfg.Path = abs
	}

	if cfg.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("read hostname: %w", err)
		}
		cfg.Hostname = h
	}
	return nil
}
