package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/logship/internal/adapters/fs"
	"github.com/bft-labs/logship/internal/batch"
)

// DefaultServiceURL is the default ingestion endpoint.
const DefaultServiceURL = "http://localhost:9880"

// Config holds CLI configuration for logship.
type Config struct {
	Path     string
	Format   string
	Hostname string

	ServiceURL string
	AuthKey    string

	Framing          string
	MaxBatchBytes    int
	MaxBatchMessages int
	MaxMessageSize   int
	SendInterval     time.Duration
	MaxBatchAge      time.Duration

	QueueCapacity        int
	BufferSize           int
	MaxBuffersPerMessage int

	PollInterval time.Duration
	HTTPTimeout  time.Duration
	Gzip         bool

	CPUThreshold float64
	MetricsAddr  string
	LogLevel     string
	StateDir     string
	Once         bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Format:               fs.FormatText,
		ServiceURL:           DefaultServiceURL,
		Framing:              "json",
		MaxBatchBytes:        batch.DefaultMaxBatchBytes,
		MaxBatchMessages:     batch.DefaultMaxMessages,
		MaxMessageSize:       batch.DefaultMaxMessageSize,
		SendInterval:         batch.DefaultMinInterval,
		MaxBatchAge:          batch.DefaultMaxBatchAge,
		QueueCapacity:        10000,
		BufferSize:           2048,
		MaxBuffersPerMessage: 32,
		PollInterval:         250 * time.Millisecond,
		HTTPTimeout:          15 * time.Second,
		CPUThreshold:         0.85,
		LogLevel:             "info",
		StateDir:             "", // Derived from Path during Validate
		AuthKey:              os.Getenv("LOGSHIP_AUTH_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !fs.ValidFormat(c.Format) {
		return fmt.Errorf("unknown format %q (want text, json or raw)", c.Format)
	}
	if _, err := batch.PolicyByName(c.Framing); err != nil {
		return err
	}

	if c.StateDir == "" {
		c.StateDir = filepath.Join(filepath.Dir(c.Path), ".logship")
	}

	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.SendInterval <= 0 {
		return fmt.Errorf("send interval must be positive")
	}
	if c.MaxBatchBytes <= 0 || c.MaxBatchMessages <= 0 || c.MaxMessageSize <= 0 {
		return fmt.Errorf("batch limits must be positive")
	}
	if c.QueueCapacity <= 0 || c.BufferSize <= 0 || c.MaxBuffersPerMessage <= 0 {
		return fmt.Errorf("queue sizing must be positive")
	}
	if c.CPUThreshold < 0 || c.CPUThreshold > 1 {
		return fmt.Errorf("cpu threshold must be within [0, 1]")
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
