package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Path                 string  `toml:"path"`
	Format               string  `toml:"format"`
	Hostname             string  `toml:"hostname"`
	ServiceURL           string  `toml:"service_url"`
	AuthKey              string  `toml:"auth_key"`
	Framing              string  `toml:"framing"`
	MaxBatchBytes        int     `toml:"max_batch_bytes"`
	MaxBatchMessages     int     `toml:"max_batch_messages"`
	MaxMessageSize       int     `toml:"max_message_size"`
	SendInterval         string  `toml:"send_interval"`
	MaxBatchAge          string  `toml:"max_batch_age"`
	QueueCapacity        int     `toml:"queue_capacity"`
	BufferSize           int     `toml:"buffer_size"`
	MaxBuffersPerMessage int     `toml:"max_buffers_per_message"`
	PollInterval         string  `toml:"poll_interval"`
	HTTPTimeout          string  `toml:"http_timeout"`
	Gzip                 *bool   `toml:"gzip"`
	CPUThreshold         float64 `toml:"cpu_threshold"`
	MetricsAddr          string  `toml:"metrics_addr"`
	LogLevel             string  `toml:"log_level"`
	StateDir             string  `toml:"state_dir"`
	Once                 *bool   `toml:"once"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.logship/config.toml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".logship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("path", fc.Path, &cfg.Path)
	s.setString("format", fc.Format, &cfg.Format)
	s.setString("hostname", fc.Hostname, &cfg.Hostname)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("framing", fc.Framing, &cfg.Framing)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)

	if err := s.setDuration("send-interval", fc.SendInterval, &cfg.SendInterval); err != nil {
		return err
	}
	if err := s.setDuration("max-batch-age", fc.MaxBatchAge, &cfg.MaxBatchAge); err != nil {
		return err
	}
	if err := s.setDuration("poll", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt("max-batch-bytes", fc.MaxBatchBytes, &cfg.MaxBatchBytes)
	s.setInt("max-batch-messages", fc.MaxBatchMessages, &cfg.MaxBatchMessages)
	s.setInt("max-message-size", fc.MaxMessageSize, &cfg.MaxMessageSize)
	s.setInt("queue-capacity", fc.QueueCapacity, &cfg.QueueCapacity)
	s.setInt("buffer-size", fc.BufferSize, &cfg.BufferSize)
	s.setInt("max-buffers-per-message", fc.MaxBuffersPerMessage, &cfg.MaxBuffersPerMessage)

	s.setFloat("cpu-threshold", fc.CPUThreshold, &cfg.CPUThreshold)

	s.setBool("gzip", fc.Gzip, &cfg.Gzip)
	s.setBool("once", fc.Once, &cfg.Once)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
