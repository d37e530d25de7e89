package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (LOGSHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("path", os.Getenv("LOGSHIP_PATH"), &cfg.Path)
	s.setString("format", os.Getenv("LOGSHIP_FORMAT"), &cfg.Format)
	s.setString("hostname", os.Getenv("LOGSHIP_HOSTNAME"), &cfg.Hostname)
	s.setString("service-url", os.Getenv("LOGSHIP_SERVICE_URL"), &cfg.ServiceURL)
	s.setString("auth-key", os.Getenv("LOGSHIP_AUTH_KEY"), &cfg.AuthKey)
	s.setString("framing", os.Getenv("LOGSHIP_FRAMING"), &cfg.Framing)
	s.setString("metrics-addr", os.Getenv("LOGSHIP_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("log-level", os.Getenv("LOGSHIP_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("state-dir", os.Getenv("LOGSHIP_STATE_DIR"), &cfg.StateDir)

	if err := s.setDuration("send-interval", os.Getenv("LOGSHIP_SEND_INTERVAL"), &cfg.SendInterval); err != nil {
		return err
	}
	if err := s.setDuration("max-batch-age", os.Getenv("LOGSHIP_MAX_BATCH_AGE"), &cfg.MaxBatchAge); err != nil {
		return err
	}
	if err := s.setDuration("poll", os.Getenv("LOGSHIP_POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("LOGSHIP_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	ints := []struct {
		flag, env string
		dst       *int
	}{
		{"max-batch-bytes", "LOGSHIP_MAX_BATCH_BYTES", &cfg.MaxBatchBytes},
		{"max-batch-messages", "LOGSHIP_MAX_BATCH_MESSAGES", &cfg.MaxBatchMessages},
		{"max-message-size", "LOGSHIP_MAX_MESSAGE_SIZE", &cfg.MaxMessageSize},
		{"queue-capacity", "LOGSHIP_QUEUE_CAPACITY", &cfg.QueueCapacity},
		{"buffer-size", "LOGSHIP_BUFFER_SIZE", &cfg.BufferSize},
		{"max-buffers-per-message", "LOGSHIP_MAX_BUFFERS_PER_MESSAGE", &cfg.MaxBuffersPerMessage},
	}
	for _, v := range ints {
		if err := s.setIntFromString(v.flag, os.Getenv(v.env), v.dst); err != nil {
			return err
		}
	}

	if err := s.setFloatFromString("cpu-threshold", os.Getenv("LOGSHIP_CPU_THRESHOLD"), &cfg.CPUThreshold); err != nil {
		return err
	}

	s.setBoolFromString("gzip", os.Getenv("LOGSHIP_GZIP"), &cfg.Gzip)
	s.setBoolFromString("once", os.Getenv("LOGSHIP_ONCE"), &cfg.Once)

	return nil
}
