package logcleanup

import "github.com/bft-labs/logship/pkg/logship"

// WithLogCleanup returns a logship Option that enables rotated log cleanup.
// When enabled, the plugin periodically checks the size of the followed
// file and its rotated copies and removes the oldest copies when the total
// exceeds the configured high watermark.
//
// Usage:
//
//	l, err := logship.New(cfg,
//	    logcleanup.WithLogCleanup(logcleanup.Config{
//	        CheckInterval: time.Hour,
//	        HighWatermark: 2 << 30, // 2 GiB
//	        LowWatermark:  3 << 29, // 1.5 GiB
//	    }),
//	)
func WithLogCleanup(cfg Config) logship.Option {
	plugin := New(cfg)
	return logship.WithPlugin(plugin)
}

// WithDefaultLogCleanup returns a logship Option that enables log cleanup
// with default settings (check hourly, high watermark 2GiB, low watermark 1.5GiB).
//
// Usage:
//
//	l, err := logship.New(cfg, logcleanup.WithDefaultLogCleanup())
func WithDefaultLogCleanup() logship.Option {
	return WithLogCleanup(DefaultConfig())
}
