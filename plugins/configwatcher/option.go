package configwatcher

import "github.com/bft-labs/logship/pkg/logship"

// WithConfigWatcher returns a logship Option that enables config file watching.
// When enabled, the plugin uploads the listed files to the service at start
// and again whenever one of them changes.
//
// Usage:
//
//	l, err := logship.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Files:         []string{"/etc/logship/config.toml"},
//	        RetryInterval: 5 * time.Second,
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) logship.Option {
	plugin := New(cfg)
	return logship.WithPlugin(plugin)
}

// WithDefaultConfigWatcher returns a logship Option that watches the given
// files with default settings (retry every 5s, debounce 100ms).
//
// Usage:
//
//	l, err := logship.New(cfg, configwatcher.WithDefaultConfigWatcher(path))
func WithDefaultConfigWatcher(files ...string) logship.Option {
	cfg := DefaultConfig()
	cfg.Files = files
	return WithConfigWatcher(cfg)
}
