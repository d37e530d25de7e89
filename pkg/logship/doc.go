// Package logship provides an embeddable log forwarding agent.
//
// Logship follows a log file (or accepts messages through [Logship.Enqueue]),
// stages the messages in a bounded in-memory queue, frames them into
// batches and POSTs each batch to an ingestion service. Messages leave the
// queue only after the service accepted the batch holding them.
//
// # Basic Usage
//
//	cfg := logship.Config{
//	    Path:    "/var/log/app.log",
//	    Format:  "json",
//	    AuthKey: "your-api-key",
//	}
//
//	l, err := logship.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := l.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Configuration
//
// Every [Config] field has a default applied by [Config.SetDefaults].
// Without a Path, no file is followed and messages are only staged
// through [Logship.Enqueue].
//
// # Event Handling
//
// Implement [EventHandler] (or embed [BaseEventHandler]) and pass it via
// [WithEventHandler] to observe lifecycle transitions and send results.
//
// # Lifecycle States
//
// An instance is in one of [StateStopped], [StateStarting], [StateRunning],
// [StateStopping] or [StateCrashed]. In Once mode the instance stops by
// itself after the file's current content has been shipped.
//
// # Plugins
//
// Optional plugins share the instance's lifetime:
//
//	import "github.com/bft-labs/logship/plugins/configwatcher"
//	import "github.com/bft-labs/logship/plugins/logcleanup"
//
//	l, err := logship.New(cfg,
//	    configwatcher.WithDefaultConfigWatcher("/etc/logship/config.toml"),
//	    logcleanup.WithDefaultLogCleanup(),
//	)
package logship
