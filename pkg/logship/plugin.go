package logship

import (
	"context"

	"github.com/bft-labs/logship/pkg/log"
)

// Plugin extends a Logship instance with background work that shares its
// lifetime. Plugins are initialized in registration order by Start and
// shut down in reverse order by Stop.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize starts the plugin. ctx is canceled when the instance stops.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown stops the plugin and waits for its goroutines.
	Shutdown(ctx context.Context) error
}

// PluginConfig is handed to plugins on Initialize.
type PluginConfig struct {
	Path       string
	StateDir   string
	ServiceURL string
	AuthKey    string
	Hostname   string
	Logger     log.Logger

	// Emit stages a message in the instance's queue, like Logship.Enqueue.
	Emit func(ctx context.Context, msg []byte) error
}
