package logship

import (
	"net/http"

	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// Option configures optional behavior of Logship.
type Option func(*options)

type options struct {
	httpClient           ports.HTTPClient
	logger               log.Logger
	eventHandler         EventHandler
	plugins              []Plugin
	resourceGatingConfig *ResourceGatingConfig
	metrics              bool
	enqueueHook          func(length, size int) bool
}

func defaultOptions(client *http.Client) options {
	return options{
		httpClient: client,
		logger:     log.NewNoopLogger(),
	}
}

// WithHTTPClient sets a custom HTTP client for the ingestion service.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = log.OrNoop(logger)
	}
}

// WithEventHandler sets a handler for Logship events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when Logship starts.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithMetrics enables Prometheus metrics on a registry owned by the
// instance. Serve them with Logship.MetricsHandler.
func WithMetrics() Option {
	return func(o *options) {
		o.metrics = true
	}
}

// WithEnqueueHook installs a veto consulted before every enqueue with the
// current queue length and the message size. Returning false rejects the
// message with ErrEnqueueRejected. The hook may call Stats and other
// methods of the instance.
func WithEnqueueHook(hook func(length, size int) bool) Option {
	return func(o *options) {
		o.enqueueHook = hook
	}
}
