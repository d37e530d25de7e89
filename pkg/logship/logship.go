package logship

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/logship/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/logship/internal/adapters/http"
	"github.com/bft-labs/logship/internal/app"
	"github.com/bft-labs/logship/internal/batch"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/metrics"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/internal/queue"
	"github.com/bft-labs/logship/pkg/log"
)

// Logship is a log forwarding agent that can be embedded in other
// applications. Use New to create an instance, then Start to begin
// forwarding.
type Logship struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	forwarder *app.Forwarder
	queue     *queue.MessageQueue
	metrics   *metrics.Metrics
	logger    log.Logger

	plugins []Plugin

	mu     sync.RWMutex
	cancel context.CancelFunc
}

// Stats is a snapshot of the staging queue.
type Stats struct {
	QueueLength   int
	QueueCapacity int
	BuffersInUse  int
	PoolChunks    int
	Enqueued      uint64
	Dequeued      uint64
	Rejected      uint64
}

// New creates a new Logship instance with the given configuration.
// The instance is created in StateStopped; call Start to begin forwarding.
func New(cfg Config, opts ...Option) (*Logship, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.policy()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	o := defaultOptions(httpClient)
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	emitter := &eventEmitterWrapper{handler: o.eventHandler}
	lifecycle := app.NewLifecycle(logger, emitter)

	qc := cfg.queueConfig()
	qc.Logger = logger
	q, err := queue.New(qc)
	if err != nil {
		return nil, err
	}
	if o.enqueueHook != nil {
		q.SetEnqueueHook(o.enqueueHook)
	}

	var m *metrics.Metrics
	if o.metrics {
		m = metrics.New()
		m.RegisterQueue(q)
	}

	var senderOpts []httpAdapter.Option
	if cfg.Gzip {
		senderOpts = append(senderOpts, httpAdapter.WithGzip(gzip.DefaultCompression))
	}
	sender := httpAdapter.NewBatchSender(o.httpClient, logger, senderOpts...)

	var source ports.EventSource
	if cfg.Path != "" {
		source = fs.NewTailSource(fs.TailConfig{
			Path:         cfg.Path,
			Format:       cfg.Format,
			Hostname:     cfg.Hostname,
			PollInterval: cfg.PollInterval,
			Once:         cfg.Once,
			MaxLineSize:  q.MaxMessageSize(),
		}, fs.NewStateFileRepository(cfg.StateDir), logger)
	}

	fwdOpts := []app.ForwarderOption{
		app.WithSendEvents(emitter),
		app.WithMetrics(m),
	}
	if o.resourceGatingConfig != nil && o.resourceGatingConfig.Enabled {
		fwdOpts = append(fwdOpts, app.WithResourceGate(newResourceGate(*o.resourceGatingConfig, logger)))
	}

	batcher := batch.NewBatcher(policy, batch.NewScratchPool(policy.MaxMessageSize, logger), logger)
	forwarder := app.NewForwarder(app.ForwarderConfig{
		Source:     cfg.Path,
		Hostname:   cfg.Hostname,
		OSArch:     runtime.GOOS + "/" + runtime.GOARCH,
		AuthKey:    cfg.AuthKey,
		ServiceURL: cfg.ServiceURL,
	}, q, source, sender, batcher, logger, fwdOpts...)

	return &Logship{
		config:    cfg,
		opts:      o,
		lifecycle: lifecycle,
		forwarder: forwarder,
		queue:     q,
		metrics:   m,
		logger:    logger,
		plugins:   o.plugins,
	}, nil
}

// Start begins forwarding in the background.
// Returns immediately after starting the forwarding goroutine.
// The provided context bounds the lifetime of the forwarding operation.
func (l *Logship) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := l.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.lifecycle.SetCancel(cancel)

	pluginCfg := PluginConfig{
		Path:       l.config.Path,
		StateDir:   l.config.StateDir,
		ServiceURL: l.config.ServiceURL,
		AuthKey:    l.config.AuthKey,
		Hostname:   l.config.Hostname,
		Logger:     l.logger,
		Emit:       l.forwarder.Enqueue,
	}
	for i, p := range l.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			l.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			for j := i - 1; j >= 0; j-- {
				_ = l.plugins[j].Shutdown(context.Background())
			}
			cancel()
			_ = l.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		l.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	// Running is entered before the worker exists, so a Stop that follows
	// Start always reaches a worker that flushes.
	if err := l.lifecycle.TransitionTo(app.StateRunning, "forwarder starting"); err != nil {
		cancel()
		return err
	}

	l.lifecycle.AddWorker()
	go func() {
		defer l.lifecycle.WorkerDone()

		err := l.forwarder.Run(runCtx)
		switch {
		case err == nil:
			l.finish()
		case !errors.Is(err, context.Canceled):
			l.logger.Error("forwarder error", log.Err(err))
			_ = l.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		}
	}()

	return nil
}

// finish stops an instance whose source ran to completion.
func (l *Logship) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lifecycle.State() != app.StateRunning {
		return
	}
	_ = l.lifecycle.TransitionTo(app.StateStopping, "source exhausted")
	if l.cancel != nil {
		l.cancel()
	}
	l.shutdownPlugins()
	_ = l.lifecycle.TransitionTo(app.StateStopped, "source exhausted")
}

// Stop gracefully shuts down forwarding.
// Queued messages are flushed before the forwarder exits. Waits up to
// 30 seconds; returns ErrShutdownTimeout if forced.
func (l *Logship) Stop() error {
	l.mu.Lock()

	if !l.lifecycle.CanStop() {
		l.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := l.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		l.mu.Unlock()
		return err
	}
	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Unlock()

	err := l.lifecycle.WaitWithTimeout(app.ShutdownTimeout)
	l.shutdownPlugins()

	if err != nil {
		_ = l.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = l.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// shutdownPlugins stops plugins in reverse registration order.
func (l *Logship) shutdownPlugins() {
	ctx := context.Background()
	for i := len(l.plugins) - 1; i >= 0; i-- {
		p := l.plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			l.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			l.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (l *Logship) Status() State {
	return State(l.lifecycle.State())
}

// Enqueue stages one message for forwarding. It blocks while the queue is
// full, until ctx is done. Messages may be enqueued before Start; they are
// sent once the instance runs.
func (l *Logship) Enqueue(ctx context.Context, msg []byte) error {
	return l.forwarder.Enqueue(ctx, msg)
}

// Stats returns a snapshot of the staging queue.
func (l *Logship) Stats() Stats {
	s := l.queue.Stats()
	return Stats{
		QueueLength:   s.Length,
		QueueCapacity: s.Capacity,
		BuffersInUse:  s.BuffersInUse,
		PoolChunks:    s.PoolChunks,
		Enqueued:      s.Enqueued,
		Dequeued:      s.Dequeued,
		Rejected:      s.Rejected,
	}
}

// MetricsHandler serves the instance's Prometheus metrics. It returns nil
// unless the instance was created WithMetrics.
func (l *Logship) MetricsHandler() http.Handler {
	if l.metrics == nil {
		return nil
	}
	return l.metrics.Handler()
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

func defaultStateDir(path string) string {
	return filepath.Join(filepath.Dir(path), ".logship")
}
