package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/logship/internal/cliconfig"
	logpkg "github.com/bft-labs/logship/pkg/log"
	"github.com/bft-labs/logship/pkg/logship"
	"github.com/bft-labs/logship/plugins/configwatcher"
	"github.com/bft-labs/logship/plugins/logcleanup"
)

const helpDescription = `
Follow a log file and forward its lines to an ingestion service in batches.

Highlights:
  - Stages lines in a bounded in-memory queue so a slow service never blocks the writer.
  - Frames batches as a JSON document or newline-delimited lines, optionally gzipped.
  - Checkpoints the read offset so restarts resume where they stopped.
  - Configure via file, environment (LOGSHIP_*), or flags; flags win.
`

var longHelp = "logship\n\n" + strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  logship --path /var/log/app.log --auth-key <api-key>
  logship --config $HOME/.logship/config.toml --once
  logship --path ./app.log --format json --framing lines --metrics-addr :9464
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:          "logship",
		Short:        "Forward a log file to an ingestion service in batches",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			// Precedence: flags > env > file > defaults.
			loadedFile := ""
			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
				loadedFile = cfgFile
			}
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cliconfig.LoadHostInfo(&cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cliconfig.SetLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			return run(cfg, loadedFile)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.logship/config.toml)")
	f.StringVar(&cfg.Path, "path", cfg.Path, "log file to follow")
	f.StringVar(&cfg.Format, "format", cfg.Format, "line format: text, json or raw")
	f.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "hostname reported with each batch (default: OS hostname)")

	f.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "base URL of the ingestion service")
	f.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "API key for authentication")

	f.StringVar(&cfg.Framing, "framing", cfg.Framing, "batch framing: json or lines")
	f.IntVar(&cfg.MaxBatchBytes, "max-batch-bytes", cfg.MaxBatchBytes, "maximum framed bytes per batch")
	f.IntVar(&cfg.MaxBatchMessages, "max-batch-messages", cfg.MaxBatchMessages, "maximum messages per batch")
	f.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest message a batch accepts")
	f.DurationVar(&cfg.SendInterval, "send-interval", cfg.SendInterval, "minimum time between batch attempts")
	f.DurationVar(&cfg.MaxBatchAge, "max-batch-age", cfg.MaxBatchAge, "send once the oldest message is this old (overrides gating)")

	f.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "maximum queued messages")
	f.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "bytes per pooled buffer")
	f.IntVar(&cfg.MaxBuffersPerMessage, "max-buffers-per-message", cfg.MaxBuffersPerMessage, "pooled buffers one message may span")

	f.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "file poll interval when no change event arrives")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")
	f.BoolVar(&cfg.Gzip, "gzip", cfg.Gzip, "gzip batch bodies")
	f.Float64Var(&cfg.CPUThreshold, "cpu-threshold", cfg.CPUThreshold, "load fraction above which size-triggered sends are delayed")

	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (disabled when empty)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "checkpoint directory (default: .logship next to the log file)")
	if err := f.MarkHidden("state-dir"); err != nil {
		cliconfig.Logger().Info().Err(err).Msg("failed to hide state-dir flag")
	}
	f.BoolVar(&cfg.Once, "once", cfg.Once, "ship the file up to its current end and exit")

	if err := root.Execute(); err != nil {
		cliconfig.Logger().Error().Err(err).Msg("logship")
		os.Exit(1)
	}
}

func run(cfg cliconfig.Config, configFile string) error {
	log := cliconfig.Logger()

	logCfg := cfg
	if len(logCfg.AuthKey) > 0 {
		logCfg.AuthKey = "*****"
	}
	log.Info().Interface("config", logCfg).Msg("configuration")

	libCfg := logship.Config{
		Path:                 cfg.Path,
		Format:               cfg.Format,
		Hostname:             cfg.Hostname,
		ServiceURL:           cfg.ServiceURL,
		AuthKey:              cfg.AuthKey,
		StateDir:             cfg.StateDir,
		Framing:              cfg.Framing,
		MaxBatchBytes:        cfg.MaxBatchBytes,
		MaxBatchMessages:     cfg.MaxBatchMessages,
		MaxMessageSize:       cfg.MaxMessageSize,
		SendInterval:         cfg.SendInterval,
		MaxBatchAge:          cfg.MaxBatchAge,
		QueueCapacity:        cfg.QueueCapacity,
		BufferSize:           cfg.BufferSize,
		MaxBuffersPerMessage: cfg.MaxBuffersPerMessage,
		PollInterval:         cfg.PollInterval,
		HTTPTimeout:          cfg.HTTPTimeout,
		Gzip:                 cfg.Gzip,
		Once:                 cfg.Once,
	}

	opts := []logship.Option{
		logship.WithLogger(logpkg.NewZerologAdapterWithLogger(*log)),
		logship.WithResourceGatingConfig(logship.ResourceGatingConfig{
			Enabled:      true,
			CPUThreshold: cfg.CPUThreshold,
		}),
		logcleanup.WithDefaultLogCleanup(),
	}
	if configFile != "" && !cfg.Once {
		opts = append(opts, configwatcher.WithDefaultConfigWatcher(configFile))
	}
	if cfg.MetricsAddr != "" {
		opts = append(opts, logship.WithMetrics())
	}

	l, err := logship.New(libCfg, opts...)
	if err != nil {
		return fmt.Errorf("create logship: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", l.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := l.Start(ctx); err != nil {
		return fmt.Errorf("start logship: %w", err)
	}

	doneCh := make(chan struct{})
	go func() {
		// Once mode and crashes end the run without a signal.
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := l.Status()
				if status == logship.StateStopped || status == logship.StateCrashed {
					close(doneCh)
					return
				}
			}
		}
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received signal, stopping...")
		if err := l.Stop(); err != nil && !errors.Is(err, logship.ErrNotRunning) {
			runErr = fmt.Errorf("stop logship: %w", err)
		}
	case <-doneCh:
		if l.Status() == logship.StateCrashed {
			runErr = errors.New("logship crashed")
		}
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	s := l.Stats()
	log.Info().
		Uint64("enqueued", s.Enqueued).
		Uint64("dequeued", s.Dequeued).
		Uint64("rejected", s.Rejected).
		Int("queued", s.QueueLength).
		Msg("logship stopped")
	return runErr
}
