// Package logcleanup removes rotated copies of the followed log file once
// they take up too much disk space.
package logcleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/logship/pkg/log"
	"github.com/bft-labs/logship/pkg/logship"
)

// Plugin implements rotated log cleanup.
// It periodically sums the size of the followed file and its rotated
// siblings and removes the oldest siblings when the total exceeds the high
// watermark. The followed file itself is never removed.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	checkInterval  time.Duration
	highWatermark  int64
	lowWatermark   int64
	runImmediately bool

	// Runtime state
	path   string
	logger log.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration options for the log cleanup plugin.
type Config struct {
	// CheckInterval is how often to check the rotated files.
	// Default: 1 hour
	CheckInterval time.Duration

	// HighWatermark is the size in bytes above which cleanup begins.
	// Default: 2 GiB
	HighWatermark int64

	// LowWatermark is the target size in bytes after cleanup.
	// Default: 1.5 GiB
	LowWatermark int64

	// RunImmediately runs a cleanup check on startup.
	RunImmediately bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:  time.Hour,
		HighWatermark:  2 << 30, // 2 GiB
		LowWatermark:   3 << 29, // 1.5 GiB
		RunImmediately: true,
	}
}

// New creates a new log cleanup plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 2 << 30
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark / 4 * 3
	}

	return &Plugin{
		checkInterval:  cfg.CheckInterval,
		highWatermark:  cfg.HighWatermark,
		lowWatermark:   cfg.LowWatermark,
		runImmediately: cfg.RunImmediately,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "logcleanup"
}

// Initialize sets up the plugin and starts the cleanup loop.
func (p *Plugin) Initialize(ctx context.Context, cfg logship.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.Path
	p.logger = log.OrNoop(cfg.Logger)
	p.mu.Unlock()

	if p.path == "" {
		p.logger.Warn("log cleanup disabled: no log file configured", log.Component("logcleanup"))
		return nil
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("log cleanup plugin initialized",
		log.Component("logcleanup"),
		log.String("path", p.path),
		log.String("high_watermark", formatBytes(p.highWatermark)),
		log.String("low_watermark", formatBytes(p.lowWatermark)))

	p.wg.Add(1)
	go p.cleanupLoop(cleanupCtx)

	return nil
}

// Shutdown stops the cleanup loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Plugin) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	if p.runImmediately {
		p.cleanupOnce(ctx)
	}

	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanupOnce(ctx)
		}
	}
}

// cleanupOnce performs a single cleanup check and returns the bytes freed.
func (p *Plugin) cleanupOnce(ctx context.Context) int64 {
	p.mu.RLock()
	path := p.path
	p.mu.RUnlock()

	curSize := int64(0)
	if info, err := os.Stat(path); err == nil {
		curSize = info.Size()
	}

	files, err := rotatedFiles(path)
	if err != nil {
		p.logger.Error("log cleanup: list rotated files failed",
			log.Component("logcleanup"), log.Err(err))
		return 0
	}
	for _, f := range files {
		curSize += f.size
	}

	if curSize <= p.highWatermark {
		return 0
	}

	removed := int64(0)
	count := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if curSize <= p.lowWatermark {
			break
		}
		if err := os.Remove(f.path); err != nil {
			p.logger.Error("log cleanup: remove failed",
				log.Component("logcleanup"),
				log.String("file", f.path),
				log.Err(err))
			continue
		}
		curSize -= f.size
		removed += f.size
		count++
	}

	if removed > 0 {
		p.logger.Info("log cleanup completed",
			log.Component("logcleanup"),
			log.Int("files", count),
			log.String("freed", formatBytes(removed)),
			log.String("remaining", formatBytes(curSize)))
	}
	return removed
}

// rotatedFile is one rotated copy of the followed file.
type rotatedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// rotatedFiles lists the rotated siblings of path, oldest first. A sibling
// is a regular file named after path with a suffix, such as app.log.1,
// app.log.2.gz or app-2024-01-02.log.
func rotatedFiles(path string) ([]rotatedFile, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []rotatedFile
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || name == base {
			continue
		}
		if !strings.HasPrefix(name, base+".") && !strings.HasPrefix(name, stem+"-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		out = append(out, rotatedFile{
			path:    filepath.Join(dir, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].modTime.Equal(out[j].modTime) {
			return out[i].modTime.Before(out[j].modTime)
		}
		return out[i].path < out[j].path
	})
	return out, nil
}

func formatBytes(b int64) string {
	const (
		_          = iota
		KB float64 = 1 << (10 * iota)
		MB
		GB
	)

	fb := float64(b)
	switch {
	case fb >= GB:
		return fmt.Sprintf("%.2fGiB", fb/GB)
	case fb >= MB:
		return fmt.Sprintf("%.2fMiB", fb/MB)
	case fb >= KB:
		return fmt.Sprintf("%.2fKiB", fb/KB)
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// Ensure Plugin implements logship.Plugin.
var _ logship.Plugin = (*Plugin)(nil)
