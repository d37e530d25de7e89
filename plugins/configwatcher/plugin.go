// Package configwatcher uploads the agent's configuration files to the
// service and re-uploads them whenever they change on disk.
package configwatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/logship/pkg/log"
	"github.com/bft-labs/logship/pkg/logship"
)

const configEndpoint = "/v1/ingest/config"

// Error codes for config file issues.
const (
	ErrCodeFileNotFound     = "FILE_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeReadError        = "READ_ERROR"
)

// Plugin implements config watching functionality.
// It watches a fixed set of files and posts a snapshot of all of them to
// the service when any of them changes. Identical snapshots are sent once.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	files         []string
	retryInterval time.Duration
	debounceDelay time.Duration

	// Runtime state
	serviceURL string
	hostname   string
	authKey    string
	emit       func(ctx context.Context, msg []byte) error
	logger     log.Logger
	httpClient *http.Client
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	debounce   *time.Timer
	lastSum    uint64
	sent       bool
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Files are the configuration files to watch. Relative paths are
	// resolved against the working directory.
	Files []string

	// RetryInterval is the delay between retries on failure.
	// Default: 5 seconds
	RetryInterval time.Duration

	// DebounceDelay is the delay to wait after a file change before sending.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// HTTPTimeout is the timeout for HTTP requests.
	// Default: 30 seconds
	HTTPTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults and no files.
func DefaultConfig() Config {
	return Config{
		RetryInterval: 5 * time.Second,
		DebounceDelay: 100 * time.Millisecond,
		HTTPTimeout:   30 * time.Second,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	files := make([]string, 0, len(cfg.Files))
	for _, f := range cfg.Files {
		if abs, err := filepath.Abs(f); err == nil {
			f = abs
		}
		files = append(files, f)
	}

	return &Plugin{
		files:         files,
		retryInterval: cfg.RetryInterval,
		debounceDelay: cfg.DebounceDelay,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize sets up the plugin and starts the config watcher.
func (p *Plugin) Initialize(ctx context.Context, cfg logship.PluginConfig) error {
	p.mu.Lock()
	p.serviceURL = cfg.ServiceURL
	p.hostname = cfg.Hostname
	p.authKey = cfg.AuthKey
	p.emit = cfg.Emit
	p.logger = log.OrNoop(cfg.Logger)
	p.mu.Unlock()

	if len(p.files) == 0 || p.serviceURL == "" {
		p.logger.Warn("config watcher disabled: no files or service URL configured",
			log.Component("configwatcher"))
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher plugin initialized",
		log.Component("configwatcher"),
		log.Int("files", len(p.files)))

	p.wg.Add(1)
	go p.watchLoop(watchCtx)

	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	if p.debounce != nil && p.debounce.Stop() {
		p.wg.Done()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// watchLoop watches the directories holding the configured files.
func (p *Plugin) watchLoop(ctx context.Context) {
	defer p.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Error("config watcher: failed to create watcher",
			log.Component("configwatcher"), log.Err(err))
		return
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(p.files))
	for _, f := range p.files {
		dir := filepath.Dir(f)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			p.logger.Warn("config watcher: failed to watch directory",
				log.Component("configwatcher"),
				log.String("dir", dir),
				log.Err(err))
			continue
		}
		watched[dir] = true
	}

	p.sendConfigWithRetry(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !p.isWatched(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			p.debounceSend(ctx, p.debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher: watcher error",
				log.Component("configwatcher"), log.Err(err))
		}
	}
}

func (p *Plugin) isWatched(name string) bool {
	name = filepath.Clean(name)
	for _, f := range p.files {
		if f == name {
			return true
		}
	}
	return false
}

func (p *Plugin) debounceSend(ctx context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A stopped timer never runs its func, so release its slot here.
	if p.debounce != nil && p.debounce.Stop() {
		p.wg.Done()
	}

	p.wg.Add(1)
	p.debounce = time.AfterFunc(delay, func() {
		defer p.wg.Done()
		p.sendConfigWithRetry(ctx)
	})
}

func (p *Plugin) configURL() string { return p.serviceURL + configEndpoint }

// snapshot is one multipart upload of every watched file.
type snapshot struct {
	body        []byte
	contentType string
	checksum    uint64
}

// buildSnapshot reads every watched file into a multipart form. Files that
// cannot be read are reported by error code instead of content.
func (p *Plugin) buildSnapshot() snapshot {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	digest := xxhash.New()

	writer.WriteField("captured_at", time.Now().UTC().Format(time.RFC3339Nano))

	for _, path := range p.files {
		base := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			code := p.errorToCode(err)
			writer.WriteField("error", base+":"+code)
			digest.WriteString(base + ":" + code + "\n")
			continue
		}
		if part, err := writer.CreateFormFile("config", base); err == nil {
			part.Write(data)
		}
		digest.WriteString(base + "\n")
		digest.Write(data)
	}

	sum := digest.Sum64()
	writer.WriteField("checksum", strconv.FormatUint(sum, 16))

	contentType := writer.FormDataContentType()
	writer.Close()

	return snapshot{body: buf.Bytes(), contentType: contentType, checksum: sum}
}

// sendConfigWithRetry retries until success or context cancellation.
func (p *Plugin) sendConfigWithRetry(ctx context.Context) {
	snap := p.buildSnapshot()

	p.mu.RLock()
	unchanged := p.sent && p.lastSum == snap.checksum
	p.mu.RUnlock()
	if unchanged {
		return
	}

	retryCount := 0
	for {
		err := p.send(ctx, bytes.NewReader(snap.body), snap.contentType)
		if err == nil {
			p.logger.Info("config watcher: sent configuration update",
				log.Component("configwatcher"),
				log.Int("retries", retryCount))
			p.mu.Lock()
			p.lastSum = snap.checksum
			p.sent = true
			p.mu.Unlock()
			p.announce(ctx, snap.checksum)
			return
		}

		retryCount++
		p.logger.Error("config watcher: send failed",
			log.Component("configwatcher"),
			log.Int("retries", retryCount),
			log.Err(err))

		select {
		case <-ctx.Done():
			p.logger.Info("config watcher: stopping retry due to context cancellation",
				log.Component("configwatcher"))
			return
		case <-time.After(p.retryInterval):
		}
	}
}

type changeEvent struct {
	Event     string    `json:"event"`
	Host      string    `json:"host,omitempty"`
	Files     []string  `json:"files"`
	Checksum  string    `json:"checksum"`
	Timestamp time.Time `json:"timestamp"`
}

// announce records the upload in the forwarded log stream.
func (p *Plugin) announce(ctx context.Context, sum uint64) {
	if p.emit == nil {
		return
	}
	msg, err := json.Marshal(changeEvent{
		Event:     "config_changed",
		Host:      p.hostname,
		Files:     p.files,
		Checksum:  strconv.FormatUint(sum, 16),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.emit(ctx, msg); err != nil {
		p.logger.Warn("config watcher: cannot queue change event",
			log.Component("configwatcher"), log.Err(err))
	}
}

func (p *Plugin) errorToCode(err error) string {
	if os.IsNotExist(err) {
		return ErrCodeFileNotFound
	}
	if os.IsPermission(err) {
		return ErrCodePermissionDenied
	}
	if strings.Contains(err.Error(), "permission denied") {
		return ErrCodePermissionDenied
	}
	return ErrCodeReadError
}

func (p *Plugin) send(ctx context.Context, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.configURL(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Agent-Hostname", p.hostname)
	if p.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.authKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Ensure Plugin implements logship.Plugin.
var _ logship.Plugin = (*Plugin)(nil)
