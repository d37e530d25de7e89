package logcleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/logship/pkg/log"
	"github.com/bft-labs/logship/pkg/logship"
)

func writeFile(t *testing.T, path string, size int, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	mod := time.Now().Add(-age)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "app.log")
	writeFile(t, active, 10, 0)
	writeFile(t, filepath.Join(dir, "app.log.1"), 10, time.Hour)
	writeFile(t, filepath.Join(dir, "app.log.2.gz"), 10, 2*time.Hour)
	writeFile(t, filepath.Join(dir, "app-2026-01-02.log"), 10, 3*time.Hour)
	writeFile(t, filepath.Join(dir, "other.log"), 10, 4*time.Hour)
	writeFile(t, filepath.Join(dir, "application.log"), 10, 5*time.Hour)
	if err := os.Mkdir(filepath.Join(dir, "app.log.d"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := rotatedFiles(active)
	if err != nil {
		t.Fatalf("rotatedFiles() error = %v", err)
	}

	want := []string{"app-2026-01-02.log", "app.log.2.gz", "app.log.1"}
	if len(files) != len(want) {
		t.Fatalf("rotatedFiles() = %d files, want %d", len(files), len(want))
	}
	for i, name := range want {
		if filepath.Base(files[i].path) != name {
			t.Errorf("files[%d] = %s, want %s", i, filepath.Base(files[i].path), name)
		}
	}
}

func TestCleanupOnce_RemovesOldestUntilLowWatermark(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "app.log")
	writeFile(t, active, 400, 0)
	writeFile(t, filepath.Join(dir, "app.log.1"), 300, time.Hour)
	writeFile(t, filepath.Join(dir, "app.log.2"), 300, 2*time.Hour)
	writeFile(t, filepath.Join(dir, "app.log.3"), 300, 3*time.Hour)

	p := New(Config{HighWatermark: 1000, LowWatermark: 800})
	p.path = active
	p.logger = log.NewNoopLogger()

	freed := p.cleanupOnce(context.Background())
	if freed != 600 {
		t.Errorf("cleanupOnce() freed = %d, want 600", freed)
	}
	if exists(filepath.Join(dir, "app.log.3")) || exists(filepath.Join(dir, "app.log.2")) {
		t.Error("oldest rotated files should be removed")
	}
	if !exists(filepath.Join(dir, "app.log.1")) {
		t.Error("newest rotated file should be kept")
	}
	if !exists(active) {
		t.Error("active file must never be removed")
	}
}

func TestCleanupOnce_BelowHighWatermark(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "app.log")
	writeFile(t, active, 100, 0)
	writeFile(t, filepath.Join(dir, "app.log.1"), 100, time.Hour)

	p := New(Config{HighWatermark: 1000, LowWatermark: 500})
	p.path = active
	p.logger = log.NewNoopLogger()

	if freed := p.cleanupOnce(context.Background()); freed != 0 {
		t.Errorf("cleanupOnce() freed = %d, want 0", freed)
	}
	if !exists(filepath.Join(dir, "app.log.1")) {
		t.Error("rotated file removed below high watermark")
	}
}

func TestCleanupOnce_ActiveFileAloneOverLimit(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "app.log")
	writeFile(t, active, 2000, 0)

	p := New(Config{HighWatermark: 1000, LowWatermark: 500})
	p.path = active
	p.logger = log.NewNoopLogger()

	if freed := p.cleanupOnce(context.Background()); freed != 0 {
		t.Errorf("cleanupOnce() freed = %d, want 0", freed)
	}
	if !exists(active) {
		t.Error("active file must never be removed")
	}
}

func TestPlugin_InitializeRunsImmediately(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "app.log")
	writeFile(t, active, 10, 0)
	writeFile(t, filepath.Join(dir, "app.log.1"), 2000, time.Hour)

	p := New(Config{HighWatermark: 1000, LowWatermark: 500, RunImmediately: true})
	ctx := context.Background()
	if err := p.Initialize(ctx, logship.PluginConfig{Path: active, Logger: log.NewNoopLogger()}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for exists(filepath.Join(dir, "app.log.1")) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if exists(filepath.Join(dir, "app.log.1")) {
		t.Error("rotated file not removed on startup")
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestPlugin_DisabledWithoutPath(t *testing.T) {
	p := New(DefaultConfig())
	ctx := context.Background()
	if err := p.Initialize(ctx, logship.PluginConfig{}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{})
	if p.Name() != "logcleanup" {
		t.Errorf("Name() = %v, want logcleanup", p.Name())
	}
	if p.checkInterval != time.Hour {
		t.Errorf("checkInterval = %v, want 1h", p.checkInterval)
	}
	if p.highWatermark != 2<<30 || p.lowWatermark != 3<<29 {
		t.Errorf("watermarks = %d/%d", p.highWatermark, p.lowWatermark)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512B"},
		{2048, "2.00KiB"},
		{3 << 20, "3.00MiB"},
		{3 << 29, "1.50GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
