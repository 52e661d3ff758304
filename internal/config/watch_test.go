package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("default_reason: first\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("default_reason: second\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.DefaultReason != "second" {
			t.Errorf("DefaultReason = %q, want second", cfg.DefaultReason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 1)
	go Watch(ctx, path, func(c *Config) { changes <- c })
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(filepath.Join(dir, "audit.log"), []byte("{}\n"), 0600)

	select {
	case <-changes:
		t.Error("unexpected reload for an unrelated file")
	case <-time.After(watchDebounce + 300*time.Millisecond):
	}
}
