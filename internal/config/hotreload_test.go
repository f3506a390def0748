package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReloaderAppliesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  ingestIntervalMs: 1000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	applied := make(chan *Config, 4)
	r := NewReloader(path, func(cfg *Config) { applied <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("server:\n  ingestIntervalMs: 2000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-applied:
		if got := cfg.ServerInterval(); got != 2*time.Second {
			t.Errorf("reloaded interval = %v, want 2s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload never applied")
	}
}

func TestReloaderKeepsPreviousOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: ':9000'\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	applied := make(chan *Config, 4)
	r := NewReloader(path, func(cfg *Config) { applied <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("server: [not a mapping\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-applied:
		t.Fatal("apply ran for an unparseable config")
	case <-time.After(time.Second):
	}
}
