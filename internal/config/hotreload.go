package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses editor write bursts into one reload.
const reloadDebounce = 300 * time.Millisecond

// Reloader re-reads the config file when it changes and hands the fresh
// config to apply. A reload that fails to parse keeps the previous config;
// apply is only called with values that passed normalization.
type Reloader struct {
	path  string
	apply func(*Config)
}

// NewReloader watches path. apply runs on the reloader's goroutine.
func NewReloader(path string, apply func(*Config)) *Reloader {
	return &Reloader{path: path, apply: apply}
}

// Run blocks until ctx ends. A missing file or dead watcher disables
// reloads but never takes the process down.
func (r *Reloader) Run(ctx context.Context) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config reload unavailable", "error", err)
		return
	}
	defer fw.Close()

	if err := fw.Add(r.path); err != nil {
		slog.Warn("config reload unavailable", "path", r.path, "error", err)
		return
	}
	slog.Info("watching config for changes", "path", r.path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			r.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Error("config watch error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		slog.Error("config reload failed, keeping previous", "path", r.path, "error", err)
		return
	}
	r.apply(cfg)
	slog.Info("config reloaded", "path", r.path)
}
