// Package watcher observes one directory (non-recursive) for new or changed
// save files and notifies a callback with the file's path — at most once per
// distinct (name, size, mtime) triple, so duplicate filesystem notifications
// for the same write collapse to one.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps fsnotify for a single save directory.
type Watcher struct {
	dir      string
	ext      string
	callback func(path string)

	fsw  *fsnotify.Watcher
	wg   sync.WaitGroup
	done chan struct{}

	mu       sync.Mutex
	lastSeen string // last (name|size|mtime) triple delivered
	stopped  bool
}

// New creates a watcher for save files with the given extension (e.g. ".v3")
// under dir. The callback fires from the watch goroutine; it must not block.
func New(dir, ext string, callback func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:      dir,
		ext:      strings.ToLower(ext),
		callback: callback,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()

	slog.Info("autosave watcher started", "dir", dir, "ext", ext)
	return w, nil
}

// Stop halts the watcher. Idempotent; no callback fires after it returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.done)
	w.fsw.Close()
	w.wg.Wait()
	slog.Info("autosave watcher stopped", "dir", w.dir)
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.handle(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("autosave watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	if !strings.EqualFold(filepath.Ext(path), w.ext) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	triple := fmt.Sprintf("%s|%d|%d", info.Name(), info.Size(), info.ModTime().UnixNano())
	w.mu.Lock()
	if w.stopped || triple == w.lastSeen {
		w.mu.Unlock()
		return
	}
	w.lastSeen = triple
	w.mu.Unlock()

	w.callback(path)
}

// LatestSave scans dir for the most recently modified file with the given
// extension. The pacing loop calls this at send time: the directory itself is
// the source of truth, not whatever path the last notification carried.
func LatestSave(dir, ext string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var (
		best     string
		bestTime int64
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestTime {
			best = filepath.Join(dir, e.Name())
			bestTime = mod
		}
	}
	return best, best != ""
}
