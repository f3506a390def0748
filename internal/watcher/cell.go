package watcher

import "sync"

// Cell is the single-slot hand-off between the watcher's event goroutine and
// the pacing loop: one writer, one reader, overwrite-on-write, no queue. A
// burst of writes while a send is in flight collapses to the latest path.
// The consumer treats the payload as a hint and re-scans the directory for
// ground truth before acting.
type Cell struct {
	mu      sync.Mutex
	path    string
	pending bool
}

// Set overwrites the pending candidate.
func (c *Cell) Set(path string) {
	c.mu.Lock()
	c.path = path
	c.pending = true
	c.mu.Unlock()
}

// Peek returns the pending candidate without consuming it.
func (c *Cell) Peek() (path string, pending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.pending
}

// Clear drops the pending marker (after a successful send, or when the
// candidate turned out to carry nothing new).
func (c *Cell) Clear() {
	c.mu.Lock()
	c.path = ""
	c.pending = false
	c.mu.Unlock()
}
