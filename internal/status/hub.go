// Package status carries operator-facing events out of the core loops. The
// pacing loop and transport push entries; whoever renders them (CLI tail,
// future UI) subscribes and owns display. Retention is a fixed ring of the
// last entries, decoupled from the producers.
package status

import (
	"log/slog"
	"sync"
	"time"
)

// Level classifies an entry.
type Level int

const (
	Info Level = iota
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Entry is one status event.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
}

// Sink accepts leveled status messages. Core packages depend on this, never
// on the hub.
type Sink interface {
	Post(level Level, message string)
}

// retention is the ring size: the last 200 entries.
const retention = 200

// Hub is the default Sink: a ring buffer plus subscriber fanout. Posts never
// block; a slow subscriber misses entries rather than stalling the producer.
type Hub struct {
	mu      sync.Mutex
	entries []Entry // ring, oldest first once full
	subs    []chan Entry
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Post records an entry and fans it out. Also mirrored to slog so the status
// stream shows up in regular logs.
func (h *Hub) Post(level Level, message string) {
	e := Entry{Time: time.Now(), Level: level, Message: message}

	h.mu.Lock()
	h.entries = append(h.entries, e)
	if len(h.entries) > retention {
		h.entries = h.entries[len(h.entries)-retention:]
	}
	subs := make([]chan Entry, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}

	switch level {
	case Error:
		slog.Error(message)
	case Warning:
		slog.Warn(message)
	default:
		slog.Info(message)
	}
}

// Recent returns a copy of the retained entries, oldest first.
func (h *Hub) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Subscribe returns a channel of future entries and a cancel func. The
// channel is buffered; entries posted while it is full are dropped for that
// subscriber.
func (h *Hub) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, 32)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		for i, sub := range h.subs {
			if sub == ch {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
