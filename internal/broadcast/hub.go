// Package broadcast fans admitted snapshots out to viewers: a local
// websocket hub for directly connected overlays, plus an optional upstream
// pubsub call for hosted extension frontends.
package broadcast

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendQueueSize buffers per-viewer writes; a viewer that falls this far
	// behind is dropped rather than stalling the fanout.
	sendQueueSize = 16

	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Overlay origins are already filtered by the relay's CORS layer; the
	// hub accepts whatever reached it.
	CheckOrigin: func(*http.Request) bool { return true },
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected viewers per channel and fans envelopes out to them.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*viewer]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*viewer]struct{})}
}

// ViewerCount returns the number of connected viewers for a channel.
func (h *Hub) ViewerCount(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channelID])
}

// Broadcast queues an envelope to every viewer of the channel. Viewers whose
// send queue is full are disconnected; the next snapshot is minutes away, so
// a blocked write is a dead peer, not a burst.
func (h *Hub) Broadcast(channelID string, envelope []byte) {
	h.mu.Lock()
	var stale []*viewer
	for v := range h.channels[channelID] {
		select {
		case v.send <- envelope:
		default:
			stale = append(stale, v)
		}
	}
	h.mu.Unlock()

	for _, v := range stale {
		h.drop(channelID, v)
		slog.Warn("viewer dropped: send queue full", "channel", channelID)
	}
}

// ServeViewer upgrades the request and runs the viewer's read/write pumps
// until the peer goes away. initial, when non-nil, is delivered first so a
// fresh viewer sees the channel's last-known snapshot.
func (h *Hub) ServeViewer(w http.ResponseWriter, r *http.Request, channelID string, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("viewer upgrade failed", "channel", channelID, "error", err)
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, sendQueueSize)}
	h.mu.Lock()
	if h.channels[channelID] == nil {
		h.channels[channelID] = make(map[*viewer]struct{})
	}
	h.channels[channelID][v] = struct{}{}
	h.mu.Unlock()
	slog.Info("viewer connected", "channel", channelID, "viewers", h.ViewerCount(channelID))

	if initial != nil {
		v.send <- initial
	}

	go v.writePump()
	v.readPump()
	h.drop(channelID, v)
	slog.Info("viewer disconnected", "channel", channelID, "viewers", h.ViewerCount(channelID))
}

func (h *Hub) drop(channelID string, v *viewer) {
	h.mu.Lock()
	if set, ok := h.channels[channelID]; ok {
		if _, present := set[v]; present {
			delete(set, v)
			close(v.send)
			if len(set) == 0 {
				delete(h.channels, channelID)
			}
		}
	}
	h.mu.Unlock()
	v.conn.Close()
}

// readPump discards inbound frames (viewers are passive) and keeps the pong
// deadline fresh.
func (v *viewer) readPump() {
	v.conn.SetReadLimit(1024)
	v.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (v *viewer) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
