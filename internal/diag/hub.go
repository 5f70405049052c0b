// Package diag implements the runtime's operator-facing diagnostics
// surface: a gorilla/mux HTTP server exposing /metrics and a handful of
// read-only debug endpoints, plus a gorilla/websocket event hub
// streaming discovery/QoS-reload/mobility events live. This mirrors the
// reference codebase's own admin surface (api/server.go's mux router,
// fabric/hub.go and websocket/dag_streamer.go's broadcast hub) and is
// not the public DDS API surface, which remains out of scope.
package diag

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one diagnostic event pushed to connected debug clients.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Hub fans out Events to every connected websocket client. Clients that
// fail to keep up are dropped rather than allowed to back-pressure the
// broadcaster, the same best-effort delivery the reference codebase's
// DAGStreamer uses for its debug stream.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader

	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn

	log *slog.Logger
}

// NewHub constructs a Hub. Call Run in a goroutine to start the
// dispatch loop.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		log:        log.With("component", "diag.hub"),
	}
}

// Run drives client registration and event fan-out until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for c := range h.clients {
				c.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug("debug client connected", "total", len(h.clients))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.Close()
			}
			h.mu.Unlock()
			h.log.Debug("debug client disconnected", "total", len(h.clients))

		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if err := c.WriteJSON(ev); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades an HTTP request to a websocket debug connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast stamps ev with the current time and queues it for delivery.
// It never blocks: a full queue drops the event rather than stalling
// whatever subsystem produced it.
func (h *Hub) Broadcast(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("debug event queue full, dropping event", "type", ev.Type)
	}
}

// ClientCount returns the number of currently connected debug clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
