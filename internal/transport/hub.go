// Package transport is the real-time WebSocket layer: one connection
// per browser tab, fanned out by session so every tab of a session
// sees the same conversation.
package transport

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks live connections per session. A session may have more
// than one open connection at a time.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*websocket.Conn]bool)}
}

// Register adds a connection to a session's fan-out set.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = make(map[*websocket.Conn]bool)
	}
	h.sessions[sessionID][conn] = true
	slog.Info("chat connection registered", "session_id", sessionID, "connections", len(h.sessions[sessionID]))
}

// Unregister drops a connection. The session entry disappears with its
// last connection.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.sessions, sessionID)
	}
	slog.Info("chat connection unregistered", "session_id", sessionID)
}

// Connections snapshots the live connections of a session.
func (h *Hub) Connections(sessionID string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(h.sessions[sessionID]))
	for conn := range h.sessions[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// ActiveSessions counts sessions with at least one live connection.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
