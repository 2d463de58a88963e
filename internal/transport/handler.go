package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/broker"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
)

const sendTimeout = 5 * time.Second

// Handler upgrades chat WebSocket connections and owns the per-session
// fan-out API used by the worker to deliver replies.
type Handler struct {
	repo          store.Repository
	queue         broker.Broker
	hub           *Hub
	allowedOrigin string
	isDev         bool
	log           *slog.Logger
}

func NewHandler(repo store.Repository, queue broker.Broker, hub *Hub, allowedOrigin string, isDev bool, log *slog.Logger) *Handler {
	return &Handler{
		repo:          repo,
		queue:         queue,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		log:           log,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. Each
// connection gets a fresh session row; an optional user_id query
// parameter attaches a known shopper identity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	var userID *int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			userID = &id
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.log.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := &domain.ChatSession{
		ID:           uuid.NewString(),
		SessionToken: uuid.NewString(),
		UserID:       userID,
		Active:       true,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}
	if err := h.repo.CreateSession(ctx, session); err != nil {
		h.log.Error("failed to create chat session", "error", err)
		h.writeEvent(conn, EventError, ErrorPayload{Message: "Could not start a chat session. Please try again."})
		return
	}
	h.log.Info("chat session started", "session_id", session.ID, "user_id", userID, "ip", r.RemoteAddr)

	h.hub.Register(session.ID, conn)
	defer h.hub.Unregister(session.ID, conn)
	defer func() {
		if err := h.repo.DeactivateSession(context.Background(), session.ID); err != nil {
			h.log.Warn("failed to deactivate session", "session_id", session.ID, "error", err)
		}
	}()

	h.greet(conn, userID)
	h.readLoop(ctx, conn, session)
}

func (h *Handler) greet(conn *websocket.Conn, userID *int64) {
	content := "Welcome to our shoe store! How can I help you find your perfect pair today?"
	if userID != nil {
		content = "Welcome back! How can I help you find the perfect shoes today?"
	}
	h.writeEvent(conn, EventMessage, MessagePayload{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: time.Now(),
	})
}

// readLoop processes inbound frames one at a time, so per-session
// ordering holds: a message is persisted and published before the next
// one is read.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *domain.ChatSession) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				h.log.Info("chat session disconnected", "session_id", session.ID)
			} else {
				h.log.Warn("websocket read failed", "session_id", session.ID, "error", err)
			}
			return
		}

		var frame envelope
		if err := json.Unmarshal(data, &frame); err != nil {
			h.writeEvent(conn, EventError, ErrorPayload{Message: "I couldn't read that message. Please try again."})
			continue
		}
		if frame.Event != EventMessage {
			continue
		}

		var payload MessagePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || strings.TrimSpace(payload.Content) == "" {
			h.writeEvent(conn, EventError, ErrorPayload{Message: "I couldn't read that message. Please try again."})
			continue
		}

		h.handleUserMessage(ctx, conn, session, payload)
	}
}

func (h *Handler) handleUserMessage(ctx context.Context, conn *websocket.Conn, session *domain.ChatSession, payload MessagePayload) {
	now := time.Now()
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Content:    payload.Content,
		IsFromUser: true,
		Timestamp:  now,
	}
	if err := h.repo.InsertMessage(ctx, &msg); err != nil {
		h.log.Error("failed to persist user message", "session_id", session.ID, "error", err)
		h.writeEvent(conn, EventError, ErrorPayload{Message: "Failed to process your message. Please try again."})
		return
	}
	if err := h.repo.TouchSession(ctx, session.ID, now); err != nil {
		h.log.Warn("failed to touch session", "session_id", session.ID, "error", err)
	}

	req := domain.QueuedRequest{
		SessionID: session.ID,
		UserID:    session.UserID,
		Content:   payload.Content,
		MessageID: msg.ID,
		Timestamp: now,
	}
	if err := h.queue.PublishRequest(ctx, req); err != nil {
		// The request spilled to the local queue; the drain path will
		// answer the user. No error surfaces here.
		h.log.Warn("request publish failed, spilled locally", "session_id", session.ID, "error", err)
	}

	// Typing goes on immediately; the reply arrives asynchronously.
	h.writeEvent(conn, EventTyping, TypingPayload{IsTyping: true})
}

// SendMessageToSession delivers a reply to every live connection of a
// session, turning the typing indicator off first.
func (h *Handler) SendMessageToSession(sessionID string, msg MessagePayload) {
	conns := h.hub.Connections(sessionID)
	if len(conns) == 0 {
		h.log.Warn("no live connections for session", "session_id", sessionID)
		return
	}
	for _, conn := range conns {
		h.writeEvent(conn, EventTyping, TypingPayload{IsTyping: false})
		h.writeEvent(conn, EventMessage, msg)
	}
	h.log.Debug("reply delivered", "session_id", sessionID, "connections", len(conns))
}

// SendTypingIndicator fans the typing state out to a session.
func (h *Handler) SendTypingIndicator(sessionID string, isTyping bool) {
	for _, conn := range h.hub.Connections(sessionID) {
		h.writeEvent(conn, EventTyping, TypingPayload{IsTyping: isTyping})
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal event payload", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("failed to marshal event frame", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		h.log.Debug("websocket write failed", "event", event, "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigin == "" || strings.HasPrefix(origin, h.allowedOrigin)
}
