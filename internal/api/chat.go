package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

const (
	healthCheckTimeout  = 5 * time.Second
	reindexTimeout      = 2 * time.Minute
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ChatHandler handles the chat admin endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a new chat admin handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat admin routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/history/{sessionID}", h.History)
		r.Post("/index", h.Reindex)
	})
}

// Health returns the health status of the pipeline and its dependencies.
// The pipeline keeps answering through its fallbacks when the broker or
// cache is down, so those only degrade the status instead of failing it.
func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	brokerHealth := h.queue.ConnectionHealth()
	if brokerHealth.Connected {
		checks["broker"] = "ok"
	} else {
		checks["broker"] = "disconnected"
		if status == "healthy" {
			status = "degraded"
		}
	}

	if h.cache.InFallback() {
		checks["cache"] = "memory_fallback"
		if status == "healthy" {
			status = "degraded"
		}
	} else {
		checks["cache"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status":          status,
		"checks":          checks,
		"broker":          brokerHealth,
		"active_sessions": h.hub.ActiveSessions(),
	})
}

// History returns the recent messages of a session in chronological order.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "missing session id")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := h.repo.History(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("Failed to load history", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"active":     session.Active,
		"messages":   messages,
	})
}

// Reindex recomputes the embedding vectors for the whole catalog so the
// relevance search reflects recent stock changes.
func (h *ChatHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), reindexTimeout)
	defer cancel()

	indexed, err := h.catalog.Reindex(ctx)
	if err != nil {
		slog.Error("Catalog reindex failed", "error", err)
		Error(w, http.StatusInternalServerError, "reindex failed")
		return
	}

	slog.Info("Catalog reindexed", "shoes", indexed)
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"indexed": indexed,
	})
}
