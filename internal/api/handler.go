// Package api provides the admin HTTP handlers for the chat pipeline.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/broker"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/cache"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/catalog"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/transport"
)

// Handler provides common handler utilities.
type Handler struct {
	repo    store.Repository
	catalog *catalog.Service
	queue   broker.Broker
	cache   *cache.Store
	hub     *transport.Hub
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, cat *catalog.Service, queue broker.Broker, cacheStore *cache.Store, hub *transport.Hub) *Handler {
	return &Handler{
		repo:    repo,
		catalog: cat,
		queue:   queue,
		cache:   cacheStore,
		hub:     hub,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
