// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

// ShoeFilter narrows catalog queries. Zero fields are ignored.
type ShoeFilter struct {
	Size  float64
	Color string
	Brand string

	// Keyword matches name/brand/description/color with a substring search.
	Keyword string

	// InStockOnly restricts results to stock > 0.
	InStockOnly bool

	// Limit caps the result count; 0 means the store default.
	Limit int
}

// Repository defines the persistence surface the chat pipeline needs: the
// session/message log it owns, and read access to the shoe catalog it
// consumes.
type Repository interface {
	// CreateSession inserts a new chat session.
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession retrieves a session by ID, or nil if not found.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// TouchSession stamps the session's last-active time.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// DeactivateSession marks a session inactive. History is retained.
	DeactivateSession(ctx context.Context, sessionID string) error

	// InsertMessage appends a message to a session's history. Inserting a
	// message whose ID already exists is a no-op, which makes redelivered
	// work idempotent.
	InsertMessage(ctx context.Context, msg *domain.ChatMessage) error

	// History returns the most recent limit messages of a session in
	// chronological order.
	History(ctx context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error)

	// HasReplyTo reports whether a generated reply for the given request
	// message has already been persisted.
	HasReplyTo(ctx context.Context, requestMessageID string) (bool, error)

	// FindShoes runs a filtered catalog query ordered by stock descending.
	FindShoes(ctx context.Context, filter ShoeFilter) ([]*domain.Shoe, error)

	// ClosestSizes returns the distinct in-stock sizes nearest to size.
	ClosestSizes(ctx context.Context, size float64, limit int) ([]float64, error)

	// AllShoes returns every catalog row, for reindexing.
	AllShoes(ctx context.Context) ([]*domain.Shoe, error)

	// UpsertEmbedding stores the embedding vector for a shoe.
	UpsertEmbedding(ctx context.Context, shoeID int64, vector []float32) error

	// Embeddings returns all stored shoe embeddings keyed by shoe ID.
	Embeddings(ctx context.Context) (map[int64][]float32, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
