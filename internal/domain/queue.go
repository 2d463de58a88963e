package domain

import "time"

// Queue names for the two broker work queues.
const (
	QueueRequests  = "chat_requests"
	QueueResponses = "chat_responses"
)

// QueuedRequest is the broker payload produced when a user message arrives.
// It is transient: it lives only in the broker (or the local spill queue)
// and is never persisted.
type QueuedRequest struct {
	SessionID string `json:"sessionId"`
	UserID    *int64 `json:"userId,omitempty"`
	Content   string `json:"content"`

	// MessageID is the persisted ID of the user message this request was
	// built from. Replies record it so redelivered requests can be
	// deduplicated.
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// QueuedResponse is the broker payload carrying a generated reply back to
// the transport layer.
type QueuedResponse struct {
	SessionID string         `json:"sessionId"`
	MessageID string         `json:"messageId"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
