package transport

import (
	"encoding/json"
	"time"
)

// Wire events, both directions.
const (
	EventMessage = "chat:message"
	EventTyping  = "chat:typing"
	EventError   = "chat:error"
)

// envelope is the frame every WebSocket message travels in.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is a chat message crossing the wire in either
// direction.
type MessagePayload struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	IsFromUser bool           `json:"isFromUser"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TypingPayload toggles the typing indicator.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// ErrorPayload carries a user-safe failure notice.
type ErrorPayload struct {
	Message string `json:"message"`
}
