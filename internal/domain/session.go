// Package domain contains core domain types for the chat pipeline.
package domain

import (
	"time"
)

// ChatSession represents one client conversation. A session is created when
// a client connects and marked inactive (never deleted) on disconnect, so
// message history survives reconnects.
type ChatSession struct {
	ID           string    `json:"id"`
	SessionToken string    `json:"session_token"`
	UserID       *int64    `json:"user_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// ChatMessage is a single message in a session. Messages are append-only and
// immutable once persisted.
type ChatMessage struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Content    string         `json:"content"`
	IsFromUser bool           `json:"is_from_user"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// HistoryEntry is a message reduced to the role/content form the reply
// engine feeds into prompts.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Role constants for HistoryEntry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AsHistoryEntry converts a persisted message into prompt form.
func (m *ChatMessage) AsHistoryEntry() HistoryEntry {
	role := RoleAssistant
	if m.IsFromUser {
		role = RoleUser
	}
	return HistoryEntry{Role: role, Content: m.Content}
}
