package cache

import (
	"context"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

// Context returns the conversation context for a session, or a zero
// context when none is cached.
func (s *Store) Context(ctx context.Context, sessionID string) domain.ConversationContext {
	var cc domain.ConversationContext
	s.GetJSON(ctx, ContextKey(sessionID), &cc)
	return cc
}

// StoreContext caches the conversation context for a session.
func (s *Store) StoreContext(ctx context.Context, sessionID string, cc domain.ConversationContext) {
	s.SetJSON(ctx, ContextKey(sessionID), cc, s.contextTTL)
}

// History returns the cached conversation history for a session.
func (s *Store) History(ctx context.Context, sessionID string) []domain.HistoryEntry {
	var entries []domain.HistoryEntry
	s.GetJSON(ctx, HistoryKey(sessionID), &entries)
	return entries
}

// StoreHistory caches the conversation history for a session.
func (s *Store) StoreHistory(ctx context.Context, sessionID string, entries []domain.HistoryEntry) {
	s.SetJSON(ctx, HistoryKey(sessionID), entries, HistoryTTL)
}
