package cache

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TTLs per key family. History and cached responses live a day,
// conversation context expires after an hour of inactivity.
const (
	HistoryTTL  = 24 * time.Hour
	ContextTTL  = time.Hour
	ResponseTTL = 24 * time.Hour
)

func HistoryKey(sessionID string) string {
	return fmt.Sprintf("chat:%s:history", sessionID)
}

func ContextKey(sessionID string) string {
	return fmt.Sprintf("chat:%s:context", sessionID)
}

func ResponseKey(normalizedQuery string) string {
	return fmt.Sprintf("chat:cache:%s", normalizedQuery)
}

// NormalizeQuery canonicalizes user text for response-cache lookups:
// lowercase, punctuation stripped, whitespace collapsed to single
// spaces. "Do you have RED shoes??" and "do you have red shoes" hit
// the same entry.
func NormalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	space := false
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
