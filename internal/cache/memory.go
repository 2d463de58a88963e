package cache

import (
	"sync"
	"time"
)

// memoryCache is the in-process expiring map used when Redis is
// unreachable. Callers never see it directly; Store swaps to it
// transparently.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (m *memoryCache) get(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (m *memoryCache) set(key string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	m.mu.Unlock()
}

// sweep removes expired entries. Called periodically from the heartbeat
// loop so fallback entries do not accumulate forever.
func (m *memoryCache) sweep() {
	now := time.Now()
	m.mu.Lock()
	for key, entry := range m.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}

func (m *memoryCache) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
