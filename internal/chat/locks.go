package chat

import "sync"

// sessionLocks serializes context read-modify-write cycles per session
// so concurrent turns cannot clobber each other's filter updates.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the per-session mutex and returns its unlock func.
func (s *sessionLocks) acquire(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
