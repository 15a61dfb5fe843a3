package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process [Store]. Entries are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Entry
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]Entry),
		now:      time.Now,
	}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[e.SessionID] = append(s.sessions[e.SessionID], e)
	return nil
}

// List implements [Store].
func (s *MemoryStore) List(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[sessionID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Clear implements [Store].
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
