package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps entries in process, capped per session.
type InMemoryStore struct {
	mu         sync.RWMutex
	entries    map[string][]Entry
	maxEntries int
}

func NewInMemoryStore(maxPerSession int) *InMemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = 1000
	}
	return &InMemoryStore{entries: make(map[string][]Entry), maxEntries: maxPerSession}
}

func (s *InMemoryStore) Record(_ context.Context, entry Entry) error {
	entry = withDefaults(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.entries[entry.SessionID], entry)
	if len(arr) > s.maxEntries {
		arr = append([]Entry(nil), arr[len(arr)-s.maxEntries:]...)
	}
	s.entries[entry.SessionID] = arr
	return nil
}

// Recent returns up to limit entries for sessionID in chronological order.
func (s *InMemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	return append([]Entry(nil), arr[len(arr)-limit:]...), nil
}

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }

func withDefaults(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}
