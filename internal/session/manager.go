package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrEmptyIntersection = errors.New("no requested capability is advertised")
)

type Session struct {
	ID           string    `json:"id"`
	RequesterID  string    `json:"from"`
	Capabilities []string  `json:"capabilities"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"created"`
	LastActiveAt time.Time `json:"lastActive"`
}

// Granted reports whether capability is part of the session's grant.
func (s *Session) Granted(capability string) bool {
	for _, c := range s.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Manager owns the live sessions of one service instance. Sessions live until
// the process exits; their grants never change after Create.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	advertised []string
	now        func() time.Time
}

func NewManager(advertised []string) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		advertised: append([]string(nil), advertised...),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create grants requested ∩ advertised, keeping request order. A nil request
// grants everything advertised.
func (m *Manager) Create(requesterID string, requested []string) (*Session, error) {
	granted := m.intersect(requested)
	if len(granted) == 0 {
		return nil, ErrEmptyIntersection
	}

	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		RequesterID:  requesterID,
		Capabilities: granted,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Touch records one dispatched message and returns the updated session. The
// increment and the activity timestamp are applied under a single lock.
func (m *Manager) Touch(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.MessageCount++
	s.LastActiveAt = m.now()
	return clone(s), nil
}

// List returns every session, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) Advertised() []string {
	return append([]string(nil), m.advertised...)
}

func (m *Manager) intersect(requested []string) []string {
	if requested == nil {
		return append([]string(nil), m.advertised...)
	}
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	for _, r := range requested {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		for _, a := range m.advertised {
			if a == r {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func clone(s *Session) *Session {
	c := *s
	c.Capabilities = append([]string(nil), s.Capabilities...)
	return &c
}
