package session

// Listing is the read-only projection served by the sessions endpoint.
type Listing struct {
	ActiveSessions int        `json:"active_sessions"`
	Sessions       []*Session `json:"sessions"`
}

// Snapshot projects all sessions of m.
func (m *Manager) Snapshot() Listing {
	all := m.List()
	return Listing{ActiveSessions: len(all), Sessions: all}
}
