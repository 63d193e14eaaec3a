package ledger

import (
	"context"
	"time"
)

// Entry records one dispatched message. It is an audit trail only; sessions
// are not rebuilt from it.
type Entry struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	RequesterID    string    `json:"from"`
	Capability     string    `json:"capability"`
	MessageNumber  int       `json:"message_number"`
	Payment        string    `json:"payment"`
	Outcome        string    `json:"outcome"`
	PayloadDigest  string    `json:"payload_digest"`
	PayloadExcerpt string    `json:"payload_excerpt"`
	PIIRedacted    bool      `json:"pii_redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and retrieves ledger entries.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Mode() string
	Close() error
}

const defaultRecentLimit = 20
