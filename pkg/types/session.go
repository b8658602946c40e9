package types

import "time"

// ContextSession tracks one agent conversation. The context document is
// encrypted with the owning user's derived key; the external SessionKey is
// unique and create-or-refresh is idempotent on it.
type ContextSession struct {
	ID           string    `json:"id"`
	SessionKey   string    `json:"session_id"` // External identifier supplied by the caller
	UserID       string    `json:"user_id"`
	Encrypted    []byte    `json:"-"` // Encrypted context document
	MessageCount int       `json:"message_count"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	IsActive     bool      `json:"is_active"`
}
