package types

import "time"

// MemoryEntry is a single persisted memory. Content is encrypted with the
// owning user's derived key before it reaches storage; the plaintext hash is
// kept alongside for deduplication.
type MemoryEntry struct {
	ID          string     `json:"id"`                   // Unique identifier (UUID)
	UserID      string     `json:"user_id"`              // Owning user identity
	SessionID   string     `json:"session_id,omitempty"` // Optional originating session key
	MemoryType  MemoryType `json:"memory_type"`          // general, context, knowledge, association
	Scope       Scope      `json:"scope"`                // short_term or long_term
	Encrypted   []byte     `json:"-"`                    // nonce-prefixed AES-GCM blob, never exposed over the API
	ContentHash string     `json:"content_hash"`         // SHA-256 of the plaintext, dedup key per user
	Tags        []string   `json:"tags,omitempty"`       // Normalized tag set, first-seen order
	Relevance   float64    `json:"relevance_score"`      // Stored base relevance (recall computes its own)
	AccessCount int        `json:"access_count"`         // Incremented for entries returned by recall
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // Set iff scope is short_term
	IsActive    bool       `json:"is_active"`            // Soft-delete marker
}

// Expired reports whether the entry's expiry has passed at the given instant.
// Entries without an expiry never expire.
func (m *MemoryEntry) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// UserStats aggregates per-user memory counters.
type UserStats struct {
	UserID        string     `json:"user_id"`
	TotalMemories int        `json:"total_memories"` // Active entries of any scope
	LongTerm      int        `json:"long_term_count"`
	ShortTerm     int        `json:"short_term_count"`
	TotalAccesses int        `json:"total_accesses"`
	LatestMemory  *time.Time `json:"latest_memory,omitempty"`
}
