package engine

import (
	"time"

	"github.com/omnira-ai/analogic/pkg/types"
)

// Store result status values.
const (
	StatusStored    = "stored"
	StatusDuplicate = "duplicate"
)

// StoreRequest carries one memory to persist.
type StoreRequest struct {
	UserID     string   `json:"user_id"`
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type,omitempty"`
	Scope      string   `json:"scope,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	TTLHours   int      `json:"ttl_hours,omitempty"`
}

// StoreResult reports the outcome of a store call. A duplicate carries the
// existing entry's ID and no row metadata.
type StoreResult struct {
	ID                  string           `json:"id"`
	Status              string           `json:"status"`
	MemoryType          types.MemoryType `json:"memory_type,omitempty"`
	Scope               types.Scope      `json:"scope,omitempty"`
	Tags                []string         `json:"tags,omitempty"`
	CreatedAt           *time.Time       `json:"created_at,omitempty"`
	ExpiresAt           *time.Time       `json:"expires_at,omitempty"`
	AssociationsCreated int              `json:"associations_created"`
}

// RecallRequest selects and ranks memories against a free-text query.
type RecallRequest struct {
	UserID     string   `json:"user_id"`
	Query      string   `json:"query"`
	MemoryType string   `json:"memory_type,omitempty"`
	Scope      string   `json:"scope,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// RecalledMemory is one decrypted, scored recall hit. AccessCount is the
// value before this recall's bump.
type RecalledMemory struct {
	ID          string           `json:"id"`
	MemoryType  types.MemoryType `json:"memory_type"`
	Scope       types.Scope      `json:"scope"`
	Content     string           `json:"content"`
	Tags        []string         `json:"tags,omitempty"`
	Relevance   float64          `json:"relevance_score"`
	AccessCount int              `json:"access_count"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Memory is a single decrypted entry fetched by ID.
type Memory struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	SessionID   string           `json:"session_id,omitempty"`
	MemoryType  types.MemoryType `json:"memory_type"`
	Scope       types.Scope      `json:"scope"`
	Content     string           `json:"content"`
	Tags        []string         `json:"tags,omitempty"`
	Relevance   float64          `json:"relevance_score"`
	AccessCount int              `json:"access_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// SessionContext is a decrypted session context document.
type SessionContext struct {
	SessionKey   string                 `json:"session_id"`
	UserID       string                 `json:"user_id"`
	Context      map[string]interface{} `json:"context"`
	MessageCount int                    `json:"message_count"`
	StartedAt    time.Time              `json:"started_at"`
	LastActiveAt time.Time              `json:"last_active_at"`
}
