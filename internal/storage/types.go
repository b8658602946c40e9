package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found,
	// is inactive, or is owned by another user.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Direction selects which edges of a memory an association listing returns.
type Direction string

// Direction constants
const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// RecallFilter selects recall candidates. All filter fields besides UserID
// are optional; zero values mean no constraint. Candidates are always
// active, unexpired at Now, and ordered newest first.
type RecallFilter struct {
	// UserID scopes the query to one user's entries. Required.
	UserID string

	// MemoryType filters by classification. Empty string means no filter.
	MemoryType string

	// Scope filters by retention class. Empty string means no filter.
	Scope string

	// SessionID filters to entries created under a session key.
	SessionID string

	// Tags filters to entries whose tag set overlaps this one.
	Tags []string

	// Now is the instant used to exclude expired entries.
	Now time.Time

	// Limit caps the number of candidates. Callers over-fetch here and
	// re-rank after decryption.
	Limit int
}

// Normalize applies defaults and bounds to the filter.
func (f *RecallFilter) Normalize() {
	if f.Now.IsZero() {
		f.Now = time.Now().UTC()
	}
	if f.Limit < 1 {
		f.Limit = 60
	}
	if f.Limit > 300 {
		f.Limit = 300
	}
}

// AssociationFilter selects edges touching one memory.
type AssociationFilter struct {
	// MemoryID is the entry whose edges are listed. Required.
	MemoryID string

	// Direction selects outgoing, incoming, or both. Defaults to both.
	Direction Direction

	// MinStrength drops edges weaker than this. The zero value means the
	// default threshold of 0.3; pass a small epsilon to list everything.
	MinStrength float64

	// Limit caps the result, ordered by strength descending. Defaults to 10.
	Limit int
}

// Normalize applies defaults and bounds to the filter.
func (f *AssociationFilter) Normalize() {
	switch f.Direction {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
	default:
		f.Direction = DirectionBoth
	}
	if f.MinStrength <= 0 {
		f.MinStrength = 0.3
	}
	if f.MinStrength > 1 {
		f.MinStrength = 1
	}
	if f.Limit < 1 {
		f.Limit = 10
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// TagMatch is a projection of an entry used by the auto-link candidate scan:
// just the identity and the tag set, never the encrypted content.
type TagMatch struct {
	ID   string
	Tags []string
}
