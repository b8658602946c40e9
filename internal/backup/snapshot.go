package backup

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/omnira-ai/analogic/pkg/types"
)

// FormatVersion is the snapshot document version. Restore accepts exactly
// this version; bumping it is a compatibility event.
const FormatVersion = "1.0"

// TaggedBytes carries a binary field inside the snapshot document as a
// self-describing wrapper, {"__bytes__": true, "data": <base64>}, so that
// encrypted blobs are distinguishable from plain scalars when the document
// is inspected or processed by other tooling.
type TaggedBytes []byte

// MarshalJSON implements json.Marshaler.
func (b TaggedBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Tagged bool   `json:"__bytes__"`
		Data   string `json:"data"`
	}{Tagged: true, Data: base64.StdEncoding.EncodeToString(b)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *TaggedBytes) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Tagged bool   `json:"__bytes__"`
		Data   string `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	if !wrapper.Tagged {
		return errors.New("backup: field is not a tagged byte wrapper")
	}
	raw, err := base64.StdEncoding.DecodeString(wrapper.Data)
	if err != nil {
		return fmt.Errorf("backup: invalid base64 in byte wrapper: %w", err)
	}
	*b = raw
	return nil
}

// snapshot is the structured document inside a backup artifact: a metadata
// block plus the three record collections, encrypted fields intact.
type snapshot struct {
	Metadata     snapshotMetadata      `json:"metadata"`
	Entries      []snapshotEntry       `json:"memory_entries"`
	Associations []snapshotAssociation `json:"memory_associations"`
	Sessions     []snapshotSession     `json:"context_sessions"`
}

type snapshotMetadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Scope     string    `json:"scope"` // "full" or "user"
	UserID    string    `json:"user_id,omitempty"`
}

type snapshotEntry struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	SessionID   string      `json:"session_id,omitempty"`
	MemoryType  string      `json:"memory_type"`
	Scope       string      `json:"scope"`
	Content     TaggedBytes `json:"content_encrypted"`
	ContentHash string      `json:"content_hash"`
	Tags        []string    `json:"tags,omitempty"`
	Relevance   float64     `json:"relevance_score"`
	AccessCount int         `json:"access_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	IsActive    bool        `json:"is_active"`
}

type snapshotAssociation struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_memory_id"`
	TargetID  string    `json:"target_memory_id"`
	Type      string    `json:"association_type"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

type snapshotSession struct {
	ID           string      `json:"id"`
	SessionKey   string      `json:"session_id"`
	UserID       string      `json:"user_id"`
	Context      TaggedBytes `json:"context_encrypted"`
	MessageCount int         `json:"message_count"`
	StartedAt    time.Time   `json:"started_at"`
	LastActiveAt time.Time   `json:"last_active_at"`
	IsActive     bool        `json:"is_active"`
}

// newSnapshot assembles the export document. An empty userID marks a full
// snapshot.
func newSnapshot(userID string, createdAt time.Time, entries []*types.MemoryEntry, assocs []*types.Association, sessions []*types.ContextSession) *snapshot {
	scope := "full"
	if userID != "" {
		scope = "user"
	}
	s := &snapshot{
		Metadata: snapshotMetadata{
			Version:   FormatVersion,
			CreatedAt: createdAt.UTC(),
			Scope:     scope,
			UserID:    userID,
		},
		Entries:      make([]snapshotEntry, 0, len(entries)),
		Associations: make([]snapshotAssociation, 0, len(assocs)),
		Sessions:     make([]snapshotSession, 0, len(sessions)),
	}
	for _, entry := range entries {
		s.Entries = append(s.Entries, snapshotEntry{
			ID:          entry.ID,
			UserID:      entry.UserID,
			SessionID:   entry.SessionID,
			MemoryType:  string(entry.MemoryType),
			Scope:       string(entry.Scope),
			Content:     TaggedBytes(entry.Encrypted),
			ContentHash: entry.ContentHash,
			Tags:        entry.Tags,
			Relevance:   entry.Relevance,
			AccessCount: entry.AccessCount,
			CreatedAt:   entry.CreatedAt,
			UpdatedAt:   entry.UpdatedAt,
			ExpiresAt:   entry.ExpiresAt,
			IsActive:    entry.IsActive,
		})
	}
	for _, assoc := range assocs {
		s.Associations = append(s.Associations, snapshotAssociation{
			ID:        assoc.ID,
			SourceID:  assoc.SourceID,
			TargetID:  assoc.TargetID,
			Type:      string(assoc.Type),
			Strength:  assoc.Strength,
			CreatedAt: assoc.CreatedAt,
		})
	}
	for _, session := range sessions {
		s.Sessions = append(s.Sessions, snapshotSession{
			ID:           session.ID,
			SessionKey:   session.SessionKey,
			UserID:       session.UserID,
			Context:      TaggedBytes(session.Encrypted),
			MessageCount: session.MessageCount,
			StartedAt:    session.StartedAt,
			LastActiveAt: session.LastActiveAt,
			IsActive:     session.IsActive,
		})
	}
	return s
}

func (s *snapshot) totalRecords() int {
	return len(s.Entries) + len(s.Associations) + len(s.Sessions)
}

// encode serializes and gzips the snapshot into artifact bytes.
func (s *snapshot) encode() ([]byte, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encode snapshot: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(doc); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("backup: failed to compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("backup: failed to compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeSnapshot reverses encode and enforces the format version.
func decodeSnapshot(data []byte) (*snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("backup: artifact is not gzip data: %w", err)
	}
	defer gz.Close()

	doc, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to decompress artifact: %w", err)
	}

	var s snapshot
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("backup: failed to decode snapshot: %w", err)
	}
	if s.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf("backup: unsupported snapshot version %q", s.Metadata.Version)
	}
	return &s, nil
}

// Domain-type conversions for the import path.

func (r *snapshotEntry) toEntry() *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:          r.ID,
		UserID:      r.UserID,
		SessionID:   r.SessionID,
		MemoryType:  types.MemoryType(r.MemoryType),
		Scope:       types.Scope(r.Scope),
		Encrypted:   []byte(r.Content),
		ContentHash: r.ContentHash,
		Tags:        r.Tags,
		Relevance:   r.Relevance,
		AccessCount: r.AccessCount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
		IsActive:    r.IsActive,
	}
}

func (r *snapshotAssociation) toAssociation() *types.Association {
	return &types.Association{
		ID:        r.ID,
		SourceID:  r.SourceID,
		TargetID:  r.TargetID,
		Type:      types.AssociationType(r.Type),
		Strength:  r.Strength,
		CreatedAt: r.CreatedAt,
	}
}

func (r *snapshotSession) toSession() *types.ContextSession {
	return &types.ContextSession{
		ID:           r.ID,
		SessionKey:   r.SessionKey,
		UserID:       r.UserID,
		Encrypted:    []byte(r.Context),
		MessageCount: r.MessageCount,
		StartedAt:    r.StartedAt,
		LastActiveAt: r.LastActiveAt,
		IsActive:     r.IsActive,
	}
}
