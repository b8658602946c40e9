package postgres

import (
	"context"
	"fmt"

	"github.com/omnira-ai/analogic/pkg/types"
)

// ExportEntries returns entries as stored (content stays encrypted), all
// rows or one user's. Ordered for deterministic snapshots.
func (s *Store) ExportEntries(ctx context.Context, userID string) ([]*types.MemoryEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM memory_entries`
	var args []interface{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to export entries: %w", err)
	}
	defer rows.Close()

	var entries []*types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan exported entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ExportAssociations returns all associations, or those whose source entry
// belongs to the user.
func (s *Store) ExportAssociations(ctx context.Context, userID string) ([]*types.Association, error) {
	query := `SELECT ` + assocColumns + ` FROM memory_associations ORDER BY created_at, id`
	var args []interface{}
	if userID != "" {
		query = `
			SELECT a.id, a.source_memory_id, a.target_memory_id, a.association_type, a.strength, a.created_at
			FROM memory_associations a
			JOIN memory_entries m ON m.id = a.source_memory_id
			WHERE m.user_id = $1
			ORDER BY a.created_at, a.id`
		args = append(args, userID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to export associations: %w", err)
	}
	defer rows.Close()

	var assocs []*types.Association
	for rows.Next() {
		assoc, err := scanAssociation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan exported association: %w", err)
		}
		assocs = append(assocs, assoc)
	}
	return assocs, rows.Err()
}

// ExportSessions returns all sessions, or one user's.
func (s *Store) ExportSessions(ctx context.Context, userID string) ([]*types.ContextSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM context_sessions`
	var args []interface{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY started_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to export sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.ContextSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan exported session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ImportEntry inserts an exported entry, skipping on any conflict so a
// restore never overwrites live rows.
func (s *Store) ImportEntry(ctx context.Context, entry *types.MemoryEntry) (bool, error) {
	query := `
		INSERT INTO memory_entries (
			id, user_id, session_id, memory_type, scope,
			content_encrypted, content_hash, tags, relevance_score, access_count,
			created_at, updated_at, expires_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		nullableString(entry.SessionID),
		entry.MemoryType,
		entry.Scope,
		entry.Encrypted,
		entry.ContentHash,
		tagsValue(entry.Tags),
		entry.Relevance,
		entry.AccessCount,
		entry.CreatedAt,
		entry.UpdatedAt,
		nullableTimePtr(entry.ExpiresAt),
		entry.IsActive,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to import entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ImportAssociation inserts an exported association, skipping on conflict.
func (s *Store) ImportAssociation(ctx context.Context, assoc *types.Association) (bool, error) {
	query := `
		INSERT INTO memory_associations (
			id, source_memory_id, target_memory_id, association_type, strength, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		assoc.ID,
		assoc.SourceID,
		assoc.TargetID,
		assoc.Type,
		assoc.Strength,
		assoc.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to import association: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ImportSession inserts an exported session, skipping on conflict.
func (s *Store) ImportSession(ctx context.Context, session *types.ContextSession) (bool, error) {
	query := `
		INSERT INTO context_sessions (
			id, session_id, user_id, context_encrypted, message_count,
			started_at, last_active_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.SessionKey,
		session.UserID,
		session.Encrypted,
		session.MessageCount,
		session.StartedAt,
		session.LastActiveAt,
		session.IsActive,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to import session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
