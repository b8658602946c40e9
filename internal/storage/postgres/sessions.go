package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

const sessionColumns = `id, session_id, user_id, context_encrypted, message_count, started_at, last_active_at, is_active`

func scanSession(rs rowScanner) (*types.ContextSession, error) {
	var session types.ContextSession
	err := rs.Scan(
		&session.ID,
		&session.SessionKey,
		&session.UserID,
		&session.Encrypted,
		&session.MessageCount,
		&session.StartedAt,
		&session.LastActiveAt,
		&session.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpsertSession creates a session or refreshes last_active_at when the
// session key already exists. Message count and context are preserved on
// refresh.
func (s *Store) UpsertSession(ctx context.Context, session *types.ContextSession) (*types.ContextSession, error) {
	if session == nil || session.SessionKey == "" {
		return nil, fmt.Errorf("%w: session key is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO context_sessions (
			id, session_id, user_id, context_encrypted, message_count,
			started_at, last_active_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET last_active_at = EXCLUDED.last_active_at
		RETURNING ` + sessionColumns

	row, err := scanSession(s.db.QueryRowContext(ctx, query,
		session.ID,
		session.SessionKey,
		session.UserID,
		session.Encrypted,
		session.MessageCount,
		session.StartedAt,
		session.LastActiveAt,
		session.IsActive,
	))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to upsert session: %w", err)
	}
	return row, nil
}

// UpdateSessionContext replaces the encrypted context and increments the
// message counter in one statement.
func (s *Store) UpdateSessionContext(ctx context.Context, sessionKey string, encrypted []byte, now time.Time) (bool, error) {
	query := `
		UPDATE context_sessions
		SET context_encrypted = $2, message_count = message_count + 1, last_active_at = $3
		WHERE session_id = $1 AND is_active = TRUE
	`
	result, err := s.db.ExecContext(ctx, query, sessionKey, encrypted, now)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to update session context: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// GetSession retrieves an active session by its external key.
func (s *Store) GetSession(ctx context.Context, sessionKey string) (*types.ContextSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM context_sessions
		WHERE session_id = $1 AND is_active = TRUE`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionKey))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get session: %w", err)
	}
	return session, nil
}
