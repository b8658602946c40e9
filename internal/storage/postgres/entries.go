package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

const entryColumns = `id, user_id, session_id, memory_type, scope,
	content_encrypted, content_hash, tags, relevance_score, access_count,
	created_at, updated_at, expires_at, is_active`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(rs rowScanner) (*types.MemoryEntry, error) {
	var entry types.MemoryEntry
	var sessionID sql.NullString
	var tags pq.StringArray
	var expiresAt sql.NullTime

	err := rs.Scan(
		&entry.ID,
		&entry.UserID,
		&sessionID,
		&entry.MemoryType,
		&entry.Scope,
		&entry.Encrypted,
		&entry.ContentHash,
		&tags,
		&entry.Relevance,
		&entry.AccessCount,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&expiresAt,
		&entry.IsActive,
	)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		entry.SessionID = sessionID.String
	}
	if len(tags) > 0 {
		entry.Tags = []string(tags)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		entry.ExpiresAt = &t
	}
	return &entry, nil
}

func tagsValue(tags []string) interface{} {
	if len(tags) == 0 {
		return nil
	}
	return pq.Array(tags)
}

// InsertEntry writes a new entry. The partial unique index on
// (user_id, content_hash) over active rows arbitrates dedup races: a
// conflicting insert writes nothing and reports false.
func (s *Store) InsertEntry(ctx context.Context, entry *types.MemoryEntry) (bool, error) {
	if entry == nil || entry.ID == "" {
		return false, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO memory_entries (
			id, user_id, session_id, memory_type, scope,
			content_encrypted, content_hash, tags, relevance_score, access_count,
			created_at, updated_at, expires_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, content_hash) WHERE is_active DO NOTHING
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
		return false, fmt.Errorf("postgres: failed to insert entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// FindActiveByHash returns the active entry with the given content hash.
func (s *Store) FindActiveByHash(ctx context.Context, userID, contentHash string) (*types.MemoryEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM memory_entries
		WHERE user_id = $1 AND content_hash = $2 AND is_active = TRUE
		LIMIT 1`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, userID, contentHash))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find entry by hash: %w", err)
	}
	return entry, nil
}

// GetEntry retrieves an active entry by ID, enforcing ownership.
func (s *Store) GetEntry(ctx context.Context, id, userID string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + entryColumns + `
		FROM memory_entries
		WHERE id = $1 AND user_id = $2 AND is_active = TRUE`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entry: %w", err)
	}
	return entry, nil
}

// Candidates loads active, unexpired entries matching the filter, newest
// first. Filter clauses are composed as parameterized predicates.
func (s *Store) Candidates(ctx context.Context, filter storage.RecallFilter) ([]*types.MemoryEntry, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	filter.Normalize()

	pred := storage.NewPredicate()
	pred.Add("user_id = ?", filter.UserID)
	pred.Add("is_active = TRUE")
	pred.Add("(expires_at IS NULL OR expires_at > ?)", filter.Now)
	if filter.MemoryType != "" {
		pred.Add("memory_type = ?", filter.MemoryType)
	}
	if filter.Scope != "" {
		pred.Add("scope = ?", filter.Scope)
	}
	if filter.SessionID != "" {
		pred.Add("session_id = ?", filter.SessionID)
	}
	if len(filter.Tags) > 0 {
		pred.Add("tags && ?", pq.Array(filter.Tags))
	}

	clause, args := pred.Render(storage.Dollar)
	query := fmt.Sprintf(`SELECT %s FROM memory_entries WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		entryColumns, clause, pred.NextIndex())
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query candidates: %w", err)
	}
	defer rows.Close()

	var entries []*types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan candidate: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// IncrementAccess bumps access_count and updated_at for the given IDs.
func (s *Store) IncrementAccess(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE memory_entries
		SET access_count = access_count + 1, updated_at = $1
		WHERE id = ANY($2)
	`
	if _, err := s.db.ExecContext(ctx, query, now, pq.Array(ids)); err != nil {
		return fmt.Errorf("postgres: failed to increment access counts: %w", err)
	}
	return nil
}

// SoftDeleteEntry marks an owned entry inactive.
func (s *Store) SoftDeleteEntry(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	query := `
		UPDATE memory_entries
		SET is_active = FALSE, updated_at = $3
		WHERE id = $1 AND user_id = $2 AND is_active = TRUE
	`
	result, err := s.db.ExecContext(ctx, query, id, userID, now)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to soft-delete entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// PurgeExpired hard-deletes expired short_term rows. Long-term rows are
// never auto-purged regardless of age.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM memory_entries
		WHERE scope = 'short_term' AND expires_at IS NOT NULL AND expires_at < $1
	`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to purge expired entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// TaggedSiblings returns up to limit other active entries of the user whose
// tag set overlaps the given one. Only identities and tags are projected.
func (s *Store) TaggedSiblings(ctx context.Context, userID, excludeID string, tags []string, limit int) ([]storage.TagMatch, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, tags FROM memory_entries
		WHERE user_id = $1 AND id <> $2 AND is_active = TRUE AND tags && $3
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, userID, excludeID, pq.Array(tags), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query tagged siblings: %w", err)
	}
	defer rows.Close()

	var matches []storage.TagMatch
	for rows.Next() {
		var m storage.TagMatch
		var matchTags pq.StringArray
		if err := rows.Scan(&m.ID, &matchTags); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan tagged sibling: %w", err)
		}
		m.Tags = []string(matchTags)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// UserStats aggregates per-user counters over active entries.
func (s *Store) UserStats(ctx context.Context, userID string) (*types.UserStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE scope = 'long_term'),
			COUNT(*) FILTER (WHERE scope = 'short_term'),
			COALESCE(SUM(access_count), 0),
			MAX(created_at)
		FROM memory_entries
		WHERE user_id = $1 AND is_active = TRUE
	`

	stats := &types.UserStats{UserID: userID}
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.TotalMemories,
		&stats.LongTerm,
		&stats.ShortTerm,
		&stats.TotalAccesses,
		&latest,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to aggregate user stats: %w", err)
	}
	if latest.Valid {
		t := latest.Time
		stats.LatestMemory = &t
	}
	return stats, nil
}
