package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

const entryColumns = `id, user_id, session_id, memory_type, scope,
	content_encrypted, content_hash, tags, relevance_score, access_count,
	created_at, updated_at, expires_at, is_active`

func scanEntry(rs rowScanner) (*types.MemoryEntry, error) {
	var entry types.MemoryEntry
	var sessionID sql.NullString
	var tags sql.NullString
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
	entry.Tags, err = decodeTags(tags)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		entry.ExpiresAt = &t
	}
	return &entry, nil
}

// InsertEntry writes a new entry. The partial unique index on
// (user_id, content_hash) over active rows arbitrates dedup races: a
// conflicting insert writes nothing and reports false.
func (s *Store) InsertEntry(ctx context.Context, entry *types.MemoryEntry) (bool, error) {
	if entry == nil || entry.ID == "" {
		return false, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	tags, err := encodeTags(entry.Tags)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO memory_entries (
			id, user_id, session_id, memory_type, scope,
			content_encrypted, content_hash, tags, relevance_score, access_count,
			created_at, updated_at, expires_at, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, content_hash) WHERE is_active = 1 DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		nullableString(entry.SessionID),
		entry.MemoryType,
		entry.Scope,
		entry.Encrypted,
		entry.ContentHash,
		tags,
		entry.Relevance,
		entry.AccessCount,
		entry.CreatedAt,
		entry.UpdatedAt,
		nullableTimePtr(entry.ExpiresAt),
		entry.IsActive,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to insert entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// FindActiveByHash returns the active entry with the given content hash.
func (s *Store) FindActiveByHash(ctx context.Context, userID, contentHash string) (*types.MemoryEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM memory_entries
		WHERE user_id = ? AND content_hash = ? AND is_active = 1
		LIMIT 1`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, userID, contentHash))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to find entry by hash: %w", err)
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
		WHERE id = ? AND user_id = ? AND is_active = 1`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get entry: %w", err)
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
	pred.Add("is_active = 1")
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
		pred.Add(tagOverlapCond(len(filter.Tags)), toArgs(filter.Tags)...)
	}

	clause, args := pred.Render(storage.Question)
	query := fmt.Sprintf(`SELECT %s FROM memory_entries WHERE %s ORDER BY created_at DESC LIMIT ?`,
		entryColumns, clause)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query candidates: %w", err)
	}
	defer rows.Close()

	var entries []*types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan candidate: %w", err)
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

	query := fmt.Sprintf(`
		UPDATE memory_entries
		SET access_count = access_count + 1, updated_at = ?
		WHERE id IN (%s)
	`, storage.Placeholders(len(ids)))

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: failed to increment access counts: %w", err)
	}
	return nil
}

// SoftDeleteEntry marks an owned entry inactive.
func (s *Store) SoftDeleteEntry(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	query := `
		UPDATE memory_entries
		SET is_active = 0, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_active = 1
	`
	result, err := s.db.ExecContext(ctx, query, now, id, userID)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to soft-delete entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// PurgeExpired hard-deletes expired short_term rows. Long-term rows are
// never auto-purged regardless of age.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM memory_entries
		WHERE scope = 'short_term' AND expires_at IS NOT NULL AND expires_at < ?
	`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge expired entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// TaggedSiblings returns up to limit other active entries of the user whose
// tag set overlaps the given one. Only identities and tags are projected.
func (s *Store) TaggedSiblings(ctx context.Context, userID, excludeID string, tags []string, limit int) ([]storage.TagMatch, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, tags FROM memory_entries
		WHERE user_id = ? AND id <> ? AND is_active = 1 AND %s
		LIMIT ?
	`, tagOverlapCond(len(tags)))

	args := make([]interface{}, 0, len(tags)+3)
	args = append(args, userID, excludeID)
	args = append(args, toArgs(tags)...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query tagged siblings: %w", err)
	}
	defer rows.Close()

	var matches []storage.TagMatch
	for rows.Next() {
		var m storage.TagMatch
		var matchTags sql.NullString
		if err := rows.Scan(&m.ID, &matchTags); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan tagged sibling: %w", err)
		}
		if m.Tags, err = decodeTags(matchTags); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// UserStats aggregates per-user counters over active entries. The newest
// timestamp is fetched separately: aggregate expressions lose the column's
// declared type, so the driver cannot map MAX(created_at) to time.Time.
func (s *Store) UserStats(ctx context.Context, userID string) (*types.UserStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE scope = 'long_term'),
			COUNT(*) FILTER (WHERE scope = 'short_term'),
			COALESCE(SUM(access_count), 0)
		FROM memory_entries
		WHERE user_id = ? AND is_active = 1
	`

	stats := &types.UserStats{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.TotalMemories,
		&stats.LongTerm,
		&stats.ShortTerm,
		&stats.TotalAccesses,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to aggregate user stats: %w", err)
	}

	var latest time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT created_at FROM memory_entries WHERE user_id = ? AND is_active = 1 ORDER BY created_at DESC LIMIT 1`,
		userID,
	).Scan(&latest)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("sqlite: failed to get latest memory timestamp: %w", err)
	default:
		stats.LatestMemory = &latest
	}
	return stats, nil
}

// tagOverlapCond renders the EXISTS probe matching rows whose JSON tag array
// shares at least one value with the n bound tags. json_each over a NULL tag
// column yields no rows, so untagged entries never match.
func tagOverlapCond(n int) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(memory_entries.tags) WHERE json_each.value IN (%s))",
		storage.Placeholders(n))
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
