package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

const assocColumns = `id, source_memory_id, target_memory_id, association_type, strength, created_at`

func scanAssociation(rs rowScanner) (*types.Association, error) {
	var assoc types.Association
	err := rs.Scan(
		&assoc.ID,
		&assoc.SourceID,
		&assoc.TargetID,
		&assoc.Type,
		&assoc.Strength,
		&assoc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &assoc, nil
}

// UpsertAssociation creates an edge or overwrites the strength of an
// existing (source, target, type) triple. The unique constraint is the
// arbiter; no read precedes the write.
func (s *Store) UpsertAssociation(ctx context.Context, assoc *types.Association) (*types.Association, error) {
	if assoc == nil || assoc.SourceID == "" || assoc.TargetID == "" {
		return nil, fmt.Errorf("%w: association endpoints are required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO memory_associations (
			id, source_memory_id, target_memory_id, association_type, strength, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_memory_id, target_memory_id, association_type)
		DO UPDATE SET strength = excluded.strength
		RETURNING ` + assocColumns

	row, err := scanAssociation(s.db.QueryRowContext(ctx, query,
		assoc.ID,
		assoc.SourceID,
		assoc.TargetID,
		assoc.Type,
		assoc.Strength,
		assoc.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to upsert association: %w", err)
	}
	return row, nil
}

// ListAssociations returns edges touching a memory, strength descending.
func (s *Store) ListAssociations(ctx context.Context, filter storage.AssociationFilter) ([]*types.Association, error) {
	if filter.MemoryID == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	filter.Normalize()

	pred := storage.NewPredicate()
	switch filter.Direction {
	case storage.DirectionOutgoing:
		pred.Add("source_memory_id = ?", filter.MemoryID)
	case storage.DirectionIncoming:
		pred.Add("target_memory_id = ?", filter.MemoryID)
	default:
		pred.Add("(source_memory_id = ? OR target_memory_id = ?)", filter.MemoryID, filter.MemoryID)
	}
	pred.Add("strength >= ?", filter.MinStrength)

	clause, args := pred.Render(storage.Question)
	query := fmt.Sprintf(`SELECT %s FROM memory_associations WHERE %s ORDER BY strength DESC LIMIT ?`,
		assocColumns, clause)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list associations: %w", err)
	}
	defer rows.Close()

	var assocs []*types.Association
	for rows.Next() {
		assoc, err := scanAssociation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan association: %w", err)
		}
		assocs = append(assocs, assoc)
	}
	return assocs, rows.Err()
}

// StrengthenAssociation adds delta to an existing edge, capped at 1.0.
// Returns ErrNotFound when the edge does not exist; it never creates one.
func (s *Store) StrengthenAssociation(ctx context.Context, sourceID, targetID string, assocType types.AssociationType, delta float64) (*types.Association, error) {
	query := `
		UPDATE memory_associations
		SET strength = MIN(1.0, strength + ?)
		WHERE source_memory_id = ? AND target_memory_id = ? AND association_type = ?
		RETURNING ` + assocColumns

	assoc, err := scanAssociation(s.db.QueryRowContext(ctx, query, delta, sourceID, targetID, assocType))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to strengthen association: %w", err)
	}
	return assoc, nil
}

// DecayAssociations deletes every edge below the threshold.
func (s *Store) DecayAssociations(ctx context.Context, threshold float64) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_associations WHERE strength < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to decay associations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Subgraph returns edges touching any seed where both endpoints belong to
// the user, strength descending, capped at limit.
func (s *Store) Subgraph(ctx context.Context, userID string, seedIDs []string, limit int) ([]*types.Association, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}

	ph := storage.Placeholders(len(seedIDs))
	query := fmt.Sprintf(`
		SELECT a.id, a.source_memory_id, a.target_memory_id, a.association_type, a.strength, a.created_at
		FROM memory_associations a
		JOIN memory_entries ms ON ms.id = a.source_memory_id
		JOIN memory_entries mt ON mt.id = a.target_memory_id
		WHERE ms.user_id = ? AND mt.user_id = ?
		  AND (a.source_memory_id IN (%s) OR a.target_memory_id IN (%s))
		ORDER BY a.strength DESC
		LIMIT ?
	`, ph, ph)

	args := make([]interface{}, 0, 2*len(seedIDs)+3)
	args = append(args, userID, userID)
	args = append(args, toArgs(seedIDs)...)
	args = append(args, toArgs(seedIDs)...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query subgraph: %w", err)
	}
	defer rows.Close()

	var assocs []*types.Association
	for rows.Next() {
		assoc, err := scanAssociation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan subgraph edge: %w", err)
		}
		assocs = append(assocs, assoc)
	}
	return assocs, rows.Err()
}

// PruneDangling deletes edges whose source or target entry row no longer
// exists. Soft-deleted entries still anchor their edges; only hard-purged
// rows leave danglers.
func (s *Store) PruneDangling(ctx context.Context) (int, error) {
	query := `
		DELETE FROM memory_associations
		WHERE NOT EXISTS (
			SELECT 1 FROM memory_entries WHERE memory_entries.id = memory_associations.source_memory_id
		) OR NOT EXISTS (
			SELECT 1 FROM memory_entries WHERE memory_entries.id = memory_associations.target_memory_id
		)
	`
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to prune dangling associations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	return int(n), nil
}
