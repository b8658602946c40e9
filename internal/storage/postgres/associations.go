package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

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
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_memory_id, target_memory_id, association_type)
		DO UPDATE SET strength = EXCLUDED.strength
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
		return nil, fmt.Errorf("postgres: failed to upsert association: %w", err)
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

	clause, args := pred.Render(storage.Dollar)
	query := fmt.Sprintf(`SELECT %s FROM memory_associations WHERE %s ORDER BY strength DESC LIMIT $%d`,
		assocColumns, clause, pred.NextIndex())
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list associations: %w", err)
	}
	defer rows.Close()

	var assocs []*types.Association
	for rows.Next() {
		assoc, err := scanAssociation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan association: %w", err)
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
		SET strength = LEAST(1.0, strength + $4)
		WHERE source_memory_id = $1 AND target_memory_id = $2 AND association_type = $3
		RETURNING ` + assocColumns

	assoc, err := scanAssociation(s.db.QueryRowContext(ctx, query, sourceID, targetID, assocType, delta))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to strengthen association: %w", err)
	}
	return assoc, nil
}

// DecayAssociations deletes every edge below the threshold.
func (s *Store) DecayAssociations(ctx context.Context, threshold float64) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_associations WHERE strength < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to decay associations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Subgraph returns edges touching any seed where both endpoints belong to
// the user, strength descending, capped at limit.
func (s *Store) Subgraph(ctx context.Context, userID string, seedIDs []string, limit int) ([]*types.Association, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT a.id, a.source_memory_id, a.target_memory_id, a.association_type, a.strength, a.created_at
		FROM memory_associations a
		JOIN memory_entries ms ON ms.id = a.source_memory_id
		JOIN memory_entries mt ON mt.id = a.target_memory_id
		WHERE ms.user_id = $1 AND mt.user_id = $1
		  AND (a.source_memory_id = ANY($2) OR a.target_memory_id = ANY($2))
		ORDER BY a.strength DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, pq.Array(seedIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query subgraph: %w", err)
	}
	defer rows.Close()

	var assocs []*types.Association
	for rows.Next() {
		assoc, err := scanAssociation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan subgraph edge: %w", err)
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
		return 0, fmt.Errorf("postgres: failed to prune dangling associations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return int(n), nil
}
