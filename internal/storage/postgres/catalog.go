package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

const catalogColumns = `id, tier, backup_path, checksum, size_bytes, records_count, started_at, completed_at, status, error_message`

func scanBackup(rs rowScanner) (*types.BackupRecord, error) {
	var record types.BackupRecord
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := rs.Scan(
		&record.ID,
		&record.Tier,
		&record.Path,
		&record.Checksum,
		&record.SizeBytes,
		&record.RecordCount,
		&record.StartedAt,
		&completedAt,
		&record.Status,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	if errMsg.Valid {
		record.Error = errMsg.String
	}
	return &record, nil
}

// InsertBackup writes a catalog row in running state before any backup I/O.
func (s *Store) InsertBackup(ctx context.Context, record *types.BackupRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: backup record ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO backup_catalog (
			id, tier, backup_path, checksum, size_bytes, records_count, started_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Tier,
		record.Path,
		record.Checksum,
		record.SizeBytes,
		record.RecordCount,
		record.StartedAt,
		record.Status,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert backup record: %w", err)
	}
	return nil
}

// FinalizeBackupSuccess transitions a running row to success.
func (s *Store) FinalizeBackupSuccess(ctx context.Context, id, path, checksum string, sizeBytes int64, recordCount int, completedAt time.Time) error {
	query := `
		UPDATE backup_catalog
		SET backup_path = $2, checksum = $3, size_bytes = $4, records_count = $5,
		    completed_at = $6, status = 'success'
		WHERE id = $1 AND status = 'running'
	`
	_, err := s.db.ExecContext(ctx, query, id, path, checksum, sizeBytes, recordCount, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to finalize backup success: %w", err)
	}
	return nil
}

// FinalizeBackupFailure transitions a running row to failed.
func (s *Store) FinalizeBackupFailure(ctx context.Context, id, errMsg string, completedAt time.Time) error {
	query := `
		UPDATE backup_catalog
		SET status = 'failed', error_message = $2, completed_at = $3
		WHERE id = $1 AND status = 'running'
	`
	_, err := s.db.ExecContext(ctx, query, id, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to finalize backup failure: %w", err)
	}
	return nil
}

// GetBackup retrieves one catalog row.
func (s *Store) GetBackup(ctx context.Context, id string) (*types.BackupRecord, error) {
	query := `SELECT ` + catalogColumns + ` FROM backup_catalog WHERE id = $1`

	record, err := scanBackup(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get backup record: %w", err)
	}
	return record, nil
}

// ListBackups returns catalog rows newest first, optionally by tier.
func (s *Store) ListBackups(ctx context.Context, tier string, limit int) ([]*types.BackupRecord, error) {
	if limit < 1 {
		limit = 20
	}

	pred := storage.NewPredicate()
	if tier != "" {
		pred.Add("tier = ?", tier)
	}

	query := `SELECT ` + catalogColumns + ` FROM backup_catalog`
	clause, args := pred.Render(storage.Dollar)
	if !pred.Empty() {
		query += " WHERE " + clause
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", pred.NextIndex())
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list backup records: %w", err)
	}
	defer rows.Close()

	var records []*types.BackupRecord
	for rows.Next() {
		record, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan backup record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
