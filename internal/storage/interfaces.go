// Package storage provides composable storage interfaces for the Analogic
// memory system.
//
// The layer is split into small, focused interfaces that the engine, the
// association graph, and the backup engine each depend on independently.
// Two backends implement the composed Store: PostgreSQL for production and
// SQLite for development and tests.
package storage

import (
	"context"
	"time"

	"github.com/omnira-ai/analogic/pkg/types"
)

// EntryStore persists memory entries. Rows hold encrypted content only;
// plaintext never reaches this layer.
type EntryStore interface {
	// InsertEntry writes a new entry. The dedup guard is a partial unique
	// constraint on (user_id, content_hash) over active rows: on conflict
	// nothing is written and the method reports false.
	InsertEntry(ctx context.Context, entry *types.MemoryEntry) (bool, error)

	// FindActiveByHash returns the active entry with the given content
	// hash for a user. Returns ErrNotFound if none exists.
	FindActiveByHash(ctx context.Context, userID, contentHash string) (*types.MemoryEntry, error)

	// GetEntry retrieves an active entry by ID, enforcing ownership.
	// Returns ErrNotFound for missing, inactive, or foreign-owned rows.
	GetEntry(ctx context.Context, id, userID string) (*types.MemoryEntry, error)

	// Candidates loads active, unexpired entries matching the filter,
	// newest first. See RecallFilter.
	Candidates(ctx context.Context, filter RecallFilter) ([]*types.MemoryEntry, error)

	// IncrementAccess bumps access_count and updated_at for exactly the
	// given entry IDs.
	IncrementAccess(ctx context.Context, ids []string, now time.Time) error

	// SoftDeleteEntry marks an owned entry inactive. Reports whether a row
	// was actually affected.
	SoftDeleteEntry(ctx context.Context, id, userID string, now time.Time) (bool, error)

	// PurgeExpired hard-deletes short_term entries whose expiry has
	// passed. Long-term rows are never touched. Returns rows removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	// TaggedSiblings returns up to limit other active entries of the same
	// user sharing at least one tag with the given set, for auto-linking.
	TaggedSiblings(ctx context.Context, userID, excludeID string, tags []string, limit int) ([]TagMatch, error)

	// UserStats aggregates per-user counters over active entries.
	UserStats(ctx context.Context, userID string) (*types.UserStats, error)
}

// AssociationStore persists the typed edge set between memory entries.
type AssociationStore interface {
	// UpsertAssociation creates an edge or, when the (source, target,
	// type) triple already exists, overwrites its strength. Returns the
	// surviving row.
	UpsertAssociation(ctx context.Context, assoc *types.Association) (*types.Association, error)

	// ListAssociations returns edges touching a memory per the filter,
	// ordered by strength descending.
	ListAssociations(ctx context.Context, filter AssociationFilter) ([]*types.Association, error)

	// StrengthenAssociation adds delta to an existing edge's strength,
	// capped at 1.0. Returns ErrNotFound when the edge does not exist;
	// it never creates one.
	StrengthenAssociation(ctx context.Context, sourceID, targetID string, assocType types.AssociationType, delta float64) (*types.Association, error)

	// DecayAssociations deletes every edge below the strength threshold
	// and returns the count removed.
	DecayAssociations(ctx context.Context, threshold float64) (int, error)

	// Subgraph returns edges touching any of the seed memory IDs where
	// both endpoints belong to the user, strength descending, capped at
	// limit.
	Subgraph(ctx context.Context, userID string, seedIDs []string, limit int) ([]*types.Association, error)

	// PruneDangling deletes edges whose source or target entry row no
	// longer exists. Run by the maintenance sweep after a purge.
	PruneDangling(ctx context.Context) (int, error)
}

// SessionStore persists context sessions keyed by an external session key.
type SessionStore interface {
	// UpsertSession creates a session or, when the session key exists,
	// refreshes last_active_at only (message count is preserved).
	// Returns the surviving row.
	UpsertSession(ctx context.Context, session *types.ContextSession) (*types.ContextSession, error)

	// UpdateSessionContext replaces the encrypted context blob and
	// increments the message counter in one statement. Reports whether an
	// active row was affected.
	UpdateSessionContext(ctx context.Context, sessionKey string, encrypted []byte, now time.Time) (bool, error)

	// GetSession retrieves an active session by its external key.
	// Returns ErrNotFound if absent.
	GetSession(ctx context.Context, sessionKey string) (*types.ContextSession, error)
}

// CatalogStore records backup attempts. Rows are append-only: inserted
// running, finalized exactly once.
type CatalogStore interface {
	// InsertBackup writes a catalog row in running state before any
	// backup I/O begins.
	InsertBackup(ctx context.Context, record *types.BackupRecord) error

	// FinalizeBackupSuccess transitions a running row to success with its
	// artifact metadata.
	FinalizeBackupSuccess(ctx context.Context, id, path, checksum string, sizeBytes int64, recordCount int, completedAt time.Time) error

	// FinalizeBackupFailure transitions a running row to failed with the
	// error text.
	FinalizeBackupFailure(ctx context.Context, id, errMsg string, completedAt time.Time) error

	// GetBackup retrieves one catalog row. Returns ErrNotFound if absent.
	GetBackup(ctx context.Context, id string) (*types.BackupRecord, error)

	// ListBackups returns catalog rows newest first, optionally filtered
	// by tier.
	ListBackups(ctx context.Context, tier string, limit int) ([]*types.BackupRecord, error)
}

// SnapshotStore feeds the backup engine. Exports read rows as stored
// (content stays encrypted); imports upsert with conflict-skip semantics so
// a restore never overwrites live rows.
type SnapshotStore interface {
	// ExportEntries returns all entries, or one user's when userID is
	// non-empty.
	ExportEntries(ctx context.Context, userID string) ([]*types.MemoryEntry, error)

	// ExportAssociations returns all associations, or those whose source
	// entry belongs to the user.
	ExportAssociations(ctx context.Context, userID string) ([]*types.Association, error)

	// ExportSessions returns all sessions, or one user's.
	ExportSessions(ctx context.Context, userID string) ([]*types.ContextSession, error)

	// ImportEntry inserts an exported entry, skipping on any conflict.
	// Reports whether a row was written.
	ImportEntry(ctx context.Context, entry *types.MemoryEntry) (bool, error)

	// ImportAssociation inserts an exported association, skipping on any
	// conflict.
	ImportAssociation(ctx context.Context, assoc *types.Association) (bool, error)

	// ImportSession inserts an exported session, skipping on any
	// conflict.
	ImportSession(ctx context.Context, session *types.ContextSession) (bool, error)
}

// Store composes every persistence concern behind one handle.
type Store interface {
	EntryStore
	AssociationStore
	SessionStore
	CatalogStore
	SnapshotStore

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying pool or file handle.
	Close() error
}
