// Package backup implements the tiered snapshot pipeline: export of the
// still-encrypted record set, compression, checksum bookkeeping in the
// backup catalog, remote upload for the durable tiers, local retention
// rotation, and checksum-verified restore.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnira-ai/analogic/internal/crypto"
	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

// DefaultMaxLocalPerTier keeps roughly two days of hourly artifacts.
const DefaultMaxLocalPerTier = 48

// ErrIntegrity flags a checksum mismatch between a backup artifact and its
// catalog record. Restore aborts on it before touching any row.
var ErrIntegrity = errors.New("backup: integrity check failed")

// Config carries the engine's tunables.
type Config struct {
	// Dir is the local artifact root; each tier gets a subdirectory.
	Dir string

	// MaxLocalPerTier bounds local artifacts kept per tier after rotation.
	// Zero means DefaultMaxLocalPerTier.
	MaxLocalPerTier int

	// Remote receives secondary and archive artifacts. Nil means those
	// tiers stay local only, which is logged but not an error.
	Remote BlobStore
}

// Engine runs, restores, and verifies backups. It reads entry, association,
// and session rows but never decrypts or mutates them; the catalog is the
// only table it writes.
type Engine struct {
	store  storage.Store
	dir    string
	keep   int
	remote BlobStore

	now func() time.Time
}

// New validates the configuration and creates the artifact root.
func New(store storage.Store, cfg Config) (*Engine, error) {
	if cfg.Dir == "" {
		return nil, errors.New("backup: artifact directory is required")
	}
	if cfg.MaxLocalPerTier <= 0 {
		cfg.MaxLocalPerTier = DefaultMaxLocalPerTier
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: failed to create artifact directory: %w", err)
	}
	return &Engine{
		store:  store,
		dir:    cfg.Dir,
		keep:   cfg.MaxLocalPerTier,
		remote: cfg.Remote,
		now:    time.Now,
	}, nil
}

// Run performs one backup of the given tier, optionally scoped to a single
// user. A catalog row is opened in running state before any I/O and is
// finalized exactly once: to success with the artifact metadata, or to
// failed with the error text, in which case the error is also returned.
func (e *Engine) Run(ctx context.Context, tier, userID string) (*types.BackupRecord, error) {
	if !types.IsValidBackupTier(tier) {
		return nil, fmt.Errorf("%w: unknown backup tier %q", storage.ErrInvalidInput, tier)
	}

	record := &types.BackupRecord{
		ID:        uuid.New().String(),
		Tier:      types.BackupTier(tier),
		Path:      "pending",
		Checksum:  "pending",
		StartedAt: e.now().UTC(),
		Status:    types.BackupRunning,
	}
	if err := e.store.InsertBackup(ctx, record); err != nil {
		return nil, fmt.Errorf("backup: failed to open catalog row: %w", err)
	}

	path, checksum, size, records, err := e.writeArtifact(ctx, record.Tier, userID, record.StartedAt)
	if err != nil {
		if ferr := e.store.FinalizeBackupFailure(ctx, record.ID, err.Error(), e.now().UTC()); ferr != nil {
			log.Printf("backup: failed to finalize catalog row %s: %v", record.ID, ferr)
		}
		return nil, err
	}

	if err := e.store.FinalizeBackupSuccess(ctx, record.ID, path, checksum, size, records, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("backup: failed to finalize catalog row: %w", err)
	}
	log.Printf("backup: %s backup %s wrote %d records (%d bytes) to %s", tier, record.ID, records, size, path)

	if err := e.rotateLocal(record.Tier); err != nil {
		log.Printf("backup: rotation for %s tier failed: %v", tier, err)
	}

	return e.store.GetBackup(ctx, record.ID)
}

// writeArtifact exports, encodes, writes, and (for durable tiers) uploads
// one artifact, returning its path, checksum, size, and record count.
func (e *Engine) writeArtifact(ctx context.Context, tier types.BackupTier, userID string, startedAt time.Time) (string, string, int64, int, error) {
	entries, err := e.store.ExportEntries(ctx, userID)
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("backup: failed to export entries: %w", err)
	}
	assocs, err := e.store.ExportAssociations(ctx, userID)
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("backup: failed to export associations: %w", err)
	}
	sessions, err := e.store.ExportSessions(ctx, userID)
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("backup: failed to export sessions: %w", err)
	}

	snap := newSnapshot(userID, startedAt, entries, assocs, sessions)
	artifact, err := snap.encode()
	if err != nil {
		return "", "", 0, 0, err
	}
	checksum := crypto.Checksum(artifact)

	name := artifactName(tier, userID, startedAt)
	tierDir := filepath.Join(e.dir, string(tier))
	if err := os.MkdirAll(tierDir, 0755); err != nil {
		return "", "", 0, 0, fmt.Errorf("backup: failed to create tier directory: %w", err)
	}
	path := filepath.Join(tierDir, name)
	if err := os.WriteFile(path, artifact, 0644); err != nil {
		return "", "", 0, 0, fmt.Errorf("backup: failed to write artifact: %w", err)
	}

	if tier != types.TierPrimary {
		if e.remote == nil {
			log.Printf("backup: no remote store configured, %s artifact kept local only", tier)
		} else {
			key := string(tier) + "/" + name
			if err := e.remote.Put(ctx, key, artifact); err != nil {
				return "", "", 0, 0, fmt.Errorf("backup: remote upload of %s failed: %w", key, err)
			}
		}
	}

	return path, checksum, int64(len(artifact)), snap.totalRecords(), nil
}

// artifactName builds the deterministic artifact filename:
// backup_{tier}{_user_XXXXXXXX|_full}_{YYYYMMDD_HHMMSS}.json.gz
func artifactName(tier types.BackupTier, userID string, startedAt time.Time) string {
	scope := "_full"
	if userID != "" {
		short := userID
		if len(short) > 8 {
			short = short[:8]
		}
		scope = "_user_" + short
	}
	return fmt.Sprintf("backup_%s%s_%s.json.gz", tier, scope, startedAt.UTC().Format("20060102_150405"))
}

// rotateLocal deletes the oldest local artifacts of a tier, by modification
// time, until at most the configured number remain. Remote copies are never
// touched.
func (e *Engine) rotateLocal(tier types.BackupTier) error {
	tierDir := filepath.Join(e.dir, string(tier))
	dirEntries, err := os.ReadDir(tierDir)
	if err != nil {
		return fmt.Errorf("backup: failed to read tier directory: %w", err)
	}

	type artifact struct {
		path    string
		modTime time.Time
	}
	var artifacts []artifact
	for _, ent := range dirEntries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json.gz") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifact{filepath.Join(tierDir, ent.Name()), info.ModTime()})
	}
	if len(artifacts) <= e.keep {
		return nil
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].modTime.After(artifacts[j].modTime)
	})

	var lastErr error
	for _, old := range artifacts[e.keep:] {
		if err := os.Remove(old.path); err != nil {
			lastErr = err
			continue
		}
		log.Printf("backup: rotated out %s", old.path)
	}
	if lastErr != nil {
		return fmt.Errorf("backup: failed to delete some artifacts: %w", lastErr)
	}
	return nil
}

// List returns catalog rows, newest first, optionally filtered by tier.
func (e *Engine) List(ctx context.Context, tier string, limit int) ([]*types.BackupRecord, error) {
	if tier != "" && !types.IsValidBackupTier(tier) {
		return nil, fmt.Errorf("%w: unknown backup tier %q", storage.ErrInvalidInput, tier)
	}
	return e.store.ListBackups(ctx, tier, limit)
}

// RestoreResult counts the rows actually written by a restore; rows already
// present are skipped and not counted.
type RestoreResult struct {
	BackupID     string `json:"backup_id,omitempty"`
	Path         string `json:"path"`
	Entries      int    `json:"entries_imported"`
	Associations int    `json:"associations_imported"`
	Sessions     int    `json:"sessions_imported"`
}

// Restore imports an artifact resolved either from a catalog row (backupID)
// or directly from a path. A catalog-resolved restore compares the artifact
// checksum against the recorded one and aborts with ErrIntegrity before any
// import on a mismatch. Conflicting rows are skipped, never overwritten;
// per-row failures are logged and skipped.
func (e *Engine) Restore(ctx context.Context, backupID, path string) (*RestoreResult, error) {
	expected := ""
	if backupID != "" {
		record, err := e.store.GetBackup(ctx, backupID)
		if err != nil {
			return nil, err
		}
		if record.Status != types.BackupSuccess {
			return nil, fmt.Errorf("%w: backup %s is %s, only successful backups can be restored",
				storage.ErrInvalidInput, backupID, record.Status)
		}
		path = record.Path
		expected = record.Checksum
	}
	if path == "" {
		return nil, fmt.Errorf("%w: a backup ID or artifact path is required", storage.ErrInvalidInput)
	}

	artifact, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: backup artifact %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("backup: failed to read artifact: %w", err)
	}

	if expected != "" {
		if actual := crypto.Checksum(artifact); actual != expected {
			return nil, fmt.Errorf("%w: artifact %s has checksum %s, catalog says %s",
				ErrIntegrity, path, actual, expected)
		}
	}

	snap, err := decodeSnapshot(artifact)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{BackupID: backupID, Path: path}
	for i := range snap.Entries {
		entry := snap.Entries[i].toEntry()
		written, err := e.store.ImportEntry(ctx, entry)
		if err != nil {
			log.Printf("backup: skipping entry %s: %v", entry.ID, err)
			continue
		}
		if written {
			result.Entries++
		}
	}
	for i := range snap.Associations {
		assoc := snap.Associations[i].toAssociation()
		written, err := e.store.ImportAssociation(ctx, assoc)
		if err != nil {
			log.Printf("backup: skipping association %s: %v", assoc.ID, err)
			continue
		}
		if written {
			result.Associations++
		}
	}
	for i := range snap.Sessions {
		session := snap.Sessions[i].toSession()
		written, err := e.store.ImportSession(ctx, session)
		if err != nil {
			log.Printf("backup: skipping session %s: %v", session.SessionKey, err)
			continue
		}
		if written {
			result.Sessions++
		}
	}

	log.Printf("backup: restored %d entries, %d associations, %d sessions from %s",
		result.Entries, result.Associations, result.Sessions, path)
	return result, nil
}

// VerifyResult reports an artifact integrity check.
type VerifyResult struct {
	BackupID  string `json:"backup_id"`
	Valid     bool   `json:"valid"`
	Expected  string `json:"expected_checksum"`
	Actual    string `json:"actual_checksum,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Verify re-reads a cataloged artifact and compares checksums. It is a
// read-only diagnostic: an unreadable or tampered artifact makes the result
// invalid, not the call erroneous.
func (e *Engine) Verify(ctx context.Context, backupID string) (*VerifyResult, error) {
	record, err := e.store.GetBackup(ctx, backupID)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{BackupID: backupID, Expected: record.Checksum}
	artifact, err := os.ReadFile(record.Path)
	if err != nil {
		result.Error = fmt.Sprintf("artifact unreadable: %v", err)
		return result, nil
	}
	result.Actual = crypto.Checksum(artifact)
	result.SizeBytes = int64(len(artifact))
	result.Valid = result.Actual == record.Checksum
	return result, nil
}
