package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/internal/storage/postgres"
	"github.com/omnira-ai/analogic/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database, applies the schema, and
// registers cleanup. Tables are truncated up front so cases start clean.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.New(postgresTestDSN(t))
	require.NoError(t, err, "New should succeed")

	require.NoError(t, store.TruncateForTest(context.Background()))
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

var testBase = time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestEntry(id, userID, hash string) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:          id,
		UserID:      userID,
		MemoryType:  types.MemoryTypeGeneral,
		Scope:       types.ScopeLongTerm,
		Encrypted:   []byte("ciphertext:" + id),
		ContentHash: hash,
		Relevance:   1.0,
		CreatedAt:   testBase,
		UpdatedAt:   testBase,
		IsActive:    true,
	}
}

func TestEntryLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := newTestEntry("mem-1", "user-a", "hash-1")
	entry.Tags = []string{"tea", "ritual"}

	inserted, err := store.InsertEntry(ctx, entry)
	require.NoError(t, err)
	require.True(t, inserted)

	// Same user and hash conflicts on the partial unique index.
	inserted, err = store.InsertEntry(ctx, newTestEntry("mem-2", "user-a", "hash-1"))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate insert should be swallowed")

	got, err := store.GetEntry(ctx, "mem-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"tea", "ritual"}, got.Tags)
	assert.Equal(t, []byte("ciphertext:mem-1"), got.Encrypted)

	_, err = store.GetEntry(ctx, "mem-1", "user-b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	deleted, err := store.SoftDeleteEntry(ctx, "mem-1", "user-a", testBase.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, deleted)

	// The hash is reusable once the active row is gone.
	inserted, err = store.InsertEntry(ctx, newTestEntry("mem-3", "user-a", "hash-1"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestCandidatesTagOverlap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tagged := newTestEntry("mem-tagged", "user-a", "h1")
	tagged.Tags = []string{"tea", "morning"}
	_, err := store.InsertEntry(ctx, tagged)
	require.NoError(t, err)

	plain := newTestEntry("mem-plain", "user-a", "h2")
	_, err = store.InsertEntry(ctx, plain)
	require.NoError(t, err)

	matches, err := store.Candidates(ctx, storage.RecallFilter{
		UserID: "user-a",
		Tags:   []string{"tea", "unrelated"},
		Now:    testBase.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "mem-tagged", matches[0].ID)
}

func TestAssociationUpsertAndStrengthen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assoc := &types.Association{
		ID:        "assoc-1",
		SourceID:  "mem-a",
		TargetID:  "mem-b",
		Type:      types.AssociationRelatedTo,
		Strength:  0.4,
		CreatedAt: testBase,
	}
	created, err := store.UpsertAssociation(ctx, assoc)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, created.Strength, 1e-9)

	// Upserting the triple again keeps the row and replaces the strength.
	assoc.ID = "assoc-2"
	assoc.Strength = 0.8
	updated, err := store.UpsertAssociation(ctx, assoc)
	require.NoError(t, err)
	assert.Equal(t, "assoc-1", updated.ID)
	assert.InDelta(t, 0.8, updated.Strength, 1e-9)

	stronger, err := store.StrengthenAssociation(ctx, "mem-a", "mem-b", types.AssociationRelatedTo, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, stronger.Strength, 1e-9, "reinforcement saturates at 1.0")

	_, err = store.StrengthenAssociation(ctx, "mem-a", "mem-z", types.AssociationRelatedTo, 0.1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionRefreshPreservesCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &types.ContextSession{
		ID:           "sess-row-1",
		SessionKey:   "key-1",
		UserID:       "user-a",
		Encrypted:    []byte("ctx:v1"),
		StartedAt:    testBase,
		LastActiveAt: testBase,
		IsActive:     true,
	}
	_, err := store.UpsertSession(ctx, session)
	require.NoError(t, err)

	updated, err := store.UpdateSessionContext(ctx, "key-1", []byte("ctx:v2"), testBase.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, updated)

	refresh := *session
	refresh.ID = "sess-row-2"
	refresh.LastActiveAt = testBase.Add(time.Hour)
	got, err := store.UpsertSession(ctx, &refresh)
	require.NoError(t, err)
	assert.Equal(t, "sess-row-1", got.ID, "refresh must keep the original row")
	assert.Equal(t, 1, got.MessageCount)
	assert.Equal(t, []byte("ctx:v2"), got.Encrypted)
}

func TestBackupCatalog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := &types.BackupRecord{
		ID:        "backup-1",
		Tier:      types.TierPrimary,
		Path:      "pending",
		Checksum:  "pending",
		StartedAt: testBase,
		Status:    types.BackupRunning,
	}
	require.NoError(t, store.InsertBackup(ctx, record))

	completed := testBase.Add(time.Second)
	require.NoError(t, store.FinalizeBackupSuccess(ctx, "backup-1", "/backups/b1.json.gz", "abc", 1024, 3, completed))

	got, err := store.GetBackup(ctx, "backup-1")
	require.NoError(t, err)
	assert.Equal(t, types.BackupSuccess, got.Status)
	assert.Equal(t, 3, got.RecordCount)

	records, err := store.ListBackups(ctx, "primary", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
