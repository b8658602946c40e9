package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing. New applies
// the full Schema, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var testBase = time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

// testEntry builds an active long-term entry with placeholder ciphertext.
func testEntry(id, userID, hash string) *types.MemoryEntry {
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

func mustInsert(t *testing.T, s *Store, entry *types.MemoryEntry) {
	t.Helper()
	inserted, err := s.InsertEntry(context.Background(), entry)
	if err != nil {
		t.Fatalf("InsertEntry(%s): %v", entry.ID, err)
	}
	if !inserted {
		t.Fatalf("InsertEntry(%s): unexpected conflict", entry.ID)
	}
}

func TestInsertAndGetEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expires := testBase.Add(24 * time.Hour)
	entry := testEntry("mem-1", "user-a", "hash-1")
	entry.Scope = types.ScopeShortTerm
	entry.SessionID = "sess-1"
	entry.Tags = []string{"tea", "ritual"}
	entry.ExpiresAt = &expires

	mustInsert(t, store, entry)

	got, err := store.GetEntry(ctx, "mem-1", "user-a")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.UserID != "user-a" {
		t.Errorf("UserID: got %q, want %q", got.UserID, "user-a")
	}
	if got.SessionID != "sess-1" {
		t.Errorf("SessionID: got %q, want %q", got.SessionID, "sess-1")
	}
	if string(got.Encrypted) != "ciphertext:mem-1" {
		t.Errorf("Encrypted: got %q", got.Encrypted)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "tea" || got.Tags[1] != "ritual" {
		t.Errorf("Tags: got %v, want [tea ritual]", got.Tags)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt: got %v, want %v", got.ExpiresAt, expires)
	}
	if !got.CreatedAt.Equal(testBase) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, testBase)
	}
}

func TestGetEntryEnforcesOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, testEntry("mem-1", "user-a", "hash-1"))

	if _, err := store.GetEntry(ctx, "mem-1", "user-b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("foreign user: got %v, want ErrNotFound", err)
	}
	if _, err := store.GetEntry(ctx, "missing", "user-a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing entry: got %v, want ErrNotFound", err)
	}
}

func TestInsertEntryDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, testEntry("mem-1", "user-a", "hash-dup"))

	// Same user, same hash: the partial unique index swallows the insert.
	inserted, err := store.InsertEntry(ctx, testEntry("mem-2", "user-a", "hash-dup"))
	if err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if inserted {
		t.Error("duplicate insert reported as written")
	}
	if _, err := store.GetEntry(ctx, "mem-2", "user-a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("conflicting row should not exist: got %v", err)
	}

	// Different user, same hash: no conflict.
	inserted, err = store.InsertEntry(ctx, testEntry("mem-3", "user-b", "hash-dup"))
	if err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if !inserted {
		t.Error("cross-user insert reported as conflict")
	}

	// Soft-deleted rows leave the partial index, so the hash is reusable.
	if _, err := store.SoftDeleteEntry(ctx, "mem-1", "user-a", testBase.Add(time.Minute)); err != nil {
		t.Fatalf("SoftDeleteEntry: %v", err)
	}
	inserted, err = store.InsertEntry(ctx, testEntry("mem-4", "user-a", "hash-dup"))
	if err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if !inserted {
		t.Error("insert after soft delete reported as conflict")
	}
}

func TestFindActiveByHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, testEntry("mem-1", "user-a", "hash-1"))

	got, err := store.FindActiveByHash(ctx, "user-a", "hash-1")
	if err != nil {
		t.Fatalf("FindActiveByHash: %v", err)
	}
	if got.ID != "mem-1" {
		t.Errorf("ID: got %q, want mem-1", got.ID)
	}

	if _, err := store.FindActiveByHash(ctx, "user-a", "hash-other"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown hash: got %v, want ErrNotFound", err)
	}
	if _, err := store.FindActiveByHash(ctx, "user-b", "hash-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("foreign user: got %v, want ErrNotFound", err)
	}
}

func TestCandidatesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plain := testEntry("mem-plain", "user-a", "h1")
	mustInsert(t, store, plain)

	tagged := testEntry("mem-tagged", "user-a", "h2")
	tagged.Tags = []string{"tea", "morning"}
	tagged.CreatedAt = testBase.Add(time.Minute)
	mustInsert(t, store, tagged)

	knowledge := testEntry("mem-knowledge", "user-a", "h3")
	knowledge.MemoryType = types.MemoryTypeKnowledge
	knowledge.CreatedAt = testBase.Add(2 * time.Minute)
	mustInsert(t, store, knowledge)

	expired := testEntry("mem-expired", "user-a", "h4")
	expired.Scope = types.ScopeShortTerm
	past := testBase.Add(-time.Hour)
	expired.ExpiresAt = &past
	mustInsert(t, store, expired)

	other := testEntry("mem-other", "user-b", "h5")
	mustInsert(t, store, other)

	now := testBase.Add(3 * time.Minute)

	all, err := store.Candidates(ctx, storage.RecallFilter{UserID: "user-a", Now: now})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered: got %d entries, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "mem-knowledge" || all[2].ID != "mem-plain" {
		t.Errorf("order: got [%s %s %s]", all[0].ID, all[1].ID, all[2].ID)
	}

	byType, err := store.Candidates(ctx, storage.RecallFilter{
		UserID: "user-a", MemoryType: "knowledge", Now: now,
	})
	if err != nil {
		t.Fatalf("Candidates by type: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != "mem-knowledge" {
		t.Errorf("type filter: got %d entries", len(byType))
	}

	byTags, err := store.Candidates(ctx, storage.RecallFilter{
		UserID: "user-a", Tags: []string{"tea", "unrelated"}, Now: now,
	})
	if err != nil {
		t.Fatalf("Candidates by tags: %v", err)
	}
	if len(byTags) != 1 || byTags[0].ID != "mem-tagged" {
		t.Errorf("tag filter: got %d entries", len(byTags))
	}

	limited, err := store.Candidates(ctx, storage.RecallFilter{UserID: "user-a", Now: now, Limit: 2})
	if err != nil {
		t.Fatalf("Candidates with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit: got %d entries, want 2", len(limited))
	}
}

func TestIncrementAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, testEntry("mem-1", "user-a", "h1"))
	mustInsert(t, store, testEntry("mem-2", "user-a", "h2"))

	later := testBase.Add(time.Hour)
	if err := store.IncrementAccess(ctx, []string{"mem-1", "mem-2"}, later); err != nil {
		t.Fatalf("IncrementAccess: %v", err)
	}
	if err := store.IncrementAccess(ctx, []string{"mem-1"}, later.Add(time.Minute)); err != nil {
		t.Fatalf("IncrementAccess: %v", err)
	}
	if err := store.IncrementAccess(ctx, nil, later); err != nil {
		t.Fatalf("IncrementAccess with no IDs: %v", err)
	}

	first, err := store.GetEntry(ctx, "mem-1", "user-a")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if first.AccessCount != 2 {
		t.Errorf("mem-1 AccessCount: got %d, want 2", first.AccessCount)
	}
	second, err := store.GetEntry(ctx, "mem-2", "user-a")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if second.AccessCount != 1 {
		t.Errorf("mem-2 AccessCount: got %d, want 1", second.AccessCount)
	}
	if !second.UpdatedAt.After(testBase) {
		t.Errorf("UpdatedAt not bumped: %v", second.UpdatedAt)
	}
}

func TestSoftDeleteEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, testEntry("mem-1", "user-a", "h1"))

	deleted, err := store.SoftDeleteEntry(ctx, "mem-1", "user-b", testBase)
	if err != nil {
		t.Fatalf("SoftDeleteEntry: %v", err)
	}
	if deleted {
		t.Error("foreign user deleted an entry")
	}

	deleted, err = store.SoftDeleteEntry(ctx, "mem-1", "user-a", testBase)
	if err != nil {
		t.Fatalf("SoftDeleteEntry: %v", err)
	}
	if !deleted {
		t.Error("owner delete reported no rows")
	}

	// Idempotent second call affects nothing.
	deleted, err = store.SoftDeleteEntry(ctx, "mem-1", "user-a", testBase)
	if err != nil {
		t.Fatalf("SoftDeleteEntry: %v", err)
	}
	if deleted {
		t.Error("second delete reported rows")
	}

	if _, err := store.GetEntry(ctx, "mem-1", "user-a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted entry still readable: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := testBase

	expired := testEntry("mem-expired", "user-a", "h1")
	expired.Scope = types.ScopeShortTerm
	past := now.Add(-time.Minute)
	expired.ExpiresAt = &past
	mustInsert(t, store, expired)

	// Expiring exactly at the purge instant is not yet expired.
	boundary := testEntry("mem-boundary", "user-a", "h2")
	boundary.Scope = types.ScopeShortTerm
	exact := now
	boundary.ExpiresAt = &exact
	mustInsert(t, store, boundary)

	future := testEntry("mem-future", "user-a", "h3")
	future.Scope = types.ScopeShortTerm
	later := now.Add(time.Hour)
	future.ExpiresAt = &later
	mustInsert(t, store, future)

	longTerm := testEntry("mem-long", "user-a", "h4")
	mustInsert(t, store, longTerm)

	purged, err := store.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged: got %d, want 1", purged)
	}

	for _, id := range []string{"mem-boundary", "mem-future", "mem-long"} {
		if _, err := store.GetEntry(ctx, id, "user-a"); err != nil {
			t.Errorf("%s should survive purge: %v", id, err)
		}
	}
	if _, err := store.GetEntry(ctx, "mem-expired", "user-a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired entry survived purge: %v", err)
	}
}

func TestTaggedSiblings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	anchor := testEntry("mem-anchor", "user-a", "h1")
	anchor.Tags = []string{"tea", "ritual"}
	mustInsert(t, store, anchor)

	match := testEntry("mem-match", "user-a", "h2")
	match.Tags = []string{"ritual", "evening"}
	mustInsert(t, store, match)

	noOverlap := testEntry("mem-none", "user-a", "h3")
	noOverlap.Tags = []string{"work"}
	mustInsert(t, store, noOverlap)

	untagged := testEntry("mem-untagged", "user-a", "h4")
	mustInsert(t, store, untagged)

	foreign := testEntry("mem-foreign", "user-b", "h5")
	foreign.Tags = []string{"tea"}
	mustInsert(t, store, foreign)

	matches, err := store.TaggedSiblings(ctx, "user-a", "mem-anchor", []string{"tea", "ritual"}, 50)
	if err != nil {
		t.Fatalf("TaggedSiblings: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].ID != "mem-match" {
		t.Errorf("match ID: got %q, want mem-match", matches[0].ID)
	}
	if len(matches[0].Tags) != 2 {
		t.Errorf("match tags: got %v", matches[0].Tags)
	}

	empty, err := store.TaggedSiblings(ctx, "user-a", "mem-anchor", nil, 50)
	if err != nil {
		t.Fatalf("TaggedSiblings with no tags: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("no-tag scan returned %d matches", len(empty))
	}
}

func TestUserStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := testEntry("mem-1", "user-a", "h1")
	long.AccessCount = 3
	mustInsert(t, store, long)

	short := testEntry("mem-2", "user-a", "h2")
	short.Scope = types.ScopeShortTerm
	expires := testBase.Add(time.Hour)
	short.ExpiresAt = &expires
	short.AccessCount = 2
	short.CreatedAt = testBase.Add(time.Minute)
	mustInsert(t, store, short)

	mustInsert(t, store, testEntry("mem-3", "user-b", "h3"))

	stats, err := store.UserStats(ctx, "user-a")
	if err != nil {
		t.Fatalf("UserStats: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("TotalMemories: got %d, want 2", stats.TotalMemories)
	}
	if stats.LongTerm != 1 || stats.ShortTerm != 1 {
		t.Errorf("scope counts: got long=%d short=%d", stats.LongTerm, stats.ShortTerm)
	}
	if stats.TotalAccesses != 5 {
		t.Errorf("TotalAccesses: got %d, want 5", stats.TotalAccesses)
	}
	if stats.LatestMemory == nil || !stats.LatestMemory.Equal(testBase.Add(time.Minute)) {
		t.Errorf("LatestMemory: got %v", stats.LatestMemory)
	}

	none, err := store.UserStats(ctx, "user-z")
	if err != nil {
		t.Fatalf("UserStats for unknown user: %v", err)
	}
	if none.TotalMemories != 0 || none.LatestMemory != nil {
		t.Errorf("unknown user stats: got %+v", none)
	}
}

func testAssociation(id, source, target string, strength float64) *types.Association {
	return &types.Association{
		ID:        id,
		SourceID:  source,
		TargetID:  target,
		Type:      types.AssociationRelatedTo,
		Strength:  strength,
		CreatedAt: testBase,
	}
}

func TestUpsertAssociationOverwritesStrength(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertAssociation(ctx, testAssociation("assoc-1", "mem-a", "mem-b", 0.4))
	if err != nil {
		t.Fatalf("UpsertAssociation: %v", err)
	}
	if created.Strength != 0.4 {
		t.Errorf("Strength: got %v, want 0.4", created.Strength)
	}

	// Same triple with a new ID: the existing row wins, strength is replaced.
	updated, err := store.UpsertAssociation(ctx, testAssociation("assoc-2", "mem-a", "mem-b", 0.9))
	if err != nil {
		t.Fatalf("UpsertAssociation: %v", err)
	}
	if updated.ID != "assoc-1" {
		t.Errorf("ID: got %q, want assoc-1", updated.ID)
	}
	if updated.Strength != 0.9 {
		t.Errorf("Strength: got %v, want 0.9", updated.Strength)
	}

	// A different type between the same endpoints is a separate edge.
	other := testAssociation("assoc-3", "mem-a", "mem-b", 0.5)
	other.Type = types.AssociationSupports
	if _, err := store.UpsertAssociation(ctx, other); err != nil {
		t.Fatalf("UpsertAssociation: %v", err)
	}

	edges, err := store.ListAssociations(ctx, storage.AssociationFilter{MemoryID: "mem-a", MinStrength: 0.01})
	if err != nil {
		t.Fatalf("ListAssociations: %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("edge count: got %d, want 2", len(edges))
	}
}

func TestListAssociationsDirectionAndThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*types.Association{
		testAssociation("a-out", "mem-x", "mem-1", 0.8),
		testAssociation("a-in", "mem-2", "mem-x", 0.6),
		testAssociation("a-weak", "mem-x", "mem-3", 0.1),
	}
	for _, assoc := range seed {
		if _, err := store.UpsertAssociation(ctx, assoc); err != nil {
			t.Fatalf("UpsertAssociation(%s): %v", assoc.ID, err)
		}
	}

	both, err := store.ListAssociations(ctx, storage.AssociationFilter{MemoryID: "mem-x"})
	if err != nil {
		t.Fatalf("ListAssociations: %v", err)
	}
	// Default min strength 0.3 drops the weak edge; strongest first.
	if len(both) != 2 || both[0].ID != "a-out" || both[1].ID != "a-in" {
		t.Fatalf("both: got %d edges", len(both))
	}

	out, err := store.ListAssociations(ctx, storage.AssociationFilter{
		MemoryID: "mem-x", Direction: storage.DirectionOutgoing, MinStrength: 0.01,
	})
	if err != nil {
		t.Fatalf("ListAssociations outgoing: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("outgoing: got %d edges, want 2", len(out))
	}

	in, err := store.ListAssociations(ctx, storage.AssociationFilter{
		MemoryID: "mem-x", Direction: storage.DirectionIncoming, MinStrength: 0.01,
	})
	if err != nil {
		t.Fatalf("ListAssociations incoming: %v", err)
	}
	if len(in) != 1 || in[0].ID != "a-in" {
		t.Errorf("incoming: got %d edges", len(in))
	}
}

func TestStrengthenAssociation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertAssociation(ctx, testAssociation("assoc-1", "mem-a", "mem-b", 0.5)); err != nil {
		t.Fatalf("UpsertAssociation: %v", err)
	}

	got, err := store.StrengthenAssociation(ctx, "mem-a", "mem-b", types.AssociationRelatedTo, 0.1)
	if err != nil {
		t.Fatalf("StrengthenAssociation: %v", err)
	}
	if got.Strength < 0.59 || got.Strength > 0.61 {
		t.Errorf("Strength: got %v, want 0.6", got.Strength)
	}

	// Reinforcement saturates at 1.0.
	got, err = store.StrengthenAssociation(ctx, "mem-a", "mem-b", types.AssociationRelatedTo, 0.9)
	if err != nil {
		t.Fatalf("StrengthenAssociation: %v", err)
	}
	if got.Strength != 1.0 {
		t.Errorf("Strength: got %v, want 1.0", got.Strength)
	}

	// Strengthen never creates an edge.
	if _, err := store.StrengthenAssociation(ctx, "mem-a", "mem-z", types.AssociationRelatedTo, 0.1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing edge: got %v, want ErrNotFound", err)
	}
}

func TestDecayAssociations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, assoc := range []*types.Association{
		testAssociation("a-1", "m1", "m2", 0.02),
		testAssociation("a-2", "m2", "m3", 0.04),
		testAssociation("a-3", "m3", "m4", 0.05),
		testAssociation("a-4", "m4", "m5", 0.7),
	} {
		if _, err := store.UpsertAssociation(ctx, assoc); err != nil {
			t.Fatalf("UpsertAssociation(%s): %v", assoc.ID, err)
		}
	}

	removed, err := store.DecayAssociations(ctx, 0.05)
	if err != nil {
		t.Fatalf("DecayAssociations: %v", err)
	}
	// Strictly below the threshold: 0.05 itself survives.
	if removed != 2 {
		t.Errorf("removed: got %d, want 2", removed)
	}
}

func TestSubgraphOwnershipAndCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, testEntry("mem-1", "user-a", "h1"))
	mustInsert(t, store, testEntry("mem-2", "user-a", "h2"))
	mustInsert(t, store, testEntry("mem-3", "user-a", "h3"))
	mustInsert(t, store, testEntry("mem-foreign", "user-b", "h4"))

	for _, assoc := range []*types.Association{
		testAssociation("a-12", "mem-1", "mem-2", 0.9),
		testAssociation("a-23", "mem-2", "mem-3", 0.5),
		// Crosses a user boundary: must never be surfaced.
		testAssociation("a-leak", "mem-1", "mem-foreign", 1.0),
	} {
		if _, err := store.UpsertAssociation(ctx, assoc); err != nil {
			t.Fatalf("UpsertAssociation(%s): %v", assoc.ID, err)
		}
	}

	edges, err := store.Subgraph(ctx, "user-a", []string{"mem-1", "mem-2"}, 200)
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("got %d edges, want 2", len(edges))
	}
	for _, edge := range edges {
		if edge.ID == "a-leak" {
			t.Error("cross-user edge leaked into subgraph")
		}
	}

	capped, err := store.Subgraph(ctx, "user-a", []string{"mem-1", "mem-2"}, 1)
	if err != nil {
		t.Fatalf("Subgraph with cap: %v", err)
	}
	if len(capped) != 1 || capped[0].ID != "a-12" {
		t.Errorf("cap: got %d edges, strongest first expected", len(capped))
	}

	none, err := store.Subgraph(ctx, "user-a", nil, 200)
	if err != nil {
		t.Fatalf("Subgraph with no seeds: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("empty seeds returned %d edges", len(none))
	}
}

func TestPruneDangling(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, testEntry("mem-keep", "user-a", "h1"))

	doomed := testEntry("mem-doomed", "user-a", "h2")
	doomed.Scope = types.ScopeShortTerm
	past := testBase.Add(-time.Hour)
	doomed.ExpiresAt = &past
	mustInsert(t, store, doomed)

	soft := testEntry("mem-soft", "user-a", "h3")
	mustInsert(t, store, soft)

	for _, assoc := range []*types.Association{
		testAssociation("a-live", "mem-keep", "mem-soft", 0.5),
		testAssociation("a-dangle", "mem-keep", "mem-doomed", 0.5),
	} {
		if _, err := store.UpsertAssociation(ctx, assoc); err != nil {
			t.Fatalf("UpsertAssociation(%s): %v", assoc.ID, err)
		}
	}

	// Soft delete keeps the row, purge removes it.
	if _, err := store.SoftDeleteEntry(ctx, "mem-soft", "user-a", testBase); err != nil {
		t.Fatalf("SoftDeleteEntry: %v", err)
	}
	if _, err := store.PurgeExpired(ctx, testBase); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}

	pruned, err := store.PruneDangling(ctx)
	if err != nil {
		t.Fatalf("PruneDangling: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned: got %d, want 1", pruned)
	}

	remaining, err := store.ListAssociations(ctx, storage.AssociationFilter{MemoryID: "mem-keep", MinStrength: 0.01})
	if err != nil {
		t.Fatalf("ListAssociations: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "a-live" {
		t.Errorf("remaining edges: got %d", len(remaining))
	}
}

func testSession(id, key, userID string) *types.ContextSession {
	return &types.ContextSession{
		ID:           id,
		SessionKey:   key,
		UserID:       userID,
		Encrypted:    []byte("ctx:" + key),
		StartedAt:    testBase,
		LastActiveAt: testBase,
		IsActive:     true,
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertSession(ctx, testSession("sess-row-1", "key-1", "user-a"))
	if err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if created.ID != "sess-row-1" || created.MessageCount != 0 {
		t.Errorf("created session: got %+v", created)
	}

	// Context updates increment the counter atomically.
	updated, err := store.UpdateSessionContext(ctx, "key-1", []byte("ctx:v2"), testBase.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateSessionContext: %v", err)
	}
	if !updated {
		t.Fatal("UpdateSessionContext affected no rows")
	}

	// Re-upserting the same key refreshes activity but keeps identity,
	// message count, and context.
	refresh := testSession("sess-row-2", "key-1", "user-a")
	refresh.StartedAt = testBase.Add(time.Hour)
	refresh.LastActiveAt = testBase.Add(time.Hour)
	got, err := store.UpsertSession(ctx, refresh)
	if err != nil {
		t.Fatalf("UpsertSession refresh: %v", err)
	}
	if got.ID != "sess-row-1" {
		t.Errorf("refresh replaced the row: got ID %q", got.ID)
	}
	if got.MessageCount != 1 {
		t.Errorf("MessageCount: got %d, want 1", got.MessageCount)
	}
	if string(got.Encrypted) != "ctx:v2" {
		t.Errorf("Encrypted: got %q, want ctx:v2", got.Encrypted)
	}
	if !got.LastActiveAt.Equal(testBase.Add(time.Hour)) {
		t.Errorf("LastActiveAt: got %v", got.LastActiveAt)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing session: got %v, want ErrNotFound", err)
	}

	affected, err := store.UpdateSessionContext(ctx, "missing", []byte("x"), testBase)
	if err != nil {
		t.Fatalf("UpdateSessionContext for missing key: %v", err)
	}
	if affected {
		t.Error("update of missing session reported rows")
	}
}

func TestBackupCatalogLifecycle(t *testing.T) {
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
	if err := store.InsertBackup(ctx, record); err != nil {
		t.Fatalf("InsertBackup: %v", err)
	}

	completed := testBase.Add(time.Second)
	if err := store.FinalizeBackupSuccess(ctx, "backup-1", "/backups/b1.json.gz", "abc123", 2048, 7, completed); err != nil {
		t.Fatalf("FinalizeBackupSuccess: %v", err)
	}

	got, err := store.GetBackup(ctx, "backup-1")
	if err != nil {
		t.Fatalf("GetBackup: %v", err)
	}
	if got.Status != types.BackupSuccess {
		t.Errorf("Status: got %q, want success", got.Status)
	}
	if got.Path != "/backups/b1.json.gz" || got.Checksum != "abc123" {
		t.Errorf("finalized row: got %+v", got)
	}
	if got.SizeBytes != 2048 || got.RecordCount != 7 {
		t.Errorf("size/records: got %d/%d", got.SizeBytes, got.RecordCount)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt: got %v", got.CompletedAt)
	}

	// Finalize transitions only running rows; a second call is a no-op.
	if err := store.FinalizeBackupFailure(ctx, "backup-1", "late failure", completed.Add(time.Second)); err != nil {
		t.Fatalf("FinalizeBackupFailure: %v", err)
	}
	got, err = store.GetBackup(ctx, "backup-1")
	if err != nil {
		t.Fatalf("GetBackup: %v", err)
	}
	if got.Status != types.BackupSuccess {
		t.Errorf("status overwritten after finalize: got %q", got.Status)
	}

	if _, err := store.GetBackup(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing record: got %v, want ErrNotFound", err)
	}
}

func TestListBackupsByTier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, tier := range []types.BackupTier{types.TierPrimary, types.TierSecondary, types.TierPrimary} {
		record := &types.BackupRecord{
			ID:        "backup-" + string(rune('a'+i)),
			Tier:      tier,
			Path:      "pending",
			Checksum:  "pending",
			StartedAt: testBase.Add(time.Duration(i) * time.Minute),
			Status:    types.BackupRunning,
		}
		if err := store.InsertBackup(ctx, record); err != nil {
			t.Fatalf("InsertBackup: %v", err)
		}
	}

	all, err := store.ListBackups(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all: got %d records, want 3", len(all))
	}
	if all[0].ID != "backup-c" {
		t.Errorf("newest first: got %q", all[0].ID)
	}

	primaries, err := store.ListBackups(ctx, "primary", 10)
	if err != nil {
		t.Fatalf("ListBackups by tier: %v", err)
	}
	if len(primaries) != 2 {
		t.Errorf("primary: got %d records, want 2", len(primaries))
	}

	limited, err := store.ListBackups(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListBackups with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d records, want 1", len(limited))
	}
}

func TestSnapshotExportImport(t *testing.T) {
	source := newTestStore(t)
	ctx := context.Background()

	entryA := testEntry("mem-a", "user-a", "h1")
	entryA.Tags = []string{"tea"}
	mustInsert(t, source, entryA)
	mustInsert(t, source, testEntry("mem-b", "user-b", "h2"))

	if _, err := source.UpsertAssociation(ctx, testAssociation("assoc-1", "mem-a", "mem-b", 0.5)); err != nil {
		t.Fatalf("UpsertAssociation: %v", err)
	}
	if _, err := source.UpsertSession(ctx, testSession("sess-1", "key-1", "user-a")); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	entries, err := source.ExportEntries(ctx, "")
	if err != nil {
		t.Fatalf("ExportEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("full export: got %d entries, want 2", len(entries))
	}

	scoped, err := source.ExportEntries(ctx, "user-a")
	if err != nil {
		t.Fatalf("ExportEntries scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "mem-a" {
		t.Errorf("scoped export: got %d entries", len(scoped))
	}

	assocs, err := source.ExportAssociations(ctx, "user-a")
	if err != nil {
		t.Fatalf("ExportAssociations: %v", err)
	}
	if len(assocs) != 1 {
		t.Errorf("scoped associations: got %d, want 1", len(assocs))
	}

	sessions, err := source.ExportSessions(ctx, "")
	if err != nil {
		t.Fatalf("ExportSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions: got %d, want 1", len(sessions))
	}

	// Import into a fresh store writes every row once; a second pass skips
	// all of them.
	target := newTestStore(t)
	for _, entry := range entries {
		written, err := target.ImportEntry(ctx, entry)
		if err != nil {
			t.Fatalf("ImportEntry(%s): %v", entry.ID, err)
		}
		if !written {
			t.Errorf("ImportEntry(%s): skipped on empty store", entry.ID)
		}
	}
	written, err := target.ImportEntry(ctx, entries[0])
	if err != nil {
		t.Fatalf("ImportEntry repeat: %v", err)
	}
	if written {
		t.Error("conflicting import reported as written")
	}

	if written, err = target.ImportAssociation(ctx, assocs[0]); err != nil || !written {
		t.Fatalf("ImportAssociation: written=%v err=%v", written, err)
	}
	if written, err = target.ImportAssociation(ctx, assocs[0]); err != nil || written {
		t.Fatalf("ImportAssociation repeat: written=%v err=%v", written, err)
	}

	if written, err = target.ImportSession(ctx, sessions[0]); err != nil || !written {
		t.Fatalf("ImportSession: written=%v err=%v", written, err)
	}
	if written, err = target.ImportSession(ctx, sessions[0]); err != nil || written {
		t.Fatalf("ImportSession repeat: written=%v err=%v", written, err)
	}

	got, err := target.GetEntry(ctx, "mem-a", "user-a")
	if err != nil {
		t.Fatalf("GetEntry after import: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "tea" {
		t.Errorf("imported tags: got %v", got.Tags)
	}
}
