// Package engine implements the memory lifecycle: validation, per-user
// encryption, deduplication, ranked recall, context sessions, and user
// statistics. It sits between the transport layers and the storage backends
// and is the only place plaintext memory content exists in the process.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/omnira-ai/analogic/internal/analogic"
	"github.com/omnira-ai/analogic/internal/crypto"
	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

const (
	// MaxContentLength caps plaintext memory content, in characters.
	MaxContentLength = 50000

	// DefaultShortTermTTL applies when a short_term store names no TTL.
	DefaultShortTermTTL = 24 * time.Hour

	// MaxTTLHours bounds caller-supplied TTLs to one year.
	MaxTTLHours = 8760

	// DefaultRecallLimit and MaxRecallLimit bound recall result sizes.
	DefaultRecallLimit = 20
	MaxRecallLimit     = 100

	// recallOverfetch multiplies the candidate fetch: scoring happens
	// after decryption, so the store reads more rows than the caller asked
	// for and the engine re-ranks.
	recallOverfetch = 3
)

// MemoryEngine orchestrates encrypted memory storage and recall.
type MemoryEngine struct {
	store  storage.Store
	crypto *crypto.Provider
	graph  *analogic.Graph

	now func() time.Time
}

// NewMemoryEngine wires the engine to its storage backend, encryption
// provider, and association graph.
func NewMemoryEngine(store storage.Store, provider *crypto.Provider, graph *analogic.Graph) *MemoryEngine {
	return &MemoryEngine{
		store:  store,
		crypto: provider,
		graph:  graph,
		now:    time.Now,
	}
}

// Store validates, encrypts, and persists one memory. Content identical to
// an active memory of the same user is not stored twice: the result carries
// the existing ID with a duplicate status. New memories with tags are
// auto-linked into the association graph before the call returns.
func (e *MemoryEngine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", storage.ErrInvalidInput)
	}
	content, err := sanitizeContent(req.Content)
	if err != nil {
		return nil, err
	}

	memoryType := req.MemoryType
	if memoryType == "" {
		memoryType = string(types.MemoryTypeGeneral)
	}
	if !types.IsValidMemoryType(memoryType) {
		return nil, fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, memoryType)
	}

	scope := req.Scope
	if scope == "" {
		scope = string(types.ScopeLongTerm)
	}
	if !types.IsValidScope(scope) {
		return nil, fmt.Errorf("%w: unknown scope %q", storage.ErrInvalidInput, scope)
	}

	if req.TTLHours < 0 || req.TTLHours > MaxTTLHours {
		return nil, fmt.Errorf("%w: ttl_hours must be between 1 and %d", storage.ErrInvalidInput, MaxTTLHours)
	}

	tags := normalizeTags(req.Tags)
	hash := crypto.HashContent(content)

	existing, err := e.store.FindActiveByHash(ctx, req.UserID, hash)
	if err == nil {
		return &StoreResult{ID: existing.ID, Status: StatusDuplicate}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	encrypted, err := e.crypto.EncryptForUser([]byte(content), req.UserID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	entry := &types.MemoryEntry{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		MemoryType:  types.MemoryType(memoryType),
		Scope:       types.Scope(scope),
		Encrypted:   encrypted,
		ContentHash: hash,
		Tags:        tags,
		Relevance:   1.0,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsActive:    true,
	}
	if entry.Scope == types.ScopeShortTerm {
		ttl := DefaultShortTermTTL
		if req.TTLHours > 0 {
			ttl = time.Duration(req.TTLHours) * time.Hour
		}
		expires := now.Add(ttl)
		entry.ExpiresAt = &expires
	}

	inserted, err := e.store.InsertEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost a dedup race: another writer claimed the hash between the
		// lookup and the insert.
		existing, err := e.store.FindActiveByHash(ctx, req.UserID, hash)
		if err != nil {
			return nil, err
		}
		return &StoreResult{ID: existing.ID, Status: StatusDuplicate}, nil
	}

	links := 0
	if len(tags) > 0 {
		links, err = e.graph.AutoLink(ctx, entry.ID, req.UserID, tags)
		if err != nil {
			// The memory is already persisted; a failed link scan must not
			// turn the store into an error the client would retry.
			log.Printf("engine: auto-link for memory %s failed: %v", entry.ID, err)
		}
	}

	return &StoreResult{
		ID:                  entry.ID,
		Status:              StatusStored,
		MemoryType:          entry.MemoryType,
		Scope:               entry.Scope,
		Tags:                tags,
		CreatedAt:           &entry.CreatedAt,
		ExpiresAt:           entry.ExpiresAt,
		AssociationsCreated: links,
	}, nil
}

// Recall fetches, decrypts, and ranks memories against a free-text query.
// Candidates that fail decryption are dropped, not fatal. Access counters
// are bumped for exactly the returned memories.
func (e *MemoryEngine) Recall(ctx context.Context, req RecallRequest) ([]*RecalledMemory, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", storage.ErrInvalidInput)
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultRecallLimit
	}
	if limit < 1 || limit > MaxRecallLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", storage.ErrInvalidInput, MaxRecallLimit)
	}
	if req.MemoryType != "" && !types.IsValidMemoryType(req.MemoryType) {
		return nil, fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, req.MemoryType)
	}
	if req.Scope != "" && !types.IsValidScope(req.Scope) {
		return nil, fmt.Errorf("%w: unknown scope %q", storage.ErrInvalidInput, req.Scope)
	}

	now := e.now().UTC()
	candidates, err := e.store.Candidates(ctx, storage.RecallFilter{
		UserID:     req.UserID,
		MemoryType: req.MemoryType,
		Scope:      req.Scope,
		SessionID:  req.SessionID,
		Tags:       normalizeTags(req.Tags),
		Now:        now,
		Limit:      limit * recallOverfetch,
	})
	if err != nil {
		return nil, err
	}

	keywords := extractKeywords(query)

	results := make([]*RecalledMemory, 0, len(candidates))
	for _, entry := range candidates {
		plaintext, err := e.crypto.DecryptForUser(entry.Encrypted, entry.UserID)
		if err != nil {
			log.Printf("engine: dropping undecryptable memory %s: %v", entry.ID, err)
			continue
		}
		content := string(plaintext)
		results = append(results, &RecalledMemory{
			ID:          entry.ID,
			MemoryType:  entry.MemoryType,
			Scope:       entry.Scope,
			Content:     content,
			Tags:        entry.Tags,
			Relevance:   relevanceScore(content, keywords, entry.AccessCount, now.Sub(entry.CreatedAt)),
			AccessCount: entry.AccessCount,
			CreatedAt:   entry.CreatedAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		if err := e.store.IncrementAccess(ctx, ids, now); err != nil {
			log.Printf("engine: failed to bump access counts: %v", err)
		}
	}
	return results, nil
}

// Get fetches and decrypts a single memory, enforcing ownership.
func (e *MemoryEngine) Get(ctx context.Context, id, userID string) (*Memory, error) {
	if id == "" || userID == "" {
		return nil, fmt.Errorf("%w: memory ID and user_id are required", storage.ErrInvalidInput)
	}
	entry, err := e.store.GetEntry(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	plaintext, err := e.crypto.DecryptForUser(entry.Encrypted, userID)
	if err != nil {
		return nil, err
	}
	return &Memory{
		ID:          entry.ID,
		UserID:      entry.UserID,
		SessionID:   entry.SessionID,
		MemoryType:  entry.MemoryType,
		Scope:       entry.Scope,
		Content:     string(plaintext),
		Tags:        entry.Tags,
		Relevance:   entry.Relevance,
		AccessCount: entry.AccessCount,
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.UpdatedAt,
		ExpiresAt:   entry.ExpiresAt,
	}, nil
}

// Delete soft-deletes an owned memory. Reports whether anything changed;
// deleting an absent or already-deleted memory is not an error.
func (e *MemoryEngine) Delete(ctx context.Context, id, userID string) (bool, error) {
	if id == "" || userID == "" {
		return false, fmt.Errorf("%w: memory ID and user_id are required", storage.ErrInvalidInput)
	}
	return e.store.SoftDeleteEntry(ctx, id, userID, e.now().UTC())
}

// PurgeExpired hard-deletes short_term memories whose expiry has passed.
func (e *MemoryEngine) PurgeExpired(ctx context.Context) (int, error) {
	purged, err := e.store.PurgeExpired(ctx, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		log.Printf("engine: purged %d expired memories", purged)
	}
	return purged, nil
}

// UserStats aggregates per-user memory counters.
func (e *MemoryEngine) UserStats(ctx context.Context, userID string) (*types.UserStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", storage.ErrInvalidInput)
	}
	return e.store.UserStats(ctx, userID)
}

// CreateSession registers a context session under an external session key.
// An existing session with the same key is refreshed, not replaced: its
// context and message counter survive. New sessions start with an empty
// encrypted context document.
func (e *MemoryEngine) CreateSession(ctx context.Context, userID, sessionKey string) (*types.ContextSession, error) {
	if userID == "" || sessionKey == "" {
		return nil, fmt.Errorf("%w: user_id and session_id are required", storage.ErrInvalidInput)
	}

	initial := map[string]interface{}{
		"messages": []interface{}{},
		"user_id":  userID,
	}
	doc, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to encode session context: %w", err)
	}
	encrypted, err := e.crypto.EncryptForUser(doc, userID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	return e.store.UpsertSession(ctx, &types.ContextSession{
		ID:           uuid.New().String(),
		SessionKey:   sessionKey,
		UserID:       userID,
		Encrypted:    encrypted,
		StartedAt:    now,
		LastActiveAt: now,
		IsActive:     true,
	})
}

// UpdateSessionContext re-encrypts the given context document under the
// session owner's key and bumps the message counter.
func (e *MemoryEngine) UpdateSessionContext(ctx context.Context, sessionKey string, contextData map[string]interface{}) error {
	if sessionKey == "" {
		return fmt.Errorf("%w: session_id is required", storage.ErrInvalidInput)
	}
	session, err := e.store.GetSession(ctx, sessionKey)
	if err != nil {
		return err
	}

	doc, err := json.Marshal(contextData)
	if err != nil {
		return fmt.Errorf("engine: failed to encode session context: %w", err)
	}
	encrypted, err := e.crypto.EncryptForUser(doc, session.UserID)
	if err != nil {
		return err
	}

	updated, err := e.store.UpdateSessionContext(ctx, sessionKey, encrypted, e.now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		// Deactivated between the read and the write.
		return storage.ErrNotFound
	}
	return nil
}

// GetSessionContext fetches a session and decrypts its context document.
func (e *MemoryEngine) GetSessionContext(ctx context.Context, sessionKey string) (*SessionContext, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("%w: session_id is required", storage.ErrInvalidInput)
	}
	session, err := e.store.GetSession(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	out := &SessionContext{
		SessionKey:   session.SessionKey,
		UserID:       session.UserID,
		MessageCount: session.MessageCount,
		StartedAt:    session.StartedAt,
		LastActiveAt: session.LastActiveAt,
	}
	if len(session.Encrypted) > 0 {
		doc, err := e.crypto.DecryptForUser(session.Encrypted, session.UserID)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(doc, &out.Context); err != nil {
			return nil, fmt.Errorf("engine: failed to decode session context: %w", err)
		}
	}
	return out, nil
}

// sanitizeContent trims and bounds memory content.
func sanitizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("%w: content must not be empty", storage.ErrInvalidInput)
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", storage.ErrInvalidInput, MaxContentLength)
	}
	return trimmed, nil
}

// normalizeTags trims tags and drops empties and duplicates, keeping
// first-seen order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
