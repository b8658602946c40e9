// Package postgres provides the PostgreSQL implementation of the storage
// interfaces. It is the production backend.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. Every statement is idempotent (IF NOT EXISTS) so it is applied
// unconditionally at startup.
//
// Concurrency guards live here, not in application locks: the partial unique
// index on (user_id, content_hash) over active rows is the dedup arbiter,
// and the unique triple on associations is the upsert arbiter.
const Schema = `
-- Memory entries: encrypted per-user memory rows
CREATE TABLE IF NOT EXISTS memory_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_id TEXT,
    memory_type TEXT NOT NULL DEFAULT 'general',
    scope TEXT NOT NULL DEFAULT 'long_term',

    -- AES-256-GCM blob (nonce || ciphertext || tag) and plaintext hash
    content_encrypted BYTEA NOT NULL,
    content_hash TEXT NOT NULL,

    tags TEXT[],
    relevance_score REAL NOT NULL DEFAULT 1.0,
    access_count INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    -- Set iff scope = 'short_term'
    expires_at TIMESTAMPTZ,

    -- Soft-delete marker
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);

-- Dedup arbiter: one active row per (user, plaintext hash)
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_user_hash_active
    ON memory_entries(user_id, content_hash) WHERE is_active;

CREATE INDEX IF NOT EXISTS idx_entries_user_active ON memory_entries(user_id, is_active);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON memory_entries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON memory_entries(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entries_session ON memory_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_entries_tags ON memory_entries USING GIN(tags);

-- Associations: typed weighted edges between entries. No foreign keys:
-- edges may dangle after a purge until the maintenance sweep prunes them.
CREATE TABLE IF NOT EXISTS memory_associations (
    id TEXT PRIMARY KEY,
    source_memory_id TEXT NOT NULL,
    target_memory_id TEXT NOT NULL,
    association_type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 0.5,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE(source_memory_id, target_memory_id, association_type)
);

CREATE INDEX IF NOT EXISTS idx_assoc_source ON memory_associations(source_memory_id);
CREATE INDEX IF NOT EXISTS idx_assoc_target ON memory_associations(target_memory_id);
CREATE INDEX IF NOT EXISTS idx_assoc_strength ON memory_associations(strength DESC);

-- Context sessions: one row per external session key
CREATE TABLE IF NOT EXISTS context_sessions (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    context_encrypted BYTEA,
    message_count INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON context_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON context_sessions(last_active_at DESC);

-- Backup catalog: append-only history of backup attempts
CREATE TABLE IF NOT EXISTS backup_catalog (
    id TEXT PRIMARY KEY,
    tier TEXT NOT NULL,
    backup_path TEXT NOT NULL,
    checksum TEXT NOT NULL,
    size_bytes BIGINT NOT NULL DEFAULT 0,
    records_count INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    status TEXT NOT NULL DEFAULT 'running',
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_backup_tier_started ON backup_catalog(tier, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_backup_status ON backup_catalog(status);
`
