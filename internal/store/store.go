// Package store is the schema and transaction runtime (C1) plus the
// blob (C2), manifest (C3), session (C4), and garbage-collection (C5)
// stores built on top of it. All state the registry owns lives here; no
// component outside this package touches the database directly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// Store is the pooled handle to the registry's database. All mutating
// operations run inside withTx; reads either use withReadHandle or a
// direct pooled query for single statements.
type Store struct {
	db     *sql.DB
	path   string
	log    *slog.Logger
	fatal  atomic.Bool
}

// Open creates (if necessary) the database at dir/registry.db, applies
// pending migrations, and configures the connection pool from
// maxConns/minConns. The returned Store is ready for use.
func Open(ctx context.Context, dir string, maxConns, minConns int, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	path := filepath.Join(dir, "registry.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if minConns > 0 {
		db.SetMaxIdleConns(minConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connecting to database: %w", err)
	}
	s := &Store{db: db, path: path, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fatal reports whether the store has given up after a failed corruption
// recovery attempt (§4.8). Admin handlers consult this to answer 503
// instead of issuing a doomed query.
func (s *Store) Fatal() bool {
	return s.fatal.Load()
}

// withTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. Every write-path operation in this package goes
// through withTx, per the schema runtime's contract.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrapIfCorrupt(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.wrapIfCorrupt(err)
	}
	committed = true
	return nil
}

// withReadHandle hands fn a dedicated connection for the duration of a
// streaming read, so the read isn't torn down if the pool reassigns the
// connection mid-stream.
func (s *Store) withReadHandle(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return s.wrapIfCorrupt(err)
	}
	defer conn.Close()
	return fn(conn)
}

// wrapIfCorrupt handles an error whose message looks like database
// corruption by running PRAGMA integrity_check on the existing connection
// pool. If that check fails or reports anything but "ok", the store is
// marked fatal for the rest of the process lifetime. The pool is not
// closed or reopened. err is returned unchanged in every case.
func (s *Store) wrapIfCorrupt(err error) error {
	if !looksLikeCorruption(err) {
		return err
	}
	s.log.Error("database error resembling corruption, attempting recovery", "error", err)
	var integrityResult string
	recoverErr := s.db.QueryRow("PRAGMA integrity_check").Scan(&integrityResult)
	if recoverErr != nil || integrityResult != "ok" {
		s.fatal.Store(true)
		s.log.Error("database recovery failed, marking store fatal", "integrity_check", integrityResult, "error", recoverErr)
	}
	return err
}

func looksLikeCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"database disk image is malformed", "file is not a database", "corrupt"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
