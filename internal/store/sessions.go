package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nscr/registry/internal/ocierr"
)

// StartUploadSession creates a new upload session for repo and returns
// its unguessable session ID (128 random bits from crypto/rand, hex
// encoded).
func (s *Store) StartUploadSession(ctx context.Context, repo string) (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("store: generating session id: %w", err)
	}
	sessionID := hex.EncodeToString(raw[:])
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO upload_sessions (session_id, repository, created_at, last_activity_at)
			 VALUES (?, ?, unixepoch(), unixepoch())`,
			sessionID, repo,
		)
		return err
	})
	if err != nil {
		return "", s.wrapIfCorrupt(err)
	}
	return sessionID, nil
}

// SessionRepository returns the repository an upload session belongs to,
// or a BLOB_UPLOAD_UNKNOWN error if the session doesn't exist (expired or
// never created) — per §4.4, clients seeing this MUST restart the upload.
func (s *Store) SessionRepository(ctx context.Context, sessionID string) (string, error) {
	var repo string
	err := s.db.QueryRowContext(ctx,
		`SELECT repository FROM upload_sessions WHERE session_id = ?`, sessionID,
	).Scan(&repo)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ocierr.New(ocierr.CodeBlobUploadUnknown, "upload session not known to registry")
	}
	if err != nil {
		return "", s.wrapIfCorrupt(err)
	}
	return repo, nil
}

// SweepExpiredSessions deletes upload sessions (and their chunks) whose
// last_activity_at is older than ttl, returning how many were removed.
func (s *Store) SweepExpiredSessions(ctx context.Context, ttl time.Duration) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cutoff := time.Now().Add(-ttl).Unix()
		rows, err := tx.QueryContext(ctx,
			`SELECT session_id FROM upload_sessions WHERE last_activity_at < ?`, cutoff)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM upload_chunks WHERE session_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE session_id = ?`, id); err != nil {
				return err
			}
		}
		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, s.wrapIfCorrupt(err)
	}
	return removed, nil
}

// RunSessionSweeper blocks, sweeping expired sessions on a ticker derived
// from ttl, until ctx is canceled. It never returns an error: sweep
// failures are logged and the loop continues, per §7's policy that
// background sweepers catch their own errors.
func (s *Store) RunSessionSweeper(ctx context.Context, ttl time.Duration, log *slog.Logger) {
	interval := ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpiredSessions(ctx, ttl)
			if err != nil {
				log.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("swept expired upload sessions", "count", n)
			}
		}
	}
}
