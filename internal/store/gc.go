package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// GCResult is the outcome of a garbage-collection pass, matching the
// result record §4.5 specifies. ManifestsRemoved is always 0: GC never
// touches manifests, only orphaned blobs and abandoned sessions.
type GCResult struct {
	BlobsRemoved      int
	SpaceFreed        int64
	ManifestsRemoved  int
	OrphanedSessions  int
}

// orphanDigests returns every blob digest with zero rows in
// manifest_refs, i.e. Blob \ Referenced, executed on tx so the mark and
// sweep phases observe one consistent snapshot.
func orphanDigests(ctx context.Context, tx *sql.Tx) ([]string, int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT digest, size FROM blobs
		WHERE digest NOT IN (SELECT DISTINCT blob_digest FROM manifest_refs)`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var digests []string
	var total int64
	for rows.Next() {
		var d string
		var size int64
		if err := rows.Scan(&d, &size); err != nil {
			return nil, 0, err
		}
		digests = append(digests, d)
		total += size
	}
	return digests, total, rows.Err()
}

// GarbageCollect runs the mark-and-sweep pass described in §4.5 inside
// one SERIALIZABLE transaction: orphaned blobs are deleted and their
// freed space totaled, and abandoned upload sessions past ttl are swept
// alongside.
func (s *Store) GarbageCollect(ctx context.Context, sessionTTL time.Duration) (GCResult, error) {
	var result GCResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		digests, freed, err := orphanDigests(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range digests {
			if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE digest = ?`, d); err != nil {
				return err
			}
		}
		result.BlobsRemoved = len(digests)
		result.SpaceFreed = freed

		cutoff := time.Now().Add(-sessionTTL).Unix()
		sessRows, err := tx.QueryContext(ctx,
			`SELECT session_id FROM upload_sessions WHERE last_activity_at < ?`, cutoff)
		if err != nil {
			return err
		}
		var sessionIDs []string
		for sessRows.Next() {
			var id string
			if err := sessRows.Scan(&id); err != nil {
				sessRows.Close()
				return err
			}
			sessionIDs = append(sessionIDs, id)
		}
		if err := sessRows.Err(); err != nil {
			return err
		}
		sessRows.Close()
		for _, id := range sessionIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM upload_chunks WHERE session_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE session_id = ?`, id); err != nil {
				return err
			}
		}
		result.OrphanedSessions = len(sessionIDs)
		return nil
	})
	if err != nil {
		return GCResult{}, s.wrapIfCorrupt(err)
	}
	return result, nil
}

// GCStats computes the same counts GarbageCollect would remove, without
// mutating anything, for the dry-run admin endpoint.
func (s *Store) GCStats(ctx context.Context) (GCResult, error) {
	var result GCResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		digests, freed, err := orphanDigests(ctx, tx)
		if err != nil {
			return err
		}
		result.BlobsRemoved = len(digests)
		result.SpaceFreed = freed
		return nil
	})
	if err != nil {
		return GCResult{}, s.wrapIfCorrupt(err)
	}
	return result, nil
}

// RunGCTicker blocks, running GarbageCollect on a timer, until ctx is
// canceled. Errors are logged and the loop continues, matching the
// sweeper error-handling policy in §7.
func (s *Store) RunGCTicker(ctx context.Context, interval, sessionTTL time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.GarbageCollect(ctx, sessionTTL)
			if err != nil {
				log.Error("scheduled garbage collection failed", "error", err)
				continue
			}
			log.Info("garbage collection complete",
				"blobs_removed", result.BlobsRemoved,
				"space_freed", result.SpaceFreed,
				"orphaned_sessions", result.OrphanedSessions)
		}
	}
}
