package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/nscr/registry/internal/ocierr"
)

// HasBlob reports whether a blob with the given digest is already
// present, via a single indexed lookup.
func (s *Store) HasBlob(ctx context.Context, dgst string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blobs WHERE digest = ?)`, dgst,
	).Scan(&exists)
	if err != nil {
		return false, s.wrapIfCorrupt(err)
	}
	return exists, nil
}

// BlobInfo describes a stored blob without its content.
type BlobInfo struct {
	Digest string
	Size   int64
}

// GetBlobInfo implements spec's getBlob resolution rule for the
// size-only path: a bare digest is looked up directly in the blobs
// table; a tag is resolved against repo's manifest store first, and
// the manifest's own digest and body size are reported, since tags in
// this registry only ever name manifests.
func (s *Store) GetBlobInfo(ctx context.Context, repo, tagOrDigest string) (BlobInfo, error) {
	if digest.Digest(tagOrDigest).Validate() != nil {
		m, err := s.GetManifest(ctx, repo, tagOrDigest)
		if err != nil {
			return BlobInfo{}, err
		}
		return BlobInfo{Digest: m.Digest, Size: int64(len(m.Body))}, nil
	}
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT size FROM blobs WHERE digest = ?`, tagOrDigest).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return BlobInfo{}, ocierr.New(ocierr.CodeBlobUnknown, "blob not known to registry")
	}
	if err != nil {
		return BlobInfo{}, s.wrapIfCorrupt(err)
	}
	return BlobInfo{Digest: tagOrDigest, Size: size}, nil
}

// GetBlob resolves tagOrDigest against repo the same way GetBlobInfo
// does, and streams the addressed content to w. Digest reads stream
// from the blobs table under a dedicated read handle held open for the
// duration of the stream; tag reads stream the resolved manifest's body.
func (s *Store) GetBlob(ctx context.Context, repo, tagOrDigest string, w io.Writer) (int64, error) {
	if digest.Digest(tagOrDigest).Validate() != nil {
		m, err := s.GetManifest(ctx, repo, tagOrDigest)
		if err != nil {
			return 0, err
		}
		n, err := w.Write(m.Body)
		if err != nil {
			return int64(n), ocierr.New(ocierr.CodeInternal, fmt.Sprintf("streaming blob: %v", err))
		}
		return int64(n), nil
	}
	var written int64
	err := s.withReadHandle(ctx, func(conn *sql.Conn) error {
		var content []byte
		err := conn.QueryRowContext(ctx, `SELECT content FROM blobs WHERE digest = ?`, tagOrDigest).Scan(&content)
		if errors.Is(err, sql.ErrNoRows) {
			return ocierr.New(ocierr.CodeBlobUnknown, "blob not known to registry")
		}
		if err != nil {
			return err
		}
		n, err := w.Write(content)
		written = int64(n)
		if err != nil {
			return ocierr.New(ocierr.CodeInternal, fmt.Sprintf("streaming blob: %v", err))
		}
		return nil
	})
	if err != nil && !isOCIError(err) {
		return 0, s.wrapIfCorrupt(err)
	}
	return written, err
}

// NextChunkNumber returns the chunk_number the session should use for its
// next PATCH: max(chunk_number)+1 across existing chunks, or 0 if the
// session has none yet.
func (s *Store) NextChunkNumber(ctx context.Context, sessionID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(chunk_number) FROM upload_chunks WHERE session_id = ?`, sessionID,
	).Scan(&max)
	if err != nil {
		return 0, s.wrapIfCorrupt(err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// AddBlobChunk streams content into a fresh ChunkRecord for
// (sessionID, chunkNumber), failing with BLOB_UPLOAD_INVALID if that key
// already exists. It returns the cumulative bytes uploaded for the
// session after this chunk is applied.
func (s *Store) AddBlobChunk(ctx context.Context, sessionID string, chunkNumber int, content []byte) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var sessionExists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM upload_sessions WHERE session_id = ?)`, sessionID,
		).Scan(&sessionExists); err != nil {
			return err
		}
		if !sessionExists {
			return ocierr.New(ocierr.CodeBlobUploadUnknown, "upload session not known to registry")
		}
		var dup bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM upload_chunks WHERE session_id = ? AND chunk_number = ?)`,
			sessionID, chunkNumber,
		).Scan(&dup); err != nil {
			return err
		}
		if dup {
			return ocierr.New(ocierr.CodeBlobUploadInvalid, "duplicate chunk number for session")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO upload_chunks (session_id, chunk_number, content) VALUES (?, ?, ?)`,
			sessionID, chunkNumber, content,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE upload_sessions SET last_activity_at = unixepoch() WHERE session_id = ?`, sessionID,
		); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(content)), 0) FROM upload_chunks WHERE session_id = ?`, sessionID,
		).Scan(&total)
	})
	if err != nil && !isOCIError(err) {
		return 0, s.wrapIfCorrupt(err)
	}
	return total, err
}

// FinalizeBlob assembles a session's chunks in chunk_number order,
// verifies the computed digest against declaredDigest, and on success
// promotes the assembled content into the blobs table, deduplicating
// against an existing row with the same digest. The session and its
// chunks are deleted in every case except a digest mismatch, where
// chunks are preserved so the client can retry against the same session.
func (s *Store) FinalizeBlob(ctx context.Context, sessionID, declaredDigest string) (BlobInfo, error) {
	var info BlobInfo
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var repository string
		if err := tx.QueryRowContext(ctx,
			`SELECT repository FROM upload_sessions WHERE session_id = ?`, sessionID,
		).Scan(&repository); errors.Is(err, sql.ErrNoRows) {
			return ocierr.New(ocierr.CodeBlobUploadUnknown, "upload session not known to registry")
		} else if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT content FROM upload_chunks WHERE session_id = ? ORDER BY chunk_number ASC`, sessionID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		alg := digest.Digest(declaredDigest).Algorithm()
		if !alg.Available() {
			return ocierr.New(ocierr.CodeDigestInvalid, "unsupported digest algorithm")
		}
		verifier := alg.Digester()
		var assembled []byte
		for rows.Next() {
			var chunk []byte
			if err := rows.Scan(&chunk); err != nil {
				return err
			}
			verifier.Hash().Write(chunk)
			assembled = append(assembled, chunk...)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		computed := verifier.Digest()
		if computed.String() != declaredDigest {
			return ocierr.New(ocierr.CodeDigestInvalid, fmt.Sprintf(
				"digest mismatch: computed %s, declared %s", computed, declaredDigest))
		}

		var alreadyPresent bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM blobs WHERE digest = ?)`, declaredDigest,
		).Scan(&alreadyPresent); err != nil {
			return err
		}
		if !alreadyPresent {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO blobs (digest, size, content, created_at) VALUES (?, ?, ?, unixepoch())
				 ON CONFLICT(digest) DO NOTHING`,
				declaredDigest, len(assembled), assembled,
			); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_chunks WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		info = BlobInfo{Digest: declaredDigest, Size: int64(len(assembled))}
		return nil
	})
	if err != nil && !isOCIError(err) {
		return BlobInfo{}, s.wrapIfCorrupt(err)
	}
	return info, err
}

// BlobVisitor is called once per stored blob by EachBlob.
type BlobVisitor func(digest string, size int64) error

// EachBlob iterates over every stored blob for admin listing.
func (s *Store) EachBlob(ctx context.Context, visit BlobVisitor) error {
	rows, err := s.db.QueryContext(ctx, `SELECT digest, size FROM blobs ORDER BY digest`)
	if err != nil {
		return s.wrapIfCorrupt(err)
	}
	defer rows.Close()
	for rows.Next() {
		var digest string
		var size int64
		if err := rows.Scan(&digest, &size); err != nil {
			return err
		}
		if err := visit(digest, size); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DigestSHA256 hashes data with the same algorithm promote-blob uses,
// exposed for handlers that need to compute a content digest outside a
// store transaction (e.g. manifest bodies).
func DigestSHA256(data []byte) digest.Digest {
	sum := sha256.Sum256(data)
	return digest.NewDigestFromBytes(digest.SHA256, sum[:])
}

func isOCIError(err error) bool {
	var e *ocierr.Error
	return errors.As(err, &e)
}
