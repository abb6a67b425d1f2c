package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nscr/registry/internal/ocierr"
)

// Manifest is a stored manifest body together with its metadata.
type Manifest struct {
	Digest    string
	MediaType string
	Body      []byte
}

// AddManifest stores body under (repo, reference), extracting and
// recording its blob references, and mirroring it under (repo, digest)
// so digest-addressed pulls resolve. If a manifest already exists at
// (repo, reference) it is atomically replaced. When strictRefs is true,
// any referenced blob absent from the store fails the whole operation
// with MANIFEST_BLOB_UNKNOWN before anything is written; when it is
// false, each absent reference is logged as a warning and the manifest is
// stored anyway.
func (s *Store) AddManifest(ctx context.Context, repo, reference string, body []byte, strictRefs bool) (Manifest, error) {
	mediaType, refs, err := blobDigestsForManifest(body)
	if err != nil {
		return Manifest{}, err
	}
	dgst := DigestSHA256(body).String()

	var result Manifest
	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ref := range refs {
			var present bool
			if strictRefs && ref == dgst {
				// A manifest cannot reference its own not-yet-committed
				// digest; this only happens for self-referential index
				// entries, which is malformed input.
				return ocierr.New(ocierr.CodeManifestInvalid, "manifest references its own digest")
			}
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM blobs WHERE digest = ?)
				 OR EXISTS(SELECT 1 FROM manifests WHERE repository = ? AND digest = ?)`,
				ref, repo, ref,
			).Scan(&present); err != nil {
				return err
			}
			if !present {
				if strictRefs {
					return ocierr.New(ocierr.CodeManifestBlobUnknown,
						fmt.Sprintf("manifest references unknown blob %s", ref))
				}
				s.log.Warn("manifest references unknown blob", "repository", repo, "reference", reference, "blob", ref)
			}
		}

		if err := deleteManifestRowsLocked(ctx, tx, repo, reference); err != nil {
			return err
		}

		for _, row := range []string{reference, dgst} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO manifests (repository, reference, digest, media_type, body, created_at)
				 VALUES (?, ?, ?, ?, ?, unixepoch())
				 ON CONFLICT(repository, reference) DO UPDATE SET
					digest = excluded.digest, media_type = excluded.media_type,
					body = excluded.body, created_at = excluded.created_at`,
				repo, row, dgst, mediaType, body,
			); err != nil {
				return err
			}
		}
		for _, ref := range refs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO manifest_refs (manifest_repository, manifest_digest, blob_digest)
				 VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
				repo, dgst, ref,
			); err != nil {
				return err
			}
		}
		result = Manifest{Digest: dgst, MediaType: mediaType, Body: body}
		return nil
	})
	if txErr != nil {
		if isOCIError(txErr) {
			return Manifest{}, txErr
		}
		return Manifest{}, s.wrapIfCorrupt(txErr)
	}
	return result, nil
}

// deleteManifestRowsLocked removes any manifest(s) previously stored
// under (repo, reference) along with their blob references, so a
// subsequent insert is an atomic replace rather than a duplicate. Must be
// called inside an existing transaction.
func deleteManifestRowsLocked(ctx context.Context, tx *sql.Tx, repo, reference string) error {
	var oldDigest sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT digest FROM manifests WHERE repository = ? AND reference = ?`, repo, reference,
	).Scan(&oldDigest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if !oldDigest.Valid {
		return nil
	}
	// Only drop the (repo, digest) mirror row and refs if no other
	// reference (tag) in this repository still points at that digest.
	var stillReferenced int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manifests WHERE repository = ? AND digest = ? AND reference != ? AND reference != ?`,
		repo, oldDigest.String, reference, oldDigest.String,
	).Scan(&stillReferenced); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM manifests WHERE repository = ? AND reference = ?`, repo, reference,
	); err != nil {
		return err
	}
	if stillReferenced == 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM manifests WHERE repository = ? AND reference = ? AND reference != ?`,
			repo, oldDigest.String, reference,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM manifest_refs WHERE manifest_repository = ? AND manifest_digest = ?`,
			repo, oldDigest.String,
		); err != nil {
			return err
		}
	}
	return nil
}

// GetManifest resolves reference (tag or digest) against repo and
// returns its body, media type, and canonical digest.
func (s *Store) GetManifest(ctx context.Context, repo, reference string) (Manifest, error) {
	var m Manifest
	err := s.db.QueryRowContext(ctx,
		`SELECT digest, media_type, body FROM manifests WHERE repository = ? AND reference = ?`,
		repo, reference,
	).Scan(&m.Digest, &m.MediaType, &m.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Manifest{}, ocierr.New(ocierr.CodeManifestUnknown, "manifest unknown")
	}
	if err != nil {
		return Manifest{}, s.wrapIfCorrupt(err)
	}
	return m, nil
}

// HasManifest reports whether (repo, reference) resolves to a manifest,
// the spec's named hasManifest(repo, reference) -> bool operation.
func (s *Store) HasManifest(ctx context.Context, repo, reference string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM manifests WHERE repository = ? AND reference = ?)`,
		repo, reference,
	).Scan(&exists)
	if err != nil {
		return false, s.wrapIfCorrupt(err)
	}
	return exists, nil
}

// DigestForManifest resolves reference against repo and returns its
// canonical digest and media type without reading the (possibly large)
// manifest body, for use by HEAD handlers.
func (s *Store) DigestForManifest(ctx context.Context, repo, reference string) (digest, mediaType string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT digest, media_type FROM manifests WHERE repository = ? AND reference = ?`,
		repo, reference,
	).Scan(&digest, &mediaType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ocierr.New(ocierr.CodeManifestUnknown, "manifest unknown")
	}
	if err != nil {
		return "", "", s.wrapIfCorrupt(err)
	}
	return digest, mediaType, nil
}

// RemoveManifestIfExists atomically checks for and deletes the manifest
// at (repo, reference), returning true iff this call performed the
// delete. Under concurrent callers exactly one returns true.
func (s *Store) RemoveManifestIfExists(ctx context.Context, repo, reference string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var oldDigest sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT digest FROM manifests WHERE repository = ? AND reference = ?`, repo, reference,
		).Scan(&oldDigest)
		if errors.Is(err, sql.ErrNoRows) {
			deleted = false
			return nil
		}
		if err != nil {
			return err
		}
		if err := deleteManifestRowsLocked(ctx, tx, repo, reference); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, s.wrapIfCorrupt(err)
	}
	return deleted, nil
}

// DeleteRepository deletes every manifest row for repo (both tag and
// digest rows) and their blob references, returning the number of
// distinct manifests (by digest) removed.
func (s *Store) DeleteRepository(ctx context.Context, repo string) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT digest) FROM manifests WHERE repository = ?`, repo,
		).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM manifests WHERE repository = ?`, repo); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM manifest_refs WHERE manifest_repository = ?`, repo); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, s.wrapIfCorrupt(err)
	}
	return count, nil
}

// ListRepositories returns the distinct repository names with at least
// one manifest.
func (s *Store) ListRepositories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT repository FROM manifests ORDER BY repository`)
	if err != nil {
		return nil, s.wrapIfCorrupt(err)
	}
	defer rows.Close()
	var repos []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// ListTags returns every tag (non-digest reference) stored for repo.
func (s *Store) ListTags(ctx context.Context, repo string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reference FROM manifests WHERE repository = ? AND reference NOT LIKE '%:%' ORDER BY reference`, repo)
	if err != nil {
		return nil, s.wrapIfCorrupt(err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
