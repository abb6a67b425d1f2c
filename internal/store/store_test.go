package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, 4, 1, slog.Default())
	qt.Assert(t, qt.IsNil(err))
	t.Cleanup(func() { s.Close() })
	return s
}

func pushBlob(t *testing.T, s *Store, content []byte) string {
	t.Helper()
	ctx := context.Background()
	sid, err := s.StartUploadSession(ctx, "alpine")
	qt.Assert(t, qt.IsNil(err))
	_, err = s.AddBlobChunk(ctx, sid, 0, content)
	qt.Assert(t, qt.IsNil(err))
	dgst := DigestSHA256(content).String()
	_, err = s.FinalizeBlob(ctx, sid, dgst)
	qt.Assert(t, qt.IsNil(err))
	return dgst
}

// TestDedup covers invariant 1: concurrent finalizeBlob calls for the
// same digest leave exactly one Blob row and all callers succeed.
func TestDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("the quick brown fox")
	dgst := DigestSHA256(content).String()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		sid, err := s.StartUploadSession(ctx, "alpine")
		qt.Assert(t, qt.IsNil(err))
		_, err = s.AddBlobChunk(ctx, sid, 0, content)
		qt.Assert(t, qt.IsNil(err))
		wg.Add(1)
		go func(sid string, idx int) {
			defer wg.Done()
			_, err := s.FinalizeBlob(ctx, sid, dgst)
			errs[idx] = err
		}(sid, i)
	}
	wg.Wait()
	for _, err := range errs {
		qt.Assert(t, qt.IsNil(err))
	}
	info, err := s.GetBlobInfo(ctx, "alpine", dgst)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(info.Size, int64(len(content))))
}

// TestAtomicManifestDelete covers invariant 2.
func TestAtomicManifestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dgst := pushBlob(t, s, []byte("layer-bytes"))
	body := manifestBody(dgst)
	_, err := s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNil(err))

	const n = 10
	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			deleted, err := s.RemoveManifestIfExists(ctx, "alpine", "latest")
			qt.Check(t, qt.IsNil(err))
			results[idx] = deleted
		}(i)
	}
	wg.Wait()
	trueCount := 0
	for _, r := range results {
		if r {
			trueCount++
		}
	}
	qt.Assert(t, qt.Equals(trueCount, 1))
}

// TestRoundTrip covers invariant 4.
func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dgst := pushBlob(t, s, []byte("config-bytes"))
	body := manifestBody(dgst)
	added, err := s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(added.Digest, DigestSHA256(body).String()))

	got, err := s.GetManifest(ctx, "alpine", "latest")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(got.Body, body))
	qt.Assert(t, qt.Equals(got.Digest, DigestSHA256(body).String()))

	has, err := s.HasManifest(ctx, "alpine", "latest")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(has))

	has, err = s.HasManifest(ctx, "alpine", "missing")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(has))
}

// TestIdempotentManifestAdd covers invariant 5.
func TestIdempotentManifestAdd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dgst := pushBlob(t, s, []byte("config-bytes"))
	body := manifestBody(dgst)

	_, err := s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNil(err))
	_, err = s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNil(err))

	var refCount int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manifest_refs WHERE manifest_repository = ? AND blob_digest = ?`, "alpine", dgst)
	qt.Assert(t, qt.IsNil(row.Scan(&refCount)))
	qt.Assert(t, qt.Equals(refCount, 1))
}

// TestSessionDensity covers invariant 6: NextChunkNumber always returns
// max+1, keeping the chunk_number set dense from 0.
func TestSessionDensity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid, err := s.StartUploadSession(ctx, "alpine")
	qt.Assert(t, qt.IsNil(err))

	for i := 0; i < 5; i++ {
		n, err := s.NextChunkNumber(ctx, sid)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(n, i))
		_, err = s.AddBlobChunk(ctx, sid, n, []byte(fmt.Sprintf("chunk-%d", i)))
		qt.Assert(t, qt.IsNil(err))
	}
}

// TestReclamation covers invariant 7.
func TestReclamation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dgst := pushBlob(t, s, []byte("only-used-by-alpine"))
	body := manifestBody(dgst)
	_, err := s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNil(err))

	count, err := s.DeleteRepository(ctx, "alpine")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(count, 1))

	result, err := s.GarbageCollect(ctx, time.Hour)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(result.BlobsRemoved, 1))

	_, err = s.GetBlobInfo(ctx, "alpine", dgst)
	qt.Assert(t, qt.IsNotNil(err))
}

// TestGCSafety covers invariant 3: GC never deletes a blob a live
// manifest still references.
func TestGCSafety(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dgst := pushBlob(t, s, []byte("still-referenced"))
	body := manifestBody(dgst)
	_, err := s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNil(err))

	result, err := s.GarbageCollect(ctx, time.Hour)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(result.BlobsRemoved, 0))

	_, err = s.GetBlobInfo(ctx, "alpine", dgst)
	qt.Assert(t, qt.IsNil(err))
}

// TestGetBlobInfoResolvesTag covers spec's getBlob tag-resolution path:
// a tag is looked up against the manifest store and served as the
// manifest's own digest and body, since tags in this registry only
// ever name manifests.
func TestGetBlobInfoResolvesTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dgst := pushBlob(t, s, []byte("config-bytes"))
	body := manifestBody(dgst)
	added, err := s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNil(err))

	info, err := s.GetBlobInfo(ctx, "alpine", "latest")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(info.Digest, added.Digest))
	qt.Assert(t, qt.Equals(info.Size, int64(len(body))))

	var buf bytes.Buffer
	n, err := s.GetBlob(ctx, "alpine", "latest", &buf)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, int64(len(body))))
	qt.Assert(t, qt.DeepEquals(buf.Bytes(), body))
}

func TestStrictManifestsRejectsUnknownBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	body := manifestBody("sha256:" + "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	_, err := s.AddManifest(ctx, "alpine", "latest", body, true)
	qt.Assert(t, qt.IsNotNil(err))
}

func manifestBody(configDigest string) []byte {
	return []byte(fmt.Sprintf(
		`{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json",`+
			`"config":{"mediaType":"application/vnd.docker.container.image.v1+json","digest":%q,"size":1},"layers":[]}`,
		configDigest))
}
