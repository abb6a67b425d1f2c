package registryhttp

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/nscr/registry/internal/config"
	"github.com/nscr/registry/internal/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 4, 1, slog.Default())
	qt.Assert(t, qt.IsNil(err))
	t.Cleanup(func() { st.Close() })
	cfg := &config.Config{
		RegistryURL:     "http://registry.test",
		MaxUploadSizeMB: 1024,
		ChunkSizeMB:     10,
		StrictManifests: true,
	}
	srv := New(st, cfg, slog.Default())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

// TestScenarioS1PushAndPull exercises a push-then-pull round trip
// (start upload, chunk, finalize, head).
func TestScenarioS1PushAndPull(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/v2/alpine/blobs/uploads/", "", nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusAccepted))
	loc := resp.Header.Get("Location")
	qt.Assert(t, qt.Equals(loc, "/v2/uploads/"+strings.TrimPrefix(loc, "/v2/uploads/")))
	resp.Body.Close()

	content := make([]byte, 4096)
	sum := sha256.Sum256(content)
	digest := fmt.Sprintf("sha256:%x", sum)

	req, _ := http.NewRequest(http.MethodPatch, ts.URL+loc, strings.NewReader(string(content)))
	resp, err = client.Do(req)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusAccepted))
	nextLoc := resp.Header.Get("Location")
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodPut, ts.URL+nextLoc+"?digest="+digest, nil)
	resp, err = client.Do(req)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusCreated))
	qt.Assert(t, qt.Equals(resp.Header.Get("Location"), "http://registry.test/v2/alpine/blobs/"+digest))
	resp.Body.Close()

	resp, err = client.Head(ts.URL + "/v2/alpine/blobs/" + digest)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusOK))
	resp.Body.Close()
}

// TestScenarioS3DigestMismatch covers a finalize with a wrong declared
// digest, and that the declared (wrong) digest is never visible.
func TestScenarioS3DigestMismatch(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	resp, _ := client.Post(ts.URL+"/v2/alpine/blobs/uploads/", "", nil)
	loc := resp.Header.Get("Location")
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPatch, ts.URL+loc, strings.NewReader("hello"))
	resp, _ = client.Do(req)
	nextLoc := resp.Header.Get("Location")
	resp.Body.Close()

	badDigest := "sha256:" + strings.Repeat("0", 64)
	req, _ = http.NewRequest(http.MethodPut, ts.URL+nextLoc+"?digest="+badDigest, nil)
	resp, err := client.Do(req)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusBadRequest))
	resp.Body.Close()

	resp, err = client.Head(ts.URL + "/v2/alpine/blobs/" + badDigest)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusNotFound))
	resp.Body.Close()
}

// TestScenarioS5ConcurrentDelete pushes one manifest then fires ten
// concurrent deletes, expecting exactly one 202.
func TestScenarioS5ConcurrentDelete(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	body := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json","layers":[]}`)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v2/alpine/manifests/latest", strings.NewReader(string(body)))
	resp, err := client.Do(req)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusCreated))
	resp.Body.Close()

	const n = 10
	statuses := make(chan int, n)
	for i := 0; i < n; i++ {
		go func() {
			req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v2/alpine/manifests/latest", nil)
			resp, err := client.Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			defer resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	var accepted, notFound int
	for i := 0; i < n; i++ {
		switch <-statuses {
		case http.StatusAccepted:
			accepted++
		case http.StatusNotFound:
			notFound++
		}
	}
	qt.Assert(t, qt.Equals(accepted, 1))
	qt.Assert(t, qt.Equals(notFound, n-1))
}

// TestScenarioS6CatalogAndTags pushes two tags and checks catalog/tags
// listings.
func TestScenarioS6CatalogAndTags(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	body := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json","layers":[]}`)
	for _, tag := range []string{"latest", "3.18"} {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v2/alpine/manifests/"+tag, strings.NewReader(string(body)))
		resp, err := client.Do(req)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusCreated))
		resp.Body.Close()
	}

	resp, err := client.Get(ts.URL + "/v2/_catalog")
	qt.Assert(t, qt.IsNil(err))
	var catalog struct {
		Repositories []string `json:"repositories"`
	}
	qt.Assert(t, qt.IsNil(json.NewDecoder(resp.Body).Decode(&catalog)))
	resp.Body.Close()
	qt.Assert(t, qt.Contains(catalog.Repositories, "alpine"))

	resp, err = client.Get(ts.URL + "/v2/alpine/tags/list")
	qt.Assert(t, qt.IsNil(err))
	var tagsResp struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	qt.Assert(t, qt.IsNil(json.NewDecoder(resp.Body).Decode(&tagsResp)))
	resp.Body.Close()
	qt.Assert(t, qt.Equals(tagsResp.Name, "alpine"))
	qt.Assert(t, qt.HasLen(tagsResp.Tags, 2))
}

// TestScenarioS7BlobGetByTag covers spec.md §4.2's getBlob tag
// resolution: GET /v2/<name>/blobs/<tag> must resolve the tag against
// the manifest store rather than 404ing on a literal digest lookup.
func TestScenarioS7BlobGetByTag(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	body := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json","layers":[]}`)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v2/alpine/manifests/latest", strings.NewReader(string(body)))
	resp, err := client.Do(req)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusCreated))
	wantDigest := resp.Header.Get("Docker-Content-Digest")
	resp.Body.Close()

	resp, err = client.Get(ts.URL + "/v2/alpine/blobs/latest")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusOK))
	qt.Assert(t, qt.Equals(resp.Header.Get("Docker-Content-Digest"), wantDigest))
	got, err := io.ReadAll(resp.Body)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(got, body))
	resp.Body.Close()
}

func TestPing(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/v2/")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(resp.StatusCode, http.StatusOK))
	qt.Assert(t, qt.Equals(resp.Header.Get("Docker-Distribution-API-Version"), "registry/2.0"))
}
