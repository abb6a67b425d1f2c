package registryhttp

import (
	"fmt"
	"net/http"

	"github.com/nscr/registry/internal/ocirequest"
)

func blobReference(req *ocirequest.Request) string {
	if req.Digest != "" {
		return req.Digest
	}
	return req.Tag
}

// handleBlobHead implements "HEAD /v2/<name>/blobs/<digest>" (end-2).
func (s *Server) handleBlobHead(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	info, err := s.store.GetBlobInfo(r.Context(), req.Repo, blobReference(req))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Docker-Content-Digest", info.Digest)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	w.WriteHeader(http.StatusOK)
}

// handleBlobGet implements "GET /v2/<name>/blobs/<digest or tag>"
// (end-2).
func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	ref := blobReference(req)
	info, err := s.store.GetBlobInfo(r.Context(), req.Repo, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Docker-Content-Digest", info.Digest)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := s.store.GetBlob(r.Context(), req.Repo, ref, w); err != nil {
		s.log.Error("error streaming blob after headers sent", "digest", info.Digest, "error", err)
	}
}

// handleManifestHead implements "HEAD /v2/<name>/manifests/<ref>"
// (end-3).
func (s *Server) handleManifestHead(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	dgst, mediaType, err := s.store.DigestForManifest(r.Context(), req.Repo, manifestReference(req))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Docker-Content-Digest", dgst)
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
}

// handleManifestGet implements "GET /v2/<name>/manifests/<ref>"
// (end-3).
func (s *Server) handleManifestGet(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	m, err := s.store.GetManifest(r.Context(), req.Repo, manifestReference(req))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Docker-Content-Digest", m.Digest)
	w.Header().Set("Content-Type", m.MediaType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(m.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(m.Body)
}

func manifestReference(req *ocirequest.Request) string {
	if req.Digest != "" {
		return req.Digest
	}
	return req.Tag
}
