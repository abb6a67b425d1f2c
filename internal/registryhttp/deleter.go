package registryhttp

import (
	"encoding/json"
	"net/http"

	"github.com/nscr/registry/internal/ocierr"
	"github.com/nscr/registry/internal/ocirequest"
)

// handleBlobDelete implements "DELETE /v2/<name>/blobs/<digest>"
// (end-10). Blobs aren't deleted directly; they're reclaimed by GC once
// unreferenced, so this reports whether the blob currently exists.
func (s *Server) handleBlobDelete(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	has, err := s.store.HasBlob(r.Context(), req.Digest)
	if err != nil {
		writeError(w, err)
		return
	}
	if !has {
		writeError(w, ocierr.New(ocierr.CodeBlobUnknown, "blob not known to registry"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleManifestDelete implements "DELETE /v2/<name>/manifests/<ref>"
// (end-9), the concurrency-correctness anchor: exactly one concurrent
// caller for the same (repo, ref) sees 202.
func (s *Server) handleManifestDelete(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	reference := manifestReference(req)
	deleted, err := s.store.RemoveManifestIfExists(r.Context(), req.Repo, reference)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, ocierr.New(ocierr.CodeManifestUnknown, "manifest unknown"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleRepositoryDelete implements "DELETE /v2/<name>".
func (s *Server) handleRepositoryDelete(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	count, err := s.store.DeleteRepository(r.Context(), req.Repo)
	if err != nil {
		writeError(w, err)
		return
	}
	if count == 0 {
		writeError(w, ocierr.New(ocierr.CodeNameUnknown, "repository not known to registry"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"message":          "repository deleted",
		"manifestsDeleted": count,
	})
}
