package registryhttp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nscr/registry/internal/config"
	"github.com/nscr/registry/internal/ocierr"
	"github.com/nscr/registry/internal/ocirequest"
)

// handleAdminGC implements "POST /api/garbage-collect".
func (s *Server) handleAdminGC(w http.ResponseWriter, r *http.Request, _ *ocirequest.Request) {
	if s.store.Fatal() {
		writeError(w, ocierr.New(ocierr.CodeUnavailable, "database unavailable after failed recovery"))
		return
	}
	result, err := s.store.GarbageCollect(r.Context(), config.SessionTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"blobsRemoved":     result.BlobsRemoved,
		"spaceFreed":       result.SpaceFreed,
		"manifestsRemoved": result.ManifestsRemoved,
		"orphanedSessions": result.OrphanedSessions,
	})
}

// handleAdminGCStats implements "GET /api/garbage-collect/stats".
func (s *Server) handleAdminGCStats(w http.ResponseWriter, r *http.Request, _ *ocirequest.Request) {
	if s.store.Fatal() {
		writeError(w, ocierr.New(ocierr.CodeUnavailable, "database unavailable after failed recovery"))
		return
	}
	result, err := s.store.GCStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"unreferencedBlobs": result.BlobsRemoved,
		"spaceFreed":        result.SpaceFreed,
	})
}

// handleAdminBlobsList implements "GET /api/blobs", emitting one digest
// per line.
func (s *Server) handleAdminBlobsList(w http.ResponseWriter, r *http.Request, _ *ocirequest.Request) {
	if s.store.Fatal() {
		writeError(w, ocierr.New(ocierr.CodeUnavailable, "database unavailable after failed recovery"))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	err := s.store.EachBlob(r.Context(), func(digest string, size int64) error {
		_, err := fmt.Fprintln(w, digest)
		return err
	})
	if err != nil {
		s.log.Error("error listing blobs after headers sent", "error", err)
	}
}
