package registryhttp

import (
	"fmt"
	"io"
	"net/http"

	"github.com/nscr/registry/internal/ocierr"
	"github.com/nscr/registry/internal/ocirequest"
)

// handleBlobStartUpload implements "POST /v2/<name>/blobs/uploads[/]"
// (end-4a/4b). The monolithic short-circuit (DESIGN.md, open question 2)
// fires only when the client supplied ?digest= and that blob is already
// known; otherwise a fresh session is always opened, per the resolved
// open question on the monolithic-upload path.
func (s *Server) handleBlobStartUpload(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	ctx := r.Context()
	if req.Digest != "" {
		has, err := s.store.HasBlob(ctx, req.Digest)
		if err != nil {
			writeError(w, err)
			return
		}
		if has {
			w.Header().Set("Docker-Content-Digest", req.Digest)
			w.WriteHeader(http.StatusCreated)
			return
		}
	}
	sid, err := s.store.StartUploadSession(ctx, req.Repo)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v2/uploads/%s/0", sid))
	w.Header().Set("Docker-Upload-UUID", sid)
	w.WriteHeader(http.StatusAccepted)
}

// handleUploadChunk implements "PATCH /v2/uploads/<sid>/<n>" (end-5).
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	ctx := r.Context()
	if _, err := s.store.SessionRepository(ctx, req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	expected, err := s.store.NextChunkNumber(ctx, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ChunkNumber != expected {
		writeError(w, ocierr.Newf(ocierr.CodeBlobUploadInvalid,
			"expected chunk number %d, got %d", expected, req.ChunkNumber))
		return
	}
	content, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.ChunkSize()+1))
	if err != nil {
		writeError(w, ocierr.New(ocierr.CodeInternal, fmt.Sprintf("reading chunk body: %v", err)))
		return
	}
	if int64(len(content)) > s.cfg.ChunkSize() {
		writeError(w, ocierr.New(ocierr.CodeSizeInvalid, "chunk exceeds configured chunk size"))
		return
	}
	total, err := s.store.AddBlobChunk(ctx, req.SessionID, req.ChunkNumber, content)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v2/uploads/%s/%d", req.SessionID, req.ChunkNumber+1))
	w.Header().Set("Range", fmt.Sprintf("0-%d", total))
	w.Header().Set("Docker-Upload-UUID", req.SessionID)
	w.WriteHeader(http.StatusAccepted)
}

// handleUploadComplete implements "PUT /v2/uploads/<sid>/<n>?digest=<d>"
// (end-6).
func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	ctx := r.Context()
	repo, err := s.store.SessionRepository(ctx, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.ContentLength > 0 {
		content, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.ChunkSize()+1))
		if err != nil {
			writeError(w, ocierr.New(ocierr.CodeInternal, fmt.Sprintf("reading final chunk body: %v", err)))
			return
		}
		if int64(len(content)) > s.cfg.ChunkSize() {
			writeError(w, ocierr.New(ocierr.CodeSizeInvalid, "final chunk exceeds configured chunk size"))
			return
		}
		if _, err := s.store.AddBlobChunk(ctx, req.SessionID, req.ChunkNumber, content); err != nil {
			writeError(w, err)
			return
		}
	}
	info, err := s.store.FinalizeBlob(ctx, req.SessionID, req.Digest)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/v2/%s/blobs/%s", s.cfg.RegistryURL, repo, info.Digest))
	w.Header().Set("Docker-Content-Digest", info.Digest)
	w.WriteHeader(http.StatusCreated)
}

// handleManifestPut implements "PUT /v2/<name>/manifests/<ref>" (end-7).
func (s *Server) handleManifestPut(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxUploadSize()+1))
	if err != nil {
		writeError(w, ocierr.New(ocierr.CodeInternal, fmt.Sprintf("reading manifest body: %v", err)))
		return
	}
	reference := req.Tag
	if reference == "" {
		reference = req.Digest
	}
	m, err := s.store.AddManifest(ctx, req.Repo, reference, body, s.cfg.StrictManifests)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Docker-Content-Digest", m.Digest)
	w.Header().Set("Location", fmt.Sprintf("%s/v2/%s/manifests/%s", s.cfg.RegistryURL, req.Repo, m.Digest))
	w.WriteHeader(http.StatusCreated)
}
