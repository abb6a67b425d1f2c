// Package registryhttp implements the OCI Registry API v2 handler layer
// (C6) and the admin surface (C7) on top of internal/store.
package registryhttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nscr/registry/internal/config"
	"github.com/nscr/registry/internal/ocirequest"
	"github.com/nscr/registry/internal/store"
)

// Server is the http.Handler that drives the registry protocol and admin
// endpoints. It holds no authoritative state of its own; everything goes
// through store.
type Server struct {
	store       *store.Store
	cfg         *config.Config
	log         *slog.Logger
	mux         map[ocirequest.Kind]func(http.ResponseWriter, *http.Request, *ocirequest.Request)
	extraRoutes map[string]http.HandlerFunc
}

// WithExtraRoute registers a handler for an exact method+path pair
// outside the OCI registry protocol, such as a test-only shutdown
// endpoint. It returns s for chaining.
func (s *Server) WithExtraRoute(method, path string, h http.HandlerFunc) *Server {
	if s.extraRoutes == nil {
		s.extraRoutes = make(map[string]http.HandlerFunc)
	}
	s.extraRoutes[method+" "+path] = h
	return s
}

// New builds a Server backed by st, configured by cfg, logging to log.
func New(st *store.Store, cfg *config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{store: st, cfg: cfg, log: log}
	s.mux = map[ocirequest.Kind]func(http.ResponseWriter, *http.Request, *ocirequest.Request){
		ocirequest.ReqPing:             s.handlePing,
		ocirequest.ReqCatalogList:      s.handleCatalogList,
		ocirequest.ReqBlobGet:          s.handleBlobGet,
		ocirequest.ReqBlobHead:         s.handleBlobHead,
		ocirequest.ReqBlobDelete:       s.handleBlobDelete,
		ocirequest.ReqBlobStartUpload:  s.handleBlobStartUpload,
		ocirequest.ReqUploadChunk:      s.handleUploadChunk,
		ocirequest.ReqUploadComplete:   s.handleUploadComplete,
		ocirequest.ReqManifestGet:      s.handleManifestGet,
		ocirequest.ReqManifestHead:     s.handleManifestHead,
		ocirequest.ReqManifestPut:      s.handleManifestPut,
		ocirequest.ReqManifestDelete:   s.handleManifestDelete,
		ocirequest.ReqRepositoryDelete: s.handleRepositoryDelete,
		ocirequest.ReqTagsList:         s.handleTagsList,
		ocirequest.ReqAdminGC:          s.handleAdminGC,
		ocirequest.ReqAdminGCStats:     s.handleAdminGCStats,
		ocirequest.ReqAdminBlobsList:   s.handleAdminBlobsList,
	}
	return s
}

// ServeHTTP implements http.Handler: parse the request into a typed
// operation, apply the auth gate, and dispatch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := s.extraRoutes[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}
	if !s.checkAuth(w, r) {
		return
	}
	req, err := ocirequest.Parse(r.Method, r.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	handler, ok := s.mux[req.Kind]
	if !ok {
		writeError(w, errNotImplemented)
		return
	}
	s.log.Debug("handling request", "method", r.Method, "path", r.URL.Path, "repo", req.Repo)
	handler(w, r, req)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request, _ *ocirequest.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.WriteHeader(http.StatusOK)
}

// Run starts the HTTP server on addr and blocks until ctx is canceled,
// at which point it stops accepting new requests and waits up to
// graceTimeout for in-flight handlers to finish before returning.
func (s *Server) Run(ctx context.Context, addr string, graceTimeout time.Duration) error {
	httpServer := &http.Server{Addr: addr, Handler: s}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("shutting down server", "grace_timeout", graceTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), graceTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
