package registryhttp

import (
	"crypto/subtle"
	"net/http"

	"github.com/nscr/registry/internal/ocierr"
)

// checkAuth enforces the HTTP Basic gate on /v2/* and /api/* when
// NSCR_AUTH_ENABLED is set, per §7. It writes the 401 response itself and
// returns false when the request should not proceed.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.AuthEnabled {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok || !constantTimeEqual(user, s.cfg.AuthUsername) || !constantTimeEqual(pass, s.cfg.AuthPassword) {
		writeError(w, ocierr.New(ocierr.CodeUnauthorized, "authentication required"))
		return false
	}
	return true
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
