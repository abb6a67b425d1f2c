package registryhttp

import (
	"encoding/json"
	"net/http"

	"github.com/nscr/registry/internal/ocirequest"
)

// handleCatalogList implements "GET /v2/_catalog".
func (s *Server) handleCatalogList(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	repos = paginate(repos, req.ListN, req.ListLast)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"repositories": repos})
}

// handleTagsList implements "GET /v2/<name>/tags/list".
func (s *Server) handleTagsList(w http.ResponseWriter, r *http.Request, req *ocirequest.Request) {
	tags, err := s.store.ListTags(r.Context(), req.Repo)
	if err != nil {
		writeError(w, err)
		return
	}
	tags = paginate(tags, req.ListN, req.ListLast)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"name": req.Repo, "tags": tags})
}

// paginate applies the OCI distribution spec's "n"/"last" pagination
// parameters to an already-sorted list.
func paginate(items []string, n int, last string) []string {
	if last != "" {
		for i, item := range items {
			if item == last {
				items = items[i+1:]
				break
			}
		}
	}
	if n >= 0 && n < len(items) {
		items = items[:n]
	}
	if items == nil {
		items = []string{}
	}
	return items
}
