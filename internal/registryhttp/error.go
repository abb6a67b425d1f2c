package registryhttp

import (
	"encoding/json"
	"net/http"

	"github.com/nscr/registry/internal/ocierr"
)

var errNotImplemented = ocierr.WithStatus(errAsError("not implemented"), http.StatusNotImplemented)

type simpleError string

func (e simpleError) Error() string { return string(e) }

func errAsError(msg string) error { return simpleError(msg) }

// writeError renders err as the JSON error envelope the OCI distribution
// spec requires, choosing the HTTP status from ocierr.StatusFor.
func writeError(w http.ResponseWriter, err error) {
	status := ocierr.StatusFor(err)
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
	}
	w.WriteHeader(status)
	body := ocierr.WireErrors{Errors: []ocierr.WireError{ocierr.ToWire(err)}}
	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return
	}
	w.Write(data)
}
