// Package ocirequest parses incoming HTTP requests into the typed
// operations the registry protocol handlers dispatch on, keeping URL
// parsing out of the handlers themselves.
package ocirequest

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nscr/registry/internal/ocierr"
	"github.com/nscr/registry/internal/ociref"
)

// Kind identifies which registry operation a parsed Request represents.
type Kind int

const (
	ReqPing Kind = iota
	ReqCatalogList

	ReqBlobGet
	ReqBlobHead
	ReqBlobDelete
	ReqBlobStartUpload

	ReqUploadChunk    // PATCH /v2/uploads/<sid>/<n>
	ReqUploadComplete // PUT   /v2/uploads/<sid>/<n>?digest=<d>

	ReqManifestGet
	ReqManifestHead
	ReqManifestPut
	ReqManifestDelete

	ReqRepositoryDelete
	ReqTagsList

	ReqAdminGC
	ReqAdminGCStats
	ReqAdminBlobsList
)

// Request is the parsed form of an incoming registry HTTP request.
type Request struct {
	Kind Kind

	// Repo holds the repository name for all kinds except ReqPing,
	// ReqCatalogList, ReqUploadChunk, ReqUploadComplete, and the admin
	// kinds.
	Repo string

	// Digest holds the digest in the request path or "digest" query
	// parameter, valid for ReqBlobGet, ReqBlobHead, ReqBlobDelete,
	// ReqUploadComplete, and manifest requests addressed by digest.
	Digest string

	// Tag holds the tag in the request path, valid for manifest
	// requests addressed by tag and for ReqBlobGet/ReqBlobHead when
	// the path segment resolves to a tag rather than a digest.
	Tag string

	// SessionID and ChunkNumber address an upload session location,
	// valid for ReqUploadChunk and ReqUploadComplete.
	SessionID   string
	ChunkNumber int

	// ListN and ListLast carry pagination parameters for ReqTagsList
	// and ReqCatalogList.
	ListN    int
	ListLast string
}

func badRequestf(format string, a ...any) error {
	return ocierr.Newf(ocierr.CodeNameInvalid, format, a...)
}

var errMethodNotAllowed = ocierr.WithStatus(fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
var errNotFound = ocierr.WithStatus(fmt.Errorf("page not found"), http.StatusNotFound)

// Parse parses an incoming request's method and URL into a Request. On
// failure the returned error is always an *ocierr.Error or
// *ocierr.HTTPError suitable for direct translation to an HTTP response.
func Parse(method string, u *url.URL) (*Request, error) {
	path := u.Path
	q := u.Query()

	switch {
	case path == "/v2" || path == "/v2/":
		if method != http.MethodGet && method != http.MethodHead {
			return nil, errMethodNotAllowed
		}
		return &Request{Kind: ReqPing}, nil

	case path == "/v2/_catalog":
		if method != http.MethodGet {
			return nil, errMethodNotAllowed
		}
		req := &Request{Kind: ReqCatalogList}
		setListParams(req, q)
		return req, nil

	case path == "/api/garbage-collect":
		if method != http.MethodPost {
			return nil, errMethodNotAllowed
		}
		return &Request{Kind: ReqAdminGC}, nil

	case path == "/api/garbage-collect/stats":
		if method != http.MethodGet {
			return nil, errMethodNotAllowed
		}
		return &Request{Kind: ReqAdminGCStats}, nil

	case path == "/api/blobs":
		if method != http.MethodGet {
			return nil, errMethodNotAllowed
		}
		return &Request{Kind: ReqAdminBlobsList}, nil
	}

	if rest, ok := strings.CutPrefix(path, "/v2/uploads/"); ok {
		return parseUploadLocation(method, rest, q)
	}

	repoPath, ok := strings.CutPrefix(path, "/v2/")
	if !ok {
		return nil, ocierr.New(ocierr.CodeNameUnknown, "unknown URL path")
	}

	if name, ok := cutSuffixEither(repoPath, "/blobs/uploads/", "/blobs/uploads"); ok {
		if method != http.MethodPost {
			return nil, errMethodNotAllowed
		}
		if err := ociref.ValidateRepository(name); err != nil {
			return nil, ocierr.New(ocierr.CodeNameInvalid, err.Error())
		}
		req := &Request{Kind: ReqBlobStartUpload, Repo: name}
		if d := q.Get("digest"); d != "" {
			if !ociref.IsValidDigest(d) {
				return nil, ocierr.New(ocierr.CodeDigestInvalid, "badly formed digest")
			}
			req.Digest = d
		}
		return req, nil
	}

	if name, last, ok := cutLastSegment(repoPath, "/blobs/"); ok {
		if err := ociref.ValidateRepository(name); err != nil {
			return nil, ocierr.New(ocierr.CodeNameInvalid, err.Error())
		}
		req := &Request{Repo: name}
		if ociref.IsValidDigest(last) {
			req.Digest = last
		} else if ociref.IsValidTag(last) {
			req.Tag = last
		} else {
			return nil, ocierr.New(ocierr.CodeDigestInvalid, "badly formed digest")
		}
		switch method {
		case http.MethodGet:
			req.Kind = ReqBlobGet
		case http.MethodHead:
			req.Kind = ReqBlobHead
		case http.MethodDelete:
			req.Kind = ReqBlobDelete
		default:
			return nil, errMethodNotAllowed
		}
		return req, nil
	}

	if name, last, ok := cutLastSegment(repoPath, "/manifests/"); ok {
		if err := ociref.ValidateRepository(name); err != nil {
			return nil, ocierr.New(ocierr.CodeNameInvalid, err.Error())
		}
		req := &Request{Repo: name}
		switch {
		case ociref.IsValidDigest(last):
			req.Digest = last
		case ociref.IsValidTag(last):
			req.Tag = last
		default:
			return nil, errNotFound
		}
		switch method {
		case http.MethodGet:
			req.Kind = ReqManifestGet
		case http.MethodHead:
			req.Kind = ReqManifestHead
		case http.MethodPut:
			req.Kind = ReqManifestPut
		case http.MethodDelete:
			req.Kind = ReqManifestDelete
		default:
			return nil, errMethodNotAllowed
		}
		return req, nil
	}

	if name, ok := strings.CutSuffix(repoPath, "/tags/list"); ok {
		if method != http.MethodGet {
			return nil, errMethodNotAllowed
		}
		if err := ociref.ValidateRepository(name); err != nil {
			return nil, ocierr.New(ocierr.CodeNameInvalid, err.Error())
		}
		req := &Request{Kind: ReqTagsList, Repo: name}
		setListParams(req, q)
		return req, nil
	}

	// Anything else under /v2/<name> with no recognized sentinel
	// segment is a whole-repository operation.
	if err := ociref.ValidateRepository(repoPath); err != nil {
		return nil, errNotFound
	}
	if method != http.MethodDelete {
		return nil, errMethodNotAllowed
	}
	return &Request{Kind: ReqRepositoryDelete, Repo: repoPath}, nil
}

func parseUploadLocation(method, rest string, q url.Values) (*Request, error) {
	sid, nstr, ok := strings.Cut(rest, "/")
	if !ok || sid == "" || nstr == "" {
		return nil, errNotFound
	}
	n, err := strconv.Atoi(nstr)
	if err != nil || n < 0 {
		return nil, badRequestf("invalid chunk number %q", nstr)
	}
	switch method {
	case http.MethodPatch:
		return &Request{Kind: ReqUploadChunk, SessionID: sid, ChunkNumber: n}, nil
	case http.MethodPut:
		d := q.Get("digest")
		if !ociref.IsValidDigest(d) {
			return nil, ocierr.New(ocierr.CodeDigestInvalid, "badly formed digest")
		}
		return &Request{Kind: ReqUploadComplete, SessionID: sid, ChunkNumber: n, Digest: d}, nil
	default:
		return nil, errMethodNotAllowed
	}
}

func setListParams(req *Request, q url.Values) {
	req.ListN = -1
	if nstr := q.Get("n"); nstr != "" {
		if n, err := strconv.Atoi(nstr); err == nil {
			req.ListN = n
		}
	}
	req.ListLast = q.Get("last")
}

// cutLastSegment splits s on the last occurrence of sep, returning the
// part before it as name and the part after it as last. It's used to pull
// the trailing reference segment (tag, digest, or "list") off a path
// while preserving "/"-containing repository names in the prefix.
func cutLastSegment(s, sep string) (name, last string, ok bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(sep):], true
}

func cutSuffixEither(s, suffix1, suffix2 string) (string, bool) {
	if name, ok := strings.CutSuffix(s, suffix1); ok {
		return name, true
	}
	return strings.CutSuffix(s, suffix2)
}
