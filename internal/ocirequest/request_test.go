package ocirequest

import (
	"net/http"
	"net/url"
	"testing"
)

func mustParse(t *testing.T, method, rawurl string) *Request {
	t.Helper()
	u, err := url.Parse(rawurl)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", rawurl, err)
	}
	req, err := Parse(method, u)
	if err != nil {
		t.Fatalf("Parse(%q, %q): %v", method, rawurl, err)
	}
	return req
}

func TestParsePing(t *testing.T) {
	req := mustParse(t, http.MethodGet, "/v2/")
	if req.Kind != ReqPing {
		t.Errorf("Kind = %v, want ReqPing", req.Kind)
	}
}

func TestParseStartUpload(t *testing.T) {
	req := mustParse(t, http.MethodPost, "/v2/alpine/blobs/uploads/")
	if req.Kind != ReqBlobStartUpload || req.Repo != "alpine" {
		t.Errorf("got %+v", req)
	}
}

func TestParseUploadChunkAndComplete(t *testing.T) {
	req := mustParse(t, http.MethodPatch, "/v2/uploads/abc123/0")
	if req.Kind != ReqUploadChunk || req.SessionID != "abc123" || req.ChunkNumber != 0 {
		t.Errorf("got %+v", req)
	}
	req = mustParse(t, http.MethodPut, "/v2/uploads/abc123/1?digest=sha256:"+sha256Zero)
	if req.Kind != ReqUploadComplete || req.ChunkNumber != 1 || req.Digest == "" {
		t.Errorf("got %+v", req)
	}
}

func TestParseBlobGet(t *testing.T) {
	req := mustParse(t, http.MethodGet, "/v2/library/ubuntu/blobs/sha256:"+sha256Zero)
	if req.Kind != ReqBlobGet || req.Repo != "library/ubuntu" {
		t.Errorf("got %+v", req)
	}
}

func TestParseManifestPut(t *testing.T) {
	req := mustParse(t, http.MethodPut, "/v2/alpine/manifests/latest")
	if req.Kind != ReqManifestPut || req.Repo != "alpine" || req.Tag != "latest" {
		t.Errorf("got %+v", req)
	}
}

func TestParseTagsList(t *testing.T) {
	req := mustParse(t, http.MethodGet, "/v2/alpine/tags/list")
	if req.Kind != ReqTagsList || req.Repo != "alpine" {
		t.Errorf("got %+v", req)
	}
}

func TestParseRepositoryDelete(t *testing.T) {
	req := mustParse(t, http.MethodDelete, "/v2/alpine")
	if req.Kind != ReqRepositoryDelete || req.Repo != "alpine" {
		t.Errorf("got %+v", req)
	}
}

func TestParseAdmin(t *testing.T) {
	req := mustParse(t, http.MethodPost, "/api/garbage-collect")
	if req.Kind != ReqAdminGC {
		t.Errorf("got %+v", req)
	}
	req = mustParse(t, http.MethodGet, "/api/garbage-collect/stats")
	if req.Kind != ReqAdminGCStats {
		t.Errorf("got %+v", req)
	}
}

func TestParseMethodNotAllowed(t *testing.T) {
	u, _ := url.Parse("/v2/alpine/tags/list")
	if _, err := Parse(http.MethodPost, u); err == nil {
		t.Errorf("expected error for POST on tags/list")
	}
}

const sha256Zero = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
