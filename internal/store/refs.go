package store

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/nscr/registry/internal/ocierr"
)

// manifestSkeleton captures just enough of a manifest body's shape to
// find every digest it refers to, across the four media types §4.3
// requires support for: Docker V2 manifest, OCI image manifest, OCI
// image index, and Docker manifest list. All four share the same
// config/layers/manifests field names, differing only in mediaType.
type manifestSkeleton struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType"`
	Config        *struct {
		Digest string `json:"digest"`
	} `json:"config"`
	Layers []struct {
		Digest string `json:"digest"`
	} `json:"layers"`
	Manifests []struct {
		Digest string `json:"digest"`
	} `json:"manifests"`
}

// blobDigestsForManifest JSON-decodes body and collects config.digest,
// each layers[*].digest, and for index/list manifests each
// manifests[*].digest, rejecting anything that isn't a well-formed
// "algorithm:hex" digest with a recognized algorithm.
func blobDigestsForManifest(body []byte) (mediaType string, digests []string, err error) {
	var m manifestSkeleton
	if err := json.Unmarshal(body, &m); err != nil {
		return "", nil, ocierr.New(ocierr.CodeManifestInvalid, fmt.Sprintf("invalid manifest JSON: %v", err))
	}
	mediaType = m.MediaType
	if mediaType == "" {
		return "", nil, ocierr.New(ocierr.CodeManifestInvalid, "manifest is missing mediaType")
	}

	add := func(d string) error {
		if err := digest.Digest(d).Validate(); err != nil {
			return ocierr.New(ocierr.CodeDigestInvalid, fmt.Sprintf("manifest references malformed digest %q: %v", d, err))
		}
		digests = append(digests, d)
		return nil
	}
	if m.Config != nil && m.Config.Digest != "" {
		if err := add(m.Config.Digest); err != nil {
			return "", nil, err
		}
	}
	for _, l := range m.Layers {
		if err := add(l.Digest); err != nil {
			return "", nil, err
		}
	}
	for _, c := range m.Manifests {
		if err := add(c.Digest); err != nil {
			return "", nil, err
		}
	}
	return mediaType, digests, nil
}
