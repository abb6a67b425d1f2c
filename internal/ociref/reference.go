// Package ociref validates the repository names, tags, and digests that
// appear in registry requests.
//
// The regular expressions below are derived from the pattern used by
// [github.com/distribution/distribution/v3/reference], trimmed to the
// single-registry grammar this server accepts: no host component, because
// requests always name a repository local to this registry.
package ociref

import (
	"fmt"
	"regexp"

	"github.com/opencontainers/go-digest"
)

const (
	alphanumeric  = `[a-z0-9]+`
	separator     = `[._-]`
	pathComponent = alphanumeric + `(?:` + separator + alphanumeric + `)*`

	// repoName matches one or more slash-delimited path components,
	// e.g. "library/ubuntu".
	repoNamePattern = pathComponent + `(?:/` + pathComponent + `)*`

	// tagPattern follows docker/distribution's tag grammar: a word
	// character followed by word characters, dots, or dashes, up to
	// 128 characters.
	tagPattern = `[a-zA-Z0-9_][a-zA-Z0-9_.-]{0,127}`
)

var (
	repoNameRE = regexp.MustCompile(`^` + repoNamePattern + `$`)
	tagRE      = regexp.MustCompile(`^` + tagPattern + `$`)
)

// MaxRepositoryLength is the longest repository name this registry will
// accept.
const MaxRepositoryLength = 255

// ValidateRepository reports whether name is a syntactically valid
// repository name.
func ValidateRepository(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("repository name is empty")
	}
	if len(name) > MaxRepositoryLength {
		return fmt.Errorf("repository name too long")
	}
	if !repoNameRE.MatchString(name) {
		return fmt.Errorf("invalid repository name %q", name)
	}
	return nil
}

// IsValidRepository reports whether name is a syntactically valid
// repository name.
func IsValidRepository(name string) bool {
	return ValidateRepository(name) == nil
}

// ValidateTag reports whether tag is a syntactically valid tag name.
func ValidateTag(tag string) error {
	if !tagRE.MatchString(tag) {
		return fmt.Errorf("invalid tag %q", tag)
	}
	return nil
}

// IsValidTag reports whether tag is a syntactically valid tag name.
func IsValidTag(tag string) bool {
	return ValidateTag(tag) == nil
}

// ValidateDigest reports whether d parses as an "algorithm:hex" digest
// with a recognized algorithm.
func ValidateDigest(d string) error {
	return digest.Digest(d).Validate()
}

// IsValidDigest reports whether d parses as an "algorithm:hex" digest
// with a recognized algorithm.
func IsValidDigest(d string) bool {
	return ValidateDigest(d) == nil
}

// IsReference reports whether ref is a syntactically valid tag-or-digest
// reference, i.e. the form accepted after "<name>/manifests/" or after
// "<name>/blobs/" in registry request paths.
func IsReference(ref string) bool {
	return IsValidDigest(ref) || IsValidTag(ref)
}
