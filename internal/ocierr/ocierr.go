// Package ocierr defines the error taxonomy used across the registry: a
// small set of OCI-distribution error codes, each carrying the HTTP status
// it maps to, plus the JSON envelope the protocol handlers write on the
// wire.
package ocierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the error codes defined by the OCI distribution spec,
// e.g. "BLOB_UNKNOWN", "DIGEST_INVALID".
type Code string

const (
	CodeBlobUnknown       Code = "BLOB_UNKNOWN"
	CodeBlobUploadInvalid Code = "BLOB_UPLOAD_INVALID"
	CodeBlobUploadUnknown Code = "BLOB_UPLOAD_UNKNOWN"
	CodeDigestInvalid     Code = "DIGEST_INVALID"
	CodeManifestBlobUnknown Code = "MANIFEST_BLOB_UNKNOWN"
	CodeManifestInvalid   Code = "MANIFEST_INVALID"
	CodeManifestUnknown   Code = "MANIFEST_UNKNOWN"
	CodeNameInvalid       Code = "NAME_INVALID"
	CodeNameUnknown       Code = "NAME_UNKNOWN"
	CodeSizeInvalid       Code = "SIZE_INVALID"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeDenied            Code = "DENIED"
	CodeUnsupported       Code = "UNSUPPORTED"
	CodeRangeInvalid      Code = "RANGE_INVALID"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeInternal          Code = "INTERNAL"
)

// statusForCode gives the HTTP status that each code implies, following
// the OCI distribution spec's error-code table. Codes absent from this map
// fall back to the status carried by the originating error, or 500.
var statusForCode = map[Code]int{
	CodeBlobUnknown:         http.StatusNotFound,
	CodeBlobUploadInvalid:   http.StatusRequestedRangeNotSatisfiable,
	CodeBlobUploadUnknown:   http.StatusNotFound,
	CodeDigestInvalid:       http.StatusBadRequest,
	CodeManifestBlobUnknown: http.StatusBadRequest,
	CodeManifestInvalid:     http.StatusBadRequest,
	CodeManifestUnknown:     http.StatusNotFound,
	CodeNameInvalid:         http.StatusBadRequest,
	CodeNameUnknown:         http.StatusNotFound,
	CodeSizeInvalid:         http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeDenied:              http.StatusForbidden,
	CodeUnsupported:         http.StatusBadRequest,
	CodeRangeInvalid:        http.StatusRequestedRangeNotSatisfiable,
	CodeUnavailable:         http.StatusServiceUnavailable,
	CodeInternal:            http.StatusInternalServerError,
}

// Error is a registry-domain error carrying an OCI error code and
// optional structured detail. Stores and handlers construct these at the
// point an operation fails; they are never swallowed.
type Error struct {
	msg    string
	code   Code
	detail any
}

// New returns an Error with the given message and code.
func New(code Code, msg string) *Error {
	return &Error{msg: msg, code: code}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, a ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, a...), code: code}
}

// WithDetail attaches structured detail that will be marshaled into the
// wire error's "detail" field.
func (e *Error) WithDetail(detail any) *Error {
	e2 := *e
	e2.detail = detail
	return &e2
}

func (e *Error) Error() string { return e.msg }

// Code reports the OCI error code for e.
func (e *Error) Code() Code { return e.code }

// Detail reports the structured detail attached to e, if any.
func (e *Error) Detail() any { return e.detail }

// HTTPError wraps an error with an explicit HTTP status, used for
// failures that carry no OCI error code of their own (for example
// "method not allowed" or "page not found"). The status does not override
// the one implied by a known Code on the wrapped error; see StatusFor.
type HTTPError struct {
	err        error
	statusCode int
}

// WithStatus wraps err so that StatusFor reports statusCode unless a
// known Code on err implies a different one.
func WithStatus(err error, statusCode int) *HTTPError {
	return &HTTPError{err: err, statusCode: statusCode}
}

func (e *HTTPError) Error() string { return e.err.Error() }
func (e *HTTPError) Unwrap() error { return e.err }
func (e *HTTPError) StatusCode() int { return e.statusCode }

// StatusFor determines the HTTP status that should be written for err. A
// Code known to statusForCode always wins over an explicit HTTPError
// status, so that the status written is always consistent with the wire
// error code.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if status, ok := statusForCode[e.code]; ok {
			return status
		}
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// WireError is the JSON shape of a single error in an OCI distribution
// error response.
type WireError struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// WireErrors is the envelope the OCI distribution spec requires for all
// error responses: {"errors": [...]}.
type WireErrors struct {
	Errors []WireError `json:"errors"`
}

// ToWire converts err into the wire representation the distribution spec
// expects, defaulting to code "UNKNOWN" for errors with no registered
// Code, matching the behavior of widely deployed registries.
func ToWire(err error) WireError {
	we := WireError{Message: err.Error(), Code: "UNKNOWN"}
	var e *Error
	if errors.As(err, &e) {
		we.Code = e.code
		if e.detail != nil {
			if data, marshalErr := json.Marshal(e.detail); marshalErr == nil {
				we.Detail = data
			}
		}
	}
	return we
}

// Is404 reports whether err denotes a not-found condition, used by
// handlers that need to distinguish "absent" from other failures without
// a type switch.
func Is404(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.code {
	case CodeBlobUnknown, CodeBlobUploadUnknown, CodeManifestUnknown, CodeNameUnknown:
		return true
	}
	return false
}
