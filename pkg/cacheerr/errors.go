// Package cacheerr is the structured error taxonomy shared by the cache,
// fetch, auth, and upstream layers. It is deliberately small: the kinds
// below are exactly the ones named in the node's error handling design,
// not a speculative catch-all.
package cacheerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies the source and propagation rule of an error.
type Kind string

const (
	// KindIO covers filesystem and network failures; surfaced as 500, logged.
	KindIO Kind = "IO_ERROR"
	// KindParse covers filename/integer/URI parse failures.
	KindParse Kind = "PARSE_ERROR"
	// KindUpstream covers dispatcher or peer HTTP failures during a fill attempt.
	KindUpstream Kind = "UPSTREAM_ERROR"
	// KindBadRequest covers auth failures and missing/malformed request fields.
	KindBadRequest Kind = "BAD_REQUEST"
	// KindNotFound covers missing artifacts and exhausted upstream candidates.
	KindNotFound Kind = "NOT_FOUND"
	// KindUnsupportedProtocol covers URI schemes the upstream client can't dial.
	KindUnsupportedProtocol Kind = "UNSUPPORTED_PROTOCOL"
	// KindInvalidURI covers malformed upstream URIs.
	KindInvalidURI Kind = "INVALID_URI"
	// KindBadResponse covers RPC responses that fail to decode.
	KindBadResponse Kind = "BAD_RESPONSE"
	// KindIncompleteCertFile covers a PKCS12 bundle missing key, cert, or chain.
	KindIncompleteCertFile Kind = "INCOMPLETE_CERT_FILE"
)

// Error wraps a Kind with an optional message and cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error carrying no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error around an existing cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap supports errors.Is/errors.As over the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, ignoring message and cause.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

// HTTPStatus maps a Kind to the status code the node's routes return.
// Everything not explicitly a client-facing kind surfaces as 500.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest, KindParse:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus is a convenience accessor over the error's own Kind, falling
// back to 500 for any error that isn't one of ours.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
