// Package reservation is the REST client for the seat reservation API.
// Every call is fire-and-await: the client never retries on its own and
// surfaces failures through the sentinel errors below so that callers
// can decide what a failure means for their local state.
package reservation

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNetwork is returned when the request never produced a usable
// response (dial failure, timeout, undecodable body).
var ErrNetwork = errors.New("reservation: network error")

// ErrAuth is returned when the credential is missing, expired or
// rejected.  Callers should ask the user to sign in again.
var ErrAuth = errors.New("reservation: authentication required")

// ErrConflict signals that the seat changed between the caller's last
// known state and server processing (HTTP 409).  It is a reconciliation
// trigger, not a transient failure.
var ErrConflict = errors.New("reservation: seat state conflict")

// ErrNotFound is returned when the referenced hold or screening no
// longer exists, typically because a hold already expired.
var ErrNotFound = errors.New("reservation: not found")

// ErrRejected covers every other non-2xx answer.
var ErrRejected = errors.New("reservation: request rejected")

// APIError describes a non-2xx response.  It unwraps to one of the
// sentinel errors so callers can use errors.Is.
type APIError struct {
	Status int    // HTTP status code
	Detail string // server supplied detail or message, may be empty
	kind   error
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v (status %d): %s", e.kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%v (status %d)", e.kind, e.Status)
}

func (e *APIError) Unwrap() error { return e.kind }

func NewAPIError(status int, detail string) *APIError {
	var kind error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = ErrAuth
	case http.StatusNotFound, http.StatusGone:
		kind = ErrNotFound
	case http.StatusConflict:
		kind = ErrConflict
	default:
		kind = ErrRejected
	}
	return &APIError{Status: status, Detail: detail, kind: kind}
}

// Detail returns the server supplied message carried by err, or the
// empty string when err is not an *APIError.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}
