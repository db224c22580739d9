// Package repository defines the Redis-backed stores used by the gateway
// and the sentinel errors they return.  Handlers translate these into
// HTTP responses.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// checkout owned by someone else.  Handlers should translate this into an
// HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrHandoffNotFound is returned when a checkout token is unknown or its
// holds have already expired.  Handlers should translate this into an
// HTTP 404 response.
var ErrHandoffNotFound = errors.New("checkout not found")
