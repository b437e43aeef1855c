// Package errs defines the domain-level error taxonomy shared by every
// component of the sync engine. The router maps these to protocol error
// codes; components return them wrapped with context:
//
//	return fmt.Errorf("%w: message content is empty", errs.ErrValidation)
//
// Callers test with errors.Is, never by string comparison.
package errs

import "errors"

var (
	// ErrValidation marks malformed input: empty content, oversized or
	// invalid emoji, a reply targeting a message in a different chat.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization marks a permission failure: the requester is not a
	// chat participant, not the message sender, or the edit/delete window
	// has expired.
	ErrAuthorization = errors.New("not authorized")

	// ErrBlocked marks a send rejected because a block relationship
	// exists between the two participants, in either direction.
	ErrBlocked = errors.New("blocked")

	// ErrNotFound marks an unknown chat, message, or user.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks a transient store failure. The operation was
	// aborted before any fan-out; the client may retry.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// Code returns the protocol error code for an error, based on which
// sentinel it wraps. Unknown errors are reported as internal.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAuthorization):
		return "authorization_error"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}
