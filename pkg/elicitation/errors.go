package elicitation

import "errors"

var (
	// ErrNotFound is returned when responding to an unknown, already
	// resolved, or expired request id.
	ErrNotFound = errors.New("elicitation request not found")

	// ErrInvalidAction is returned for actions outside accept/decline/cancel.
	ErrInvalidAction = errors.New("invalid elicitation action")

	// ErrInvalidContent is returned when an accept response does not satisfy
	// the requested schema.
	ErrInvalidContent = errors.New("elicitation content does not match requested schema")

	// ErrExpired is returned to the waiting tool call when no response
	// arrived before the deadline.
	ErrExpired = errors.New("elicitation request expired")
)
