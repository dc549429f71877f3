package session

import "errors"

var (
	// ErrNotFound is returned when no session exists for the given id.
	ErrNotFound = errors.New("session not found")

	// ErrNotOwner is returned when a caller-supplied owner id does not match
	// the session's owner.
	ErrNotOwner = errors.New("owner id mismatch")

	// ErrNotResumable is returned when a session's owner has been inactive
	// past the resume horizon.
	ErrNotResumable = errors.New("session can no longer be resumed")
)
