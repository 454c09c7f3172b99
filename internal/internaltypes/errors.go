package internaltypes

import "errors"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	// ErrConfiguration is fatal to startup. Nothing is scheduled after it.
	ErrConfiguration = errors.New("configuration error")
	// ErrPersistence marks session store I/O failures. The attempt treats it as an auth failure.
	ErrPersistence = errors.New("persistence error")
	// ErrAuth means the session could not be validated or renewed.
	ErrAuth = errors.New("authentication failure")
	// ErrConflict means another actor took the slot.
	ErrConflict = errors.New("conflict")
	// ErrTransient covers timeouts and unexpected page state.
	ErrTransient = errors.New("transient error")
)
