package settings

import "errors"

// Domain-specific errors for settings operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrKeyNotFound is returned when a requested key has never been
	// written.
	ErrKeyNotFound = errors.New("settings: key not found")
)
