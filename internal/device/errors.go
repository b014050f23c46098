package device

import "errors"

// Domain-specific errors for device registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceExists is returned when adding a device the user already
	// has.
	ErrDeviceExists = errors.New("device: already registered")

	// ErrDeviceNotFound is returned when an operation targets a device
	// the user does not have.
	ErrDeviceNotFound = errors.New("device: not found")
)
