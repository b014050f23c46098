package session

import "errors"

// Domain-specific errors for session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidDeviceID is returned when a device id does not normalise
	// to four hexadecimal characters. Invalid ids never reach the broker.
	ErrInvalidDeviceID = errors.New("session: invalid device id")

	// ErrConnectFailed is returned when a connect attempt fails after
	// exhausting the protocol-version fallback.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrNotConnected is returned when an operation requires a live
	// connection and none is available.
	ErrNotConnected = errors.New("session: not connected")

	// ErrReconnectExhausted is reported through the error callback when
	// the reconnect attempt cap is reached within one disconnection run.
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")

	// ErrResolveBroker is returned when the broker parameters cannot be
	// read from the configuration source.
	ErrResolveBroker = errors.New("session: resolving broker parameters")
)
