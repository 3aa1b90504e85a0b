package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	// ErrNotConnected indicates Send was called without a live connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live transport.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrFailed indicates reconnect attempts were exhausted or the peer
	// connection failed. Only a new Connect leaves this state.
	ErrFailed = errors.New("transport: connection failed")

	// ErrNoNegotiator indicates Connect was called without a Negotiator.
	ErrNoNegotiator = errors.New("transport: negotiator is required")

	// ErrNoMedia indicates the peer variant was connected without a MediaSource.
	ErrNoMedia = errors.New("transport: media source is required")
)

// ConnectionError represents a dial, signaling or write failure.
type ConnectionError struct {
	// Reason describes what failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnecting could help.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transport: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause, Retryable: retryable}
}

// IsRetryable returns true if the error is a retryable connection error.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}
