package conversation

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/transport"
)

// Sentinel errors for the conversation package.
var (
	// ErrAlreadyActive indicates Start was called while a session runs.
	ErrAlreadyActive = errors.New("conversation: session already active")

	// ErrQuotaExceeded indicates the user has no conversation time left.
	ErrQuotaExceeded = errors.New("conversation: quota exceeded")

	// ErrInterrupted indicates Stop was called while Start was still
	// acquiring resources.
	ErrInterrupted = errors.New("conversation: start interrupted by stop")

	// ErrNothingToRetry indicates Retry was called before any Start.
	ErrNothingToRetry = errors.New("conversation: no previous session to retry")

	// ErrNoTransport indicates no transport factory is configured.
	ErrNoTransport = errors.New("conversation: transport is required")
)

// ErrorKind is the user-facing category of a session failure.
type ErrorKind string

const (
	KindMicrophone    ErrorKind = "microphone"
	KindNetwork       ErrorKind = "network"
	KindAIUnavailable ErrorKind = "aiUnavailable"
	KindQuotaExceeded ErrorKind = "quotaExceeded"
	KindUnknown       ErrorKind = "unknown"
)

// SessionError is a classified session failure.
type SessionError struct {
	Kind ErrorKind
	Err  error
}

func newSessionError(err error) *SessionError {
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	return &SessionError{Kind: Classify(err), Err: err}
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("conversation: %s error", e.Kind)
	}
	return fmt.Sprintf("conversation: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SessionError) Unwrap() error { return e.Err }

// Retryable reports whether Retry could succeed. Quota errors cannot
// resolve themselves by retrying.
func (e *SessionError) Retryable() bool { return e.Kind != KindQuotaExceeded }

// Message is the cause as plain text, for display.
func (e *SessionError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// MarshalJSON encodes the kind and cause for snapshots.
func (e *SessionError) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, `{"kind":%q,"message":%q,"retryable":%t}`, e.Kind, e.Message(), e.Retryable()), nil
}

// APIError is a failure reported by the realtime endpoint in an error event.
type APIError struct {
	// Type is the error category, e.g. "invalid_request_error".
	Type string

	// Code is the machine-readable code.
	Code string

	// Message is the human-readable error message.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("conversation: API error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("conversation: API error: %s", e.Message)
}

// NewAPIError converts a server error event.
func NewAPIError(ev protocol.ErrorEvent) *APIError {
	return &APIError{Type: ev.Error.Type, Code: ev.Error.Code, Message: ev.Error.Message}
}

// benignCodes are server errors caused by racing the server's own turn
// handling. They do not end the session.
var benignCodes = map[string]bool{
	"response_cancel_not_active":               true,
	"conversation_already_has_active_response": true,
	"input_audio_buffer_commit_empty":          true,
}

// IsBenign reports whether the server error can be ignored.
func (e *APIError) IsBenign() bool { return benignCodes[e.Code] }

// Classify maps an error to its ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, audioio.ErrPermissionDenied), errors.Is(err, audioio.ErrDeviceUnavailable):
		return KindMicrophone
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return KindAIUnavailable
	}

	var connErr *transport.ConnectionError
	var netErr net.Error
	switch {
	case errors.Is(err, transport.ErrFailed),
		errors.Is(err, transport.ErrNotConnected),
		errors.As(err, &connErr),
		errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}
	return KindUnknown
}

// IsQuotaExceeded reports whether err is a quota failure.
func IsQuotaExceeded(err error) bool {
	return Classify(err) == KindQuotaExceeded
}

// IsRetryable reports whether Retry could resolve err.
func IsRetryable(err error) bool {
	return err != nil && Classify(err) != KindQuotaExceeded
}
