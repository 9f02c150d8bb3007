package kuaidi100

import (
	"errors"
	"fmt"
)

// Sentinel errors. ProviderError and TransportError carry details and can be
// extracted with errors.As.
var (
	// ErrInvalidWaybill indicates the waybill number is empty or longer than 32 characters.
	ErrInvalidWaybill = errors.New("invalid waybill number")

	// ErrTransport indicates the HTTP call failed or returned a non-200 status.
	ErrTransport = errors.New("provider transport failure")

	// ErrProtocol indicates the provider answered with a body that is not valid JSON
	// or is a bare null.
	ErrProtocol = errors.New("malformed provider response")

	// ErrInvalidNotification indicates a push notification with missing or malformed fields.
	ErrInvalidNotification = errors.New("invalid notification")

	// ErrForgedNotification indicates a push notification whose signature does not match.
	ErrForgedNotification = errors.New("forged notification")
)

// ProviderError is a failure reported by the provider itself (result false or
// a returnCode other than "200"). Code and Message are passed through unmodified.
type ProviderError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("kuaidi100 error (%s): %s", e.Code, e.Message)
}

// Is matches another ProviderError with the same code. A target without a
// code matches any ProviderError.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// NewProviderError creates a ProviderError.
func NewProviderError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

// TransportError is a failed HTTP exchange with the provider.
type TransportError struct {
	Endpoint   string
	StatusCode int // zero when no response was received
	Cause      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("%s: %s: unexpected status %d", ErrTransport, e.Endpoint, e.StatusCode)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func protocolError(body []byte, cause error) error {
	const maxBody = 256
	snippet := string(body)
	if len(snippet) > maxBody {
		snippet = snippet[:maxBody] + "..."
	}
	return fmt.Errorf("%w: %v: %q", ErrProtocol, cause, snippet)
}

func invalidNotification(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidNotification, reason)
}
