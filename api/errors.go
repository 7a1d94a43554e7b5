package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Pipeline errors without payload.
var (
	ErrCancelled = errors.New("request cancelled")
	ErrNotHTTP   = errors.New("response was not a well-formed HTTP response")
	ErrNoResult  = errors.New("interceptor handled the request without a result")
)

// CancelledError is returned when a request never reached the network
// because a modify hook rejected it or its context was cancelled. Err
// carries the reason, for example oauth.ErrNoToken.
type CancelledError struct {
	RequestID uuid.UUID
	Err       error
}

func (e *CancelledError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("request %s cancelled", e.RequestID)
	}

	return fmt.Sprintf("request %s cancelled: %v", e.RequestID, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCancelled) match any CancelledError.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// StatusError is returned for a response outside 200-299 that no
// interceptor claimed.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s",
		e.Response.StatusCode, e.Response.URL, sanitizeBody(e.Response.Body))
}

// SerializationError is returned when a response body could not be
// decoded. The raw envelope is kept for diagnostics.
type SerializationError struct {
	Err      error
	Response *Response
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.Response.URL, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// TransportError wraps a network-layer failure: DNS, TLS, connection
// reset, timeout, or a truncated body.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is likely temporary and safe to retry:
// transport failures and 429/5xx responses.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return isTransientStatus(se.Response.StatusCode)
	}

	return false
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
