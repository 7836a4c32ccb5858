package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for backend responses. A *StatusError wraps one of the
// status sentinels, so callers match with errors.Is.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrUnprocessable     = errors.New("unprocessable document")
	ErrServer            = errors.New("server error")
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoEndpoint        = errors.New("backend endpoint not configured")
)

// StatusError is returned for every non-2xx response.
type StatusError struct {
	StatusCode int
	// Message is suitable for showing to the person who submitted the file.
	Message string
	// Body is the start of the response body, for logs.
	Body string
	Err  error
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("backend responded %d: %v", e.StatusCode, e.Err)
}

// Unwrap returns the underlying error
func (e *StatusError) Unwrap() error {
	return e.Err
}

func newStatusError(code int, body string) *StatusError {
	e := &StatusError{StatusCode: code, Body: body}
	switch code {
	case http.StatusUnauthorized:
		e.Err = ErrUnauthorized
		e.Message = "Your session has expired. Please sign in again."
	case http.StatusRequestEntityTooLarge:
		e.Err = ErrPayloadTooLarge
		e.Message = "The file is too large for the server to accept."
	case http.StatusUnprocessableEntity:
		e.Err = ErrUnprocessable
		e.Message = "The server could not process this document."
	case http.StatusInternalServerError:
		e.Err = ErrServer
		e.Message = "The server encountered an error. Please try again later."
	default:
		e.Err = ErrUnexpectedStatus
		e.Message = fmt.Sprintf("Upload failed with status %d.", code)
	}
	return e
}

// UserMessage returns the message to show for err: the StatusError message
// when there is one, otherwise a network message naming the innermost cause.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Message
	}
	if errors.Is(err, ErrMalformedResponse) {
		return "The server returned an unreadable response."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Network error: the upload timed out."
	}
	cause := err
	for next := errors.Unwrap(cause); next != nil; next = errors.Unwrap(cause) {
		cause = next
	}
	return "Network error: " + cause.Error()
}
