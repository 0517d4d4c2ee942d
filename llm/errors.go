package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers network failures and timeouts.
	ErrTransport = errors.New("transport error")
	// ErrStatus is returned for non-2xx responses; see StatusError.
	ErrStatus = errors.New("unexpected status")
	// ErrMalformedResponse means the body was not the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError carries the HTTP status and the provider's error message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %s", e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}
