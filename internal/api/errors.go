package api

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies API failures so callers can decide what is retryable or fatal.
type Kind string

const (
	KindAuth      Kind = "auth"       // 401/403: bad or missing service account
	KindRateLimit Kind = "rate_limit" // 429 after all retries
	KindQuery     Kind = "query"      // 4xx: the request itself is invalid
	KindServer    Kind = "server"     // 5xx or circuit open
	KindTransport Kind = "transport"  // network failure, malformed response
)

// Error is returned by every Client call that fails.
type Error struct {
	Kind       Kind
	Endpoint   string
	Status     int           // HTTP status, 0 when no response was received
	Message    string        // server supplied message when available
	RetryAfter time.Duration // set for KindRateLimit when the server sent Retry-After
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s %s error (HTTP %d): %s", e.Endpoint, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Endpoint, e.Kind, msg)
}

// Unwrap returns the underlying error to support errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// As extracts an *Error from the error chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func isKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

func IsAuth(err error) bool      { return isKind(err, KindAuth) }
func IsRateLimit(err error) bool { return isKind(err, KindRateLimit) }
func IsQuery(err error) bool     { return isKind(err, KindQuery) }
func IsServer(err error) bool    { return isKind(err, KindServer) }
