package util

import (
	"io"
	"net/http"
	"time"
)

// MaxErrorBodySize limits how much of an error response body is kept for messages.
const MaxErrorBodySize = 64 * 1024

// ReadBodyForError reads at most MaxErrorBodySize bytes of an error response body.
// It never fails; a placeholder is returned when the body cannot be read.
func ReadBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, MaxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == MaxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// DefaultHTTPClient creates an http.Client with the given timeout.
// Exports of large date ranges stream for minutes, so callers usually pass a generous value.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32, // one per fetch worker is plenty
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
