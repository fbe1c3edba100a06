package provider

import (
	"fmt"
	"time"
)

// CodeTimeout is the Code of a *TimeoutError.
const CodeTimeout = "ETIMEDOUT"

const maxSnippetLength = 500

// RequestError is a non-2xx provider response.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider request failed (%d): %s", e.StatusCode, snippet(e.Body))
}

// StreamError is an error event embedded in a 2xx response.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// TimeoutError is returned when the per-turn timeout fires before the
// response completes.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider request timed out after %dms", e.Timeout.Milliseconds())
}

// Code identifies the error kind for retry decisions.
func (e *TimeoutError) Code() string {
	return CodeTimeout
}

// NetworkError wraps a failure to reach the provider at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("provider request failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func snippet(body string) string {
	runes := []rune(body)
	if len(runes) > maxSnippetLength {
		return string(runes[:maxSnippetLength])
	}
	return body
}
