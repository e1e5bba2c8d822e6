package footfall

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound matches a 404 from the API.
	ErrNotFound = errors.New("footfall: not found")
	// ErrMalformed marks a response body that failed validation.
	ErrMalformed = errors.New("footfall: malformed response")
)

// StatusError is a non-2xx response. It is never retried.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("%s %s: HTTP error! status: %d (%s)", e.Method, e.Path, e.Code, msg)
	}
	return fmt.Sprintf("%s %s: HTTP error! status: %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Message extracts the "error" or "message" field of a JSON error body.
func (e *StatusError) Message() string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(e.Body), &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(body.Message)
}

// RetryError is returned when every attempt failed at the transport level.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }
