package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches any APIError with HTTP 404.
	ErrNotFound = errors.New("not found")
	// ErrInvalidResponse marks a 2xx response whose body is malformed or lacks a required field.
	ErrInvalidResponse = errors.New("invalid response")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets callers match 404s with errors.Is(err, ErrNotFound).
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// StatusCode extracts the HTTP status of an APIError in err's chain; 0 otherwise.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
