package graphapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the computation API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("graph api %s %s: status=%d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("graph api %s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, body)
}

// Temporary reports whether the server signalled it did not process the request.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// transportError wraps failures below HTTP: timeouts, resets, DNS.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "graph api transport: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

// IsTransient separates retryable collaborator failures from application rejections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary() || apiErr.StatusCode >= 500
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}
