package source

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the source API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d on GET %s", e.StatusCode, e.Endpoint)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsSkippable reports whether err is a 403 or 404 on a single entity. Such
// entities are skipped with a warning rather than logged as errors.
func IsSkippable(err error) bool {
	code := StatusCode(err)
	return code == 403 || code == 404
}
