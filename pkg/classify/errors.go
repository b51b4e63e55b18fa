package classify

import (
	"errors"
	"fmt"
)

// Structural failure kinds, usable with errors.Is on a *StructuralError.
var (
	// ErrInvalidResponse is returned when no envelope was produced at all.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrInvalidHeaders is returned when the header map is missing.
	ErrInvalidHeaders = errors.New("invalid response headers")

	// ErrInvalidBody is returned when the body is not a JSON object.
	ErrInvalidBody = errors.New("invalid response body")
)

// StructuralError reports an envelope that cannot be classified.
type StructuralError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error for %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StructuralError) Unwrap() error {
	return e.Err
}

// HTTPError is a terminal response status other than 200, 204 or 429.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       map[string]any
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if msg, ok := e.Body["message"].(string); ok && msg != "" {
		return fmt.Sprintf("request received http error %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("request received http error %d", e.StatusCode)
}
