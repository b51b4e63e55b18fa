package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/scheduler"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

// ErrNotCollection is returned by List when the endpoint answered with a
// single resource or an empty response.
var ErrNotCollection = errors.New("response is not a collection")

// ConfigurationError reports an invalid or missing configuration value.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx and other unexpected statuses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents exhausted 429 retries.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassResponse represents malformed responses.
	ErrorClassResponse ErrorClass = "response"

	// ErrorClassCancelled represents caller cancellation or a closed client.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassLimit represents a configured page limit being hit.
	ErrorClassLimit ErrorClass = "limit"

	// ErrorClassConfig represents configuration errors.
	ErrorClassConfig ErrorClass = "config"
)

// ClassifyError categorizes an error returned by the client for logging and
// for mapping to a response status.
func ClassifyError(err error) ErrorClass {
	var (
		httpErr   *classify.HTTPError
		structErr *classify.StructuralError
		transErr  *transport.TransportError
		confErr   *ConfigurationError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &confErr):
		return ErrorClassConfig
	case errors.Is(err, context.Canceled), errors.Is(err, scheduler.ErrClosed):
		return ErrorClassCancelled
	case errors.Is(err, scheduler.ErrRetryExhausted):
		return ErrorClassRateLimit
	case errors.Is(err, scheduler.ErrPageLimit):
		return ErrorClassLimit
	case errors.As(err, &httpErr):
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return ErrorClassClient
		}
		return ErrorClassServer
	case errors.As(err, &structErr), errors.Is(err, ErrNotCollection):
		return ErrorClassResponse
	case errors.As(err, &transErr), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassNetwork
	default:
		return ErrorClassServer
	}
}
