package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/scheduler"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "configuration", err: &ConfigurationError{Field: "token", Message: "token not defined"}, expected: ErrorClassConfig},
		{name: "not found", err: &classify.HTTPError{StatusCode: 404}, expected: ErrorClassClient},
		{name: "unauthorized", err: &classify.HTTPError{StatusCode: 401}, expected: ErrorClassClient},
		{name: "internal server error", err: &classify.HTTPError{StatusCode: 500}, expected: ErrorClassServer},
		{name: "unexpected redirect", err: &classify.HTTPError{StatusCode: 302}, expected: ErrorClassServer},
		{name: "retries exhausted", err: fmt.Errorf("GET /rooms: %w", scheduler.ErrRetryExhausted), expected: ErrorClassRateLimit},
		{name: "page limit", err: scheduler.ErrPageLimit, expected: ErrorClassLimit},
		{name: "closed", err: scheduler.ErrClosed, expected: ErrorClassCancelled},
		{name: "cancelled", err: context.Canceled, expected: ErrorClassCancelled},
		{name: "structural", err: &classify.StructuralError{URL: "/rooms", Err: classify.ErrInvalidBody}, expected: ErrorClassResponse},
		{name: "not a collection", err: ErrNotCollection, expected: ErrorClassResponse},
		{name: "transport", err: &transport.TransportError{Method: "GET", URL: "/rooms", Err: errors.New("connection refused")}, expected: ErrorClassNetwork},
		{name: "deadline", err: context.DeadlineExceeded, expected: ErrorClassNetwork},
		{name: "unknown", err: errors.New("boom"), expected: ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestConfigurationError_Error(t *testing.T) {
	err := &ConfigurationError{Field: "token", Message: "token not defined"}
	if got, want := err.Error(), "invalid configuration: token: token not defined"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
