// Package testutil provides testing utilities for the Spark client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MockSparkResponse defines the behavior for a mock Spark endpoint response.
type MockSparkResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSpark is a configurable mock Spark API server for testing.
type MockSpark struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	token    string

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	Requests          []string
}

// NewMockSpark creates a new mock Spark server.
func NewMockSpark() *MockSpark {
	mock := &MockSpark{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.Requests = append(mock.Requests, r.Method+" "+r.URL.RequestURI())

		// Track conditional requests
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		token := mock.token
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "The request requires a valid access token set in the Authorization request header."})
			return
		}

		if exists {
			handler(w, r)
			return
		}

		writeJSON(w, http.StatusNotFound, map[string]any{"message": "The requested resource could not be found."})
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSpark) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSpark) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSpark) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.Requests = nil
}

// RequireToken makes every request without "Bearer <token>" fail with 401.
func (m *MockSpark) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSpark) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSpark) SetResponse(path string, resp MockSparkResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves items at path the way Spark pages collections: the
// max query parameter sets the page size (default 100) and each page but the
// last links to the next one with rel="next".
func (m *MockSpark) SetCollection(path string, items []any) {
	m.SetHandler(path, CollectionHandler(m.URL(), items))
}

// CollectionHandler returns the paging handler used by SetCollection.
// baseURL prefixes the continuation links.
func CollectionHandler(baseURL string, items []any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		size, err := strconv.Atoi(q.Get("max"))
		if err != nil || size <= 0 {
			size = 100
		}
		cursor, _ := strconv.Atoi(q.Get("cursor"))
		if cursor < 0 || cursor > len(items) {
			cursor = len(items)
		}

		end := min(cursor+size, len(items))
		if end < len(items) {
			q.Set("max", strconv.Itoa(size))
			q.Set("cursor", strconv.Itoa(end))
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?%s>; rel="next"`, baseURL, r.URL.Path, q.Encode()))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items[cursor:end]})
	}
}

// SetRateLimited makes path answer 429 with the given Retry-After for the
// first n requests, then hands over to next.
func (m *MockSpark) SetRateLimited(path string, n int, retryAfter string, next http.HandlerFunc) {
	var seen atomic.Int32
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if int(seen.Add(1)) <= n {
			if retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"message": "Too Many Requests"})
			return
		}
		next(w, r)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSpark) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockSpark) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetRequests returns "METHOD /path?query" for every request so far.
func (m *MockSpark) GetRequests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Requests...)
}

// Items returns n numbered items shaped like Spark rooms.
func Items(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{"id": fmt.Sprintf("room-%03d", i), "title": fmt.Sprintf("Room %d", i)}
	}
	return items
}

// NewResourceResponse creates a 200 OK response with an ETag.
func NewResourceResponse(data string) MockSparkResponse {
	return MockSparkResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"ETag":         `"test-etag-123"`,
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewNoContentResponse creates a 204 No Content response.
func NewNoContentResponse() MockSparkResponse {
	return MockSparkResponse{StatusCode: http.StatusNoContent}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockSparkResponse {
	resp := MockSparkResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Too Many Requests"}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockSparkResponse {
	return MockSparkResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error", "trackingId": "ROUTER_TEST"}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewConditionalHandler creates a handler that responds with 304 for conditional requests.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")

		if r.Header.Get("If-None-Match") == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
