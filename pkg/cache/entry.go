package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/spark-client/pkg/transport"
)

// CacheEntry represents a cached Spark response envelope.
type CacheEntry struct {
	// Data is the JSON-encoded response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`

	// LastModified is when the data was last modified (from last-modified header)
	LastModified time.Time `json:"last_modified"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the lower-cased response headers
	Headers map[string]string `json:"headers"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Envelope rebuilds the response envelope stored in the entry.
func (e *CacheEntry) Envelope() (*transport.Envelope, error) {
	var body any
	if err := json.Unmarshal(e.Data, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	headers := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = v
	}
	return &transport.Envelope{Status: e.StatusCode, Headers: headers, Body: body}, nil
}

// EnvelopeToEntry converts a response envelope to a CacheEntry that expires
// after ttl, or at the response's expires header when that is later.
func EnvelopeToEntry(env *transport.Envelope, ttl time.Duration) (*CacheEntry, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}

	data, err := json.Marshal(env.Body)
	if err != nil {
		return nil, fmt.Errorf("encode response body: %w", err)
	}

	headers := make(map[string]string, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = v
	}

	now := time.Now()
	entry := &CacheEntry{
		Data:       data,
		ETag:       env.Headers["etag"],
		Expires:    parseExpires(env.Headers, now.Add(ttl)),
		StatusCode: env.Status,
		Headers:    headers,
		CachedAt:   now,
	}
	if raw := env.Headers["last-modified"]; raw != "" {
		if lastMod, err := http.ParseTime(raw); err == nil {
			entry.LastModified = lastMod
		}
	}
	return entry, nil
}

// parseExpires returns the expires header time when it is later than
// fallback, otherwise fallback.
func parseExpires(headers map[string]string, fallback time.Time) time.Time {
	raw := headers["expires"]
	if raw == "" {
		return fallback
	}
	expires, err := http.ParseTime(raw)
	if err != nil || expires.Before(fallback) {
		return fallback
	}
	return expires
}
