package cache

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/spark-client/pkg/transport"
)

// DefaultTTL is how long a stored response stays revalidatable when the
// response has no later expires header.
const DefaultTTL = 5 * time.Minute

// Executor wraps another executor with a Redis response cache for GET
// requests. Cache failures are logged and the request goes through
// uncached.
type Executor struct {
	next    transport.Executor
	manager *Manager
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewExecutor returns a caching executor. A non-positive ttl uses DefaultTTL.
func NewExecutor(next transport.Executor, manager *Manager, ttl time.Duration, logger zerolog.Logger) *Executor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Executor{next: next, manager: manager, ttl: ttl, logger: logger}
}

// Execute performs d, revalidating a stored response when one exists.
func (e *Executor) Execute(ctx context.Context, d *transport.Descriptor) (*transport.Envelope, error) {
	if d.Method != "" && d.Method != http.MethodGet {
		return e.next.Execute(ctx, d)
	}

	key := KeyFor(d)
	entry, err := e.manager.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			e.logger.Warn().Err(err).Str("url", d.URL).Msg("Cache lookup failed, fetching directly")
		}
		entry = nil
	}

	req := d
	if ShouldMakeConditionalRequest(entry) {
		req = d.Clone()
		AddConditionalHeaders(req, entry)
		ConditionalRequests.Inc()
		e.logger.Debug().Str("url", d.URL).Str("etag", entry.ETag).Msg("Sending conditional request")
	}

	env, err := e.next.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case env.Status == http.StatusNotModified && entry != nil:
		return e.revalidated(ctx, key, entry, d)
	case env.Status == http.StatusOK && (env.Headers["etag"] != "" || env.Headers["last-modified"] != ""):
		e.store(ctx, key, env, d)
	}
	return env, nil
}

// revalidated serves the stored envelope after a 304 and extends its life.
func (e *Executor) revalidated(ctx context.Context, key CacheKey, entry *CacheEntry, d *transport.Descriptor) (*transport.Envelope, error) {
	NotModifiedResponses.Inc()

	cached, err := entry.Envelope()
	if err != nil {
		return nil, &transport.TransportError{Method: d.Method, URL: d.URL, Err: err}
	}

	if err := e.manager.UpdateTTL(ctx, key, time.Now().Add(e.ttl)); err != nil {
		e.logger.Warn().Err(err).Str("url", d.URL).Msg("Failed to refresh cache entry")
	}
	e.logger.Debug().Str("url", d.URL).Msg("Not modified, serving cached response")
	return cached, nil
}

func (e *Executor) store(ctx context.Context, key CacheKey, env *transport.Envelope, d *transport.Descriptor) {
	entry, err := EnvelopeToEntry(env, e.ttl)
	if err == nil {
		err = e.manager.Set(ctx, key, entry)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("url", d.URL).Msg("Failed to cache response")
		return
	}
	e.logger.Debug().Str("url", d.URL).Dur("ttl", entry.TTL()).Msg("Response cached")
}

// ShouldMakeConditionalRequest determines if we should add conditional
// request headers (If-None-Match or If-Modified-Since) based on the cache entry.
func ShouldMakeConditionalRequest(entry *CacheEntry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the descriptor if the cache entry supports conditional requests.
func AddConditionalHeaders(d *transport.Descriptor, entry *CacheEntry) {
	if entry == nil || d == nil {
		return
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		d.SetHeader("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		d.SetHeader("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}
