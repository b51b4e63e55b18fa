package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/spark-client/pkg/logging"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// scanBatch is the SCAN page size used by Purge and Count.
const scanBatch = 200

// Manager stores Spark response envelopes in Redis under KeyPrefix.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: logging.NewLogger("cache"),
	}
}

// Get returns the live entry for key and counts a hit or miss.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	entry, err := m.load(ctx, key)
	switch {
	case errors.Is(err, ErrCacheMiss):
		CacheMisses.Inc()
	case err == nil:
		CacheHits.WithLabelValues("redis").Inc()
	}
	return entry, err
}

// load reads and decodes an entry without touching hit/miss metrics.
// Expired or corrupt entries are removed and reported as a miss or
// ErrInvalidEntry.
func (m *Manager) load(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		m.discard(ctx, key, "corrupt")
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		m.discard(ctx, key, "expired")
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// discard deletes an unusable entry. A failure is logged; the entry is still
// reported as unusable to the caller.
func (m *Manager) discard(ctx context.Context, key CacheKey, reason string) {
	if err := m.Delete(ctx, key); err != nil {
		m.logger.Warn().
			Err(err).
			Str("key", key.String()).
			Str("reason", reason).
			Msg("Failed to delete cache entry")
	}
}

// Set stores entry until its Expires time. Entries that are already
// expired are skipped.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheLastEntrySize.WithLabelValues("redis").Set(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// UpdateTTL moves the expiry of an existing entry to newExpires. Used after
// a 304 Not Modified revalidates the entry; the lookup is not counted as a
// cache hit.
func (m *Manager) UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error {
	entry, err := m.load(ctx, key)
	if err != nil {
		return err
	}
	entry.Expires = newExpires
	entry.CachedAt = time.Now()
	return m.Set(ctx, key, entry)
}

// Purge removes every cached Spark response and reports how many keys were
// deleted. Rate-limit state lives under a different prefix and is kept.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	removed := 0
	err := m.scan(ctx, func(keys []string) error {
		n, err := m.redis.Del(ctx, keys...).Result()
		removed += int(n)
		return err
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return removed, fmt.Errorf("purge cache: %w", err)
	}
	return removed, nil
}

// Count returns the number of cached Spark responses.
func (m *Manager) Count(ctx context.Context) (int, error) {
	total := 0
	err := m.scan(ctx, func(keys []string) error {
		total += len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return total, nil
}

// scan calls fn with each non-empty batch of cache keys.
func (m *Manager) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, KeyPrefix+":*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
