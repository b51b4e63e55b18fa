package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/spark-client/pkg/events"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

// Prometheus metrics for rate limit tracking.
var (
	sparkRateLimitBackoff = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spark_rate_limit_backoff_seconds",
		Help: "Length of the most recently recorded Spark backoff window",
	})

	sparkRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_rate_limit_waits_total",
		Help: "Total requests held back by a shared backoff window",
	})
)

// recordTimeout bounds the Redis write done from the observer hook.
const recordTimeout = 2 * time.Second

// recordScript increments the counter and only ever moves the backoff end
// forward, so concurrent writers cannot shorten an open window.
var recordScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[2])
local current = tonumber(redis.call('GET', KEYS[4]) or '0')
if tonumber(ARGV[3]) > current then
	redis.call('SET', KEYS[4], ARGV[3])
end
return count
`)

// Tracker records 429 responses in Redis and exposes the shared state.
// It implements events.Observer.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// GetState retrieves the current rate limit state from Redis.
// Returns a zero (healthy) state if nothing has been recorded.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	vals, err := t.redis.MGet(ctx, RedisKeyCount429, RedisKeyLast429, RedisKeyRetryAfter, RedisKeyBackoffUntil).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	var ints [4]int64
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected redis value %T", v)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse rate limit state: %w", err)
		}
		ints[i] = n
	}

	state := &RateLimitState{
		Count429:   ints[0],
		RetryAfter: time.Duration(ints[2]) * time.Millisecond,
	}
	if ints[1] > 0 {
		state.Last429At = time.UnixMilli(ints[1])
	}
	if ints[3] > 0 {
		state.BackoffUntil = time.UnixMilli(ints[3])
	}
	return state, nil
}

// Record stores one 429 that asked for retryAfter.
func (t *Tracker) Record(ctx context.Context, retryAfter time.Duration) error {
	now := t.now()
	until := now.Add(retryAfter)

	keys := []string{RedisKeyCount429, RedisKeyLast429, RedisKeyRetryAfter, RedisKeyBackoffUntil}
	count, err := recordScript.Run(ctx, t.redis, keys,
		now.UnixMilli(), retryAfter.Milliseconds(), until.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	sparkRateLimitBackoff.Set(retryAfter.Seconds())

	t.logger.Info().
		Int64("count_429", count).
		Dur("delay", retryAfter).
		Time("backoff_until", until).
		Msg("Spark rate limit recorded")
	return nil
}

// Reset clears the shared state.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, RedisKeyCount429, RedisKeyLast429, RedisKeyRetryAfter, RedisKeyBackoffUntil).Err(); err != nil {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	sparkRateLimitBackoff.Set(0)
	return nil
}

// Wait blocks while a shared backoff window is open and returns how long it
// waited. Redis failures are logged and do not block the request.
func (t *Tracker) Wait(ctx context.Context) (time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable, not waiting")
		return 0, nil
	}

	wait := state.BackoffUntil.Sub(t.now())
	if wait <= 0 {
		return 0, nil
	}

	sparkRateLimitWaitsTotal.Inc()
	t.logger.Warn().
		Dur("delay", wait).
		Int64("count_429", state.Count429).
		Msg("Shared backoff window open, holding request")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return wait, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Gate returns an executor that waits out any shared backoff window before
// calling next.
func (t *Tracker) Gate(next transport.Executor) transport.Executor {
	return transport.ExecutorFunc(func(ctx context.Context, d *transport.Descriptor) (*transport.Envelope, error) {
		if _, err := t.Wait(ctx); err != nil {
			return nil, &transport.TransportError{Method: d.Method, URL: d.URL, Err: err}
		}
		return next.Execute(ctx, d)
	})
}

func (t *Tracker) OnRequest(events.RequestEvent) {}

func (t *Tracker) OnQueued(events.QueuedEvent) {}

// OnRateLimited records the 429 behind e.
func (t *Tracker) OnRateLimited(e events.RateLimitedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := t.Record(ctx, e.Delay); err != nil {
		t.logger.Warn().Err(err).Str("url", e.URL).Msg("Failed to record rate limit")
	}
}
