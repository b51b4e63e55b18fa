// Package client provides the Spark API client: bearer authentication,
// throttled dispatch, transparent 429 handling and page aggregation, with
// optional Redis-backed shared rate-limit state and response caching.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/spark-client/pkg/cache"
	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/events"
	"github.com/Sternrassler/spark-client/pkg/logging"
	"github.com/Sternrassler/spark-client/pkg/pagination"
	"github.com/Sternrassler/spark-client/pkg/ratelimit"
	"github.com/Sternrassler/spark-client/pkg/scheduler"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

// DefaultBaseURL is the Spark API root.
const DefaultBaseURL = "https://api.ciscospark.com/v1"

// TokenEnv is read by DefaultConfig when no token is given.
const TokenEnv = "SPARK_TOKEN"

// Client is the main Spark client.
type Client struct {
	sched   *scheduler.Scheduler
	tracker *ratelimit.Tracker
	cache   *cache.Manager
	baseURL *url.URL
	config  Config
	logger  zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Token is the Spark access token sent as "Authorization: Bearer <token>" (REQUIRED)
	Token string

	// BaseURL is prefixed to relative request paths.
	BaseURL string

	// UserAgent header, optional.
	UserAgent string

	// Throttling
	Delay    time.Duration // Minimum spacing between dispatches
	MaxRPS   float64       // Hard requests-per-second ceiling under the executor (0 = off)
	PageSize int           // Page size sent on the wire when a max is requested

	// 429 handling
	DefaultRetryAfter   time.Duration // Used when a 429 carries no retry-after
	MaxRateLimitRetries int           // Consecutive 429s tolerated per round (0 = unbounded)

	// Pagination
	MaxPages int // Pages fetched per request (0 = unbounded)

	// Timeout for each single network call.
	RequestTimeout time.Duration

	// Redis enables shared rate-limit state, and the response cache when
	// CacheTTL is positive.
	Redis    *redis.Client
	CacheTTL time.Duration

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Executor replaces the HTTP executor entirely.
	Executor transport.Executor

	// Observers receive request, queued and rate-limited events in addition
	// to the built-in logging and metrics observers.
	Observers []events.Observer

	// Clock overrides the scheduler clock.
	Clock scheduler.Clock
}

// DefaultConfig returns a safe default configuration. An empty token falls
// back to the SPARK_TOKEN environment variable.
func DefaultConfig(token string) Config {
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	return Config{
		Token:             token,
		BaseURL:           DefaultBaseURL,
		Delay:             scheduler.DefaultDelay,
		PageSize:          pagination.DefaultPageSize,
		DefaultRetryAfter: classify.DefaultRetryAfter,
		RequestTimeout:    transport.DefaultTimeout,
	}
}

// New creates a new Spark client.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, &ConfigurationError{Field: "base_url", Message: fmt.Sprintf("%q is not an absolute http(s) URL", cfg.BaseURL)}
	}

	logger := logging.NewLogger("spark-client")

	c := &Client{
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}

	exec := cfg.Executor
	if exec == nil {
		exec = transport.NewHTTPExecutor(c.httpClient())
	}

	observers := []events.Observer{
		events.NewLogObserver(logging.NewLogger("events")),
		events.NewMetricsObserver(),
	}

	if cfg.Redis != nil {
		c.tracker = ratelimit.NewTracker(cfg.Redis, logging.NewLogger("ratelimit"))
		exec = c.tracker.Gate(exec)
		observers = append(observers, c.tracker)

		if cfg.CacheTTL > 0 {
			c.cache = cache.NewManager(cfg.Redis)
			exec = cache.NewExecutor(exec, c.cache, cfg.CacheTTL, logging.NewLogger("cache"))
		}
	}
	observers = append(observers, cfg.Observers...)

	schedLogger := logging.NewLogger("scheduler")
	c.sched = scheduler.New(exec, scheduler.Config{
		Delay:               cfg.Delay,
		PageSize:            cfg.PageSize,
		DefaultRetryAfter:   cfg.DefaultRetryAfter,
		MaxPages:            cfg.MaxPages,
		MaxRateLimitRetries: cfg.MaxRateLimitRetries,
		Clock:               cfg.Clock,
		Observer:            events.Multi(observers...),
		Logger:              &schedLogger,
	})

	return c, nil
}

func (cfg Config) validate() error {
	switch {
	case cfg.Token == "":
		return &ConfigurationError{Field: "token", Message: "token not defined"}
	case cfg.Delay < 0:
		return &ConfigurationError{Field: "delay", Message: "must be >= 0"}
	case cfg.PageSize < 0:
		return &ConfigurationError{Field: "page_size", Message: "must be >= 0"}
	case cfg.DefaultRetryAfter < 0:
		return &ConfigurationError{Field: "default_retry_after", Message: "must be >= 0"}
	case cfg.RequestTimeout < 0:
		return &ConfigurationError{Field: "request_timeout", Message: "must be >= 0"}
	case cfg.MaxPages < 0:
		return &ConfigurationError{Field: "max_pages", Message: "must be >= 0"}
	case cfg.MaxRateLimitRetries < 0:
		return &ConfigurationError{Field: "max_rate_limit_retries", Message: "must be >= 0"}
	case cfg.MaxRPS < 0:
		return &ConfigurationError{Field: "max_rps", Message: "must be >= 0"}
	case cfg.CacheTTL > 0 && cfg.Redis == nil:
		return &ConfigurationError{Field: "redis", Message: "required when cache_ttl is set"}
	}
	return nil
}

// httpClient builds the client used by the HTTP executor, with the
// requests-per-second ceiling underneath when configured.
func (c *Client) httpClient() *http.Client {
	hc := c.config.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if c.config.MaxRPS <= 0 {
		return hc
	}
	throttled := *hc
	throttled.Transport = transport.NewThrottledTransport(c.config.MaxRPS, 1, hc.Transport)
	return &throttled
}

// Submit runs a prepared descriptor through the scheduler. Relative URLs
// are resolved against BaseURL and the standard headers are added when
// missing.
func (c *Client) Submit(ctx context.Context, d *transport.Descriptor) (classify.Result, error) {
	if d == nil {
		return classify.Result{}, scheduler.ErrNilDescriptor
	}
	res, err := c.sched.Submit(ctx, c.prepare(d))
	if err != nil {
		c.logger.Debug().
			Err(err).
			Str("method", d.Method).
			Str("url", d.URL).
			Str("error_class", string(ClassifyError(err))).
			Msg("Spark request failed")
	}
	return res, err
}

// Do sends method to path with an optional JSON body.
func (c *Client) Do(ctx context.Context, method, path string, body any) (classify.Result, error) {
	return c.Submit(ctx, &transport.Descriptor{Method: method, URL: path, Body: body})
}

// Get fetches path.
func (c *Client) Get(ctx context.Context, path string) (classify.Result, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// List fetches up to max items of the collection at path, following pages
// as needed. A non-positive max returns the first page only.
func (c *Client) List(ctx context.Context, path string, max int) ([]any, error) {
	if max > 0 {
		path = withMax(path, max)
	}
	res, err := c.Get(ctx, path)
	if err != nil {
		return res.Items, err
	}
	if res.Kind != classify.KindCollection {
		return nil, fmt.Errorf("%w: %s returned %s", ErrNotCollection, path, res.Kind)
	}
	return res.Items, nil
}

// withMax sets the max query parameter on path.
func withMax(path string, max int) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	for key := range q {
		if strings.EqualFold(key, pagination.MaxParam) {
			q.Del(key)
		}
	}
	q.Set(pagination.MaxParam, strconv.Itoa(max))
	u.RawQuery = q.Encode()
	return u.String()
}

// prepare returns a copy of d ready for dispatch.
func (c *Client) prepare(d *transport.Descriptor) *transport.Descriptor {
	p := d.Clone()
	if p.Method == "" {
		p.Method = http.MethodGet
	}
	p.URL = c.resolve(p.URL)
	if p.Timeout == 0 {
		p.Timeout = c.config.RequestTimeout
	}

	setDefault(p, "Authorization", "Bearer "+c.config.Token)
	setDefault(p, "Accept", "application/json")
	if p.Body != nil {
		setDefault(p, "Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		setDefault(p, "User-Agent", c.config.UserAgent)
	}
	return p
}

// resolve joins a relative path onto the base URL. Absolute URLs, such as
// continuation links, pass through unchanged.
func (c *Client) resolve(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	path, query, _ := strings.Cut(raw, "?")
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query
	return u.String()
}

func setDefault(d *transport.Descriptor, name, value string) {
	for k := range d.Headers {
		if strings.EqualFold(k, name) {
			return
		}
	}
	d.SetHeader(name, value)
}

// Tracker returns the shared rate-limit tracker, or nil without Redis.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// Cache returns the response cache manager, or nil when caching is off.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// QueueLen returns the number of requests waiting for their turn.
func (c *Client) QueueLen() int {
	return c.sched.QueueLen()
}

// Close rejects waiting requests and waits for in-flight calls. The Redis
// client is owned by the caller and left open.
func (c *Client) Close() error {
	c.sched.Close()
	return nil
}
