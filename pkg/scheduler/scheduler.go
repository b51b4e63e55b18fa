// Package scheduler spaces outbound Spark requests and drives each logical
// request to completion: it honors 429 retry delays and follows continuation
// pages until the requested cap is met.
//
// A request is dispatched immediately when the minimum spacing has elapsed
// since the previous hand-off and nothing is queued; otherwise it waits in a
// FIFO queue drained once per spacing interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/events"
	"github.com/Sternrassler/spark-client/pkg/logging"
	"github.com/Sternrassler/spark-client/pkg/pagination"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

// DefaultDelay is the minimum spacing between dispatches.
const DefaultDelay = 600 * time.Millisecond

var (
	// ErrClosed is returned for requests submitted to, or still waiting in,
	// a closed scheduler.
	ErrClosed = errors.New("scheduler closed")

	// ErrRetryExhausted is returned when MaxRateLimitRetries 429s were honored
	// and the server still answers 429.
	ErrRetryExhausted = errors.New("rate limit retries exhausted")

	// ErrPageLimit is returned with the items gathered so far when a chain
	// would need more than MaxPages pages.
	ErrPageLimit = errors.New("page limit reached")

	// ErrNilDescriptor is returned when Submit is called without a request.
	ErrNilDescriptor = errors.New("nil request descriptor")
)

// Config holds the scheduler configuration.
type Config struct {
	// Delay is the minimum spacing between dispatches and the queue drain
	// interval.
	Delay time.Duration

	// PageSize replaces the caller's max parameter on the wire.
	PageSize int

	// DefaultRetryAfter applies to a 429 without a retry-after header.
	DefaultRetryAfter time.Duration

	// MaxPages limits the pages fetched per request chain (0 = unbounded).
	MaxPages int

	// MaxRateLimitRetries limits consecutive 429 retries per round (0 = unbounded).
	MaxRateLimitRetries int

	// Clock defaults to the real clock.
	Clock Clock

	// Observer receives request, queued and rate-limited events.
	Observer events.Observer

	// Logger defaults to the "scheduler" component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Delay:             DefaultDelay,
		PageSize:          pagination.DefaultPageSize,
		DefaultRetryAfter: classify.DefaultRetryAfter,
	}
}

// Scheduler owns the throttle state for one client.
type Scheduler struct {
	exec       transport.Executor
	classifier classify.Classifier
	cfg        Config
	clock      Clock
	observer   events.Observers
	logger     zerolog.Logger
	queue      *Queue

	// lastDispatch is the unix-nano time of the last hand-off; zero means
	// nothing was handed off yet.
	lastDispatch atomic.Int64

	// launched is closed when the most recently started round enters the
	// executor. Each round waits for its predecessor's channel.
	launchMu sync.Mutex
	launched chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// New returns a Scheduler dispatching through exec.
func New(exec transport.Executor, cfg Config) *Scheduler {
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pagination.DefaultPageSize
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}

	logger := logging.NewLogger("scheduler")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	classifier := classify.New(cfg.DefaultRetryAfter)
	classifier.Now = cfg.Clock.Now

	s := &Scheduler{
		exec:       exec,
		classifier: classifier,
		cfg:        cfg,
		clock:      cfg.Clock,
		observer:   events.Multi(cfg.Observer),
		logger:     logger,
		done:       make(chan struct{}),
		launched:   make(chan struct{}),
	}
	close(s.launched)
	s.queue = NewQueue(cfg.Delay, s.start, s.observer, logger.With().Str("component", "queue").Logger())
	return s
}

// Submit runs d to completion: throttled dispatch, 429 retries and page
// continuation. d itself is not modified.
//
// Cancelling ctx stops the caller from waiting in the queue or during a retry
// delay. A round already handed to the executor runs to completion.
func (s *Scheduler) Submit(ctx context.Context, d *transport.Descriptor) (classify.Result, error) {
	if d == nil {
		return classify.Result{}, ErrNilDescriptor
	}

	cur := d.Clone()
	if cur.ID == "" {
		cur.ID = uuid.NewString()
	}
	if cur.Method == "" {
		cur.Method = http.MethodGet
	}
	pagination.CaptureCap(cur, s.cfg.PageSize)

	logger := s.logger.With().Str("request_id", cur.ID).Str("method", cur.Method).Logger()

	pages, retries := 1, 0
	for {
		v, err := s.round(ctx, cur)
		if err != nil {
			sparkChainsTotal.WithLabelValues("fail").Inc()
			return classify.Result{}, err
		}

		switch v.Action {
		case classify.Done:
			sparkChainsTotal.WithLabelValues("done").Inc()
			logger.Debug().
				Str("url", cur.URL).
				Str("kind", string(v.Result.Kind)).
				Int("items", len(v.Result.Items)).
				Int("pages", pages).
				Msg("Request completed")
			return v.Result, nil

		case classify.Fail:
			sparkChainsTotal.WithLabelValues("fail").Inc()
			logger.Error().Err(v.Err).Str("url", cur.URL).Int("status", v.Status).Msg("Request failed")
			return classify.Result{}, v.Err

		case classify.Retry:
			retries++
			if s.cfg.MaxRateLimitRetries > 0 && retries > s.cfg.MaxRateLimitRetries {
				sparkChainsTotal.WithLabelValues("fail").Inc()
				return classify.Result{}, fmt.Errorf("%w: %d consecutive 429 responses for %s", ErrRetryExhausted, retries, cur.URL)
			}
			if err := s.waitRetry(ctx, cur, v.Delay, logger); err != nil {
				sparkChainsTotal.WithLabelValues("fail").Inc()
				return classify.Result{}, err
			}

		case classify.NextPage:
			retries = 0
			if s.cfg.MaxPages > 0 && pages >= s.cfg.MaxPages {
				sparkChainsTotal.WithLabelValues("fail").Inc()
				items := pagination.Truncate(v.Next.Items, v.Next.MaxResults)
				return classify.Collection(items), fmt.Errorf("%w: stopped after %d pages with %d items", ErrPageLimit, pages, len(items))
			}
			pages++
			sparkPagesTotal.Inc()
			logger.Debug().
				Str("url", v.Next.URL).
				Int("items", len(v.Next.Items)).
				Int("cap", v.Next.MaxResults).
				Msg("Following next page")
			cur = v.Next
		}
	}
}

// round hands d to the executor, either immediately or through the queue,
// and waits for the verdict.
func (s *Scheduler) round(ctx context.Context, d *transport.Descriptor) (classify.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return classify.Verdict{}, err
	}
	if s.isClosed() {
		return classify.Verdict{}, ErrClosed
	}

	if s.admit() {
		return s.start(d)(), nil
	}

	select {
	case v := <-s.queue.Enqueue(d):
		return v, nil
	case <-ctx.Done():
		return classify.Verdict{}, ctx.Err()
	}
}

// admit decides the lane for one round and records the hand-off time on
// both lanes. The read and the write are not atomic together, so two
// racing callers may both be admitted.
func (s *Scheduler) admit() bool {
	now := s.clock.Now().UnixNano()
	elapsed := time.Duration(now - s.lastDispatch.Load())
	immediate := elapsed > s.cfg.Delay && s.queue.Len() == 0
	s.lastDispatch.Store(now)
	return immediate
}

// start emits the request event and launches the executor call for d. The
// returned function waits for the classified verdict. Executor calls begin
// in request event order.
func (s *Scheduler) start(d *transport.Descriptor) func() classify.Verdict {
	s.launchMu.Lock()
	s.observer.OnRequest(events.RequestEvent{
		RequestID: d.ID,
		Method:    d.Method,
		URL:       d.URL,
		Headers:   d.Headers,
		Body:      d.Body,
	})
	prev := s.launched
	turn := make(chan struct{})
	s.launched = turn
	s.launchMu.Unlock()

	verdict := make(chan classify.Verdict, 1)
	go func() {
		<-prev
		verdict <- s.dispatch(d, turn)
	}()
	return func() classify.Verdict { return <-verdict }
}

// dispatch closes turn, performs one executor call and classifies the
// envelope.
func (s *Scheduler) dispatch(d *transport.Descriptor, turn chan struct{}) classify.Verdict {
	start := time.Now()
	close(turn)
	env, err := s.exec.Execute(context.Background(), d)
	status := 0
	if env != nil {
		status = env.Status
	}
	s.observer.OnResponse(events.ResponseEvent{
		RequestID: d.ID,
		Method:    d.Method,
		URL:       d.URL,
		Status:    status,
		Duration:  time.Since(start),
		Err:       err,
	})

	if err != nil {
		var te *transport.TransportError
		if !errors.As(err, &te) {
			err = &transport.TransportError{Method: d.Method, URL: d.URL, Err: err}
		}
		return classify.Failed(err)
	}
	return s.classifier.Classify(env, d)
}

// waitRetry emits the rate-limited event and sleeps for delay.
func (s *Scheduler) waitRetry(ctx context.Context, d *transport.Descriptor, delay time.Duration, logger zerolog.Logger) error {
	if delay > 0 {
		s.observer.OnRateLimited(events.RateLimitedEvent{
			RequestID: d.ID,
			Method:    d.Method,
			URL:       d.URL,
			Headers:   d.Headers,
			Body:      d.Body,
			Delay:     delay,
		})
		logger.Warn().Str("url", d.URL).Dur("delay", delay).Msg("Rate limit exceeded, request delayed")
	} else {
		delay = 0
	}

	select {
	case <-s.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// QueueLen returns the number of requests waiting in the queue.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}

// Close rejects queued and future requests with ErrClosed and waits for
// in-flight dispatches to finish.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.queue.Close()
}

func (s *Scheduler) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
