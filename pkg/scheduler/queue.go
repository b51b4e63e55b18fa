package scheduler

import (
	"sync"
	"time"

	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/events"
	"github.com/Sternrassler/spark-client/pkg/transport"
	"github.com/rs/zerolog"
)

// minInterval bounds the drain ticker; time.NewTicker rejects zero.
const minInterval = time.Millisecond

// DispatchFunc starts one round for a queued descriptor and returns a
// function that waits for its verdict. The start runs on the drain
// goroutine, so rounds start in queue order; only the wait is concurrent.
type DispatchFunc func(d *transport.Descriptor) func() classify.Verdict

type entry struct {
	d    *transport.Descriptor
	done chan classify.Verdict
}

// Queue holds requests that must wait for their turn. A drain ticker runs
// only while the queue is non-empty: it starts on the first insert and stops
// on the first tick that finds nothing to do. Every tick hands the head
// entry to the dispatch function.
type Queue struct {
	interval time.Duration
	dispatch DispatchFunc
	observer events.Observer
	logger   zerolog.Logger

	mu      sync.Mutex
	entries []entry
	ticker  *time.Ticker
	stop    chan struct{}
	closed  bool

	// wg tracks the drain loop and in-flight dispatches.
	wg sync.WaitGroup
}

// NewQueue returns an idle queue that drains one entry per interval.
func NewQueue(interval time.Duration, dispatch DispatchFunc, observer events.Observer, logger zerolog.Logger) *Queue {
	if interval < minInterval {
		interval = minInterval
	}
	if observer == nil {
		observer = events.Nop{}
	}
	return &Queue{
		interval: interval,
		dispatch: dispatch,
		observer: observer,
		logger:   logger,
	}
}

// Enqueue appends d and returns a channel that receives exactly one verdict.
// After Close the verdict is an immediate ErrClosed failure.
func (q *Queue) Enqueue(d *transport.Descriptor) <-chan classify.Verdict {
	done := make(chan classify.Verdict, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- classify.Failed(ErrClosed)
		return done
	}
	q.entries = append(q.entries, entry{d: d, done: done})
	depth := len(q.entries)
	q.startLocked()
	q.mu.Unlock()

	sparkQueueDepth.Inc()
	q.observer.OnQueued(events.QueuedEvent{
		RequestID: d.ID,
		Method:    d.Method,
		URL:       d.URL,
		Headers:   d.Headers,
		Body:      d.Body,
		Depth:     depth,
	})
	q.logger.Debug().
		Str("request_id", d.ID).
		Str("url", d.URL).
		Int("depth", depth).
		Msg("Queue item added")

	return done
}

// startLocked starts the drain ticker if it is not running.
func (q *Queue) startLocked() {
	if q.ticker != nil {
		return
	}
	q.ticker = time.NewTicker(q.interval)
	q.stop = make(chan struct{})
	q.wg.Add(1)
	go q.run(q.ticker, q.stop)
}

func (q *Queue) run(t *time.Ticker, stop <-chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !q.tick(t) {
				return
			}
		}
	}
}

// tick dispatches the head entry. It reports false once the queue is empty,
// in which case the ticker has been stopped.
func (q *Queue) tick(t *time.Ticker) bool {
	q.mu.Lock()
	if q.closed || len(q.entries) == 0 {
		if q.ticker == t {
			q.ticker = nil
			q.stop = nil
		}
		q.mu.Unlock()
		t.Stop()
		q.logger.Debug().Msg("Queue drained, ticker stopped")
		return false
	}

	head := q.entries[0]
	q.entries[0] = entry{}
	q.entries = q.entries[1:]
	depth := len(q.entries)
	q.wg.Add(1)
	q.mu.Unlock()

	sparkQueueDepth.Dec()
	q.logger.Debug().
		Str("request_id", head.d.ID).
		Str("url", head.d.URL).
		Int("depth", depth).
		Msg("Queue item processed")

	wait := q.dispatch(head.d)
	go func() {
		defer q.wg.Done()
		head.done <- wait()
	}()
	return true
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Running reports whether the drain ticker is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ticker != nil
}

// Close stops the ticker, fails every waiting entry with ErrClosed and waits
// for dispatches already handed off to finish. It is safe to call twice.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	pending := q.entries
	q.entries = nil
	if q.ticker != nil {
		q.ticker.Stop()
		close(q.stop)
		q.ticker = nil
		q.stop = nil
	}
	q.mu.Unlock()

	for _, e := range pending {
		sparkQueueDepth.Dec()
		e.done <- classify.Failed(ErrClosed)
	}
	q.wg.Wait()
}
