// Package events defines the observer hooks the scheduler calls while a
// request moves through it: before each dispatch, when a request is queued,
// and when a 429 is honored.
package events

import (
	"strings"
	"time"
)

// RequestEvent is emitted right before a descriptor is handed to the executor.
// Headers and Body are the live request values and must not be modified.
type RequestEvent struct {
	RequestID string
	Method    string
	URL       string
	Headers   map[string]string
	Body      any
}

// QueuedEvent is emitted every time a request is added to the queue.
type QueuedEvent struct {
	RequestID string
	Method    string
	URL       string
	Headers   map[string]string
	Body      any

	// Depth is the queue length including this request.
	Depth int
}

// RateLimitedEvent is emitted once per 429 whose delay is positive.
type RateLimitedEvent struct {
	RequestID string
	Method    string
	URL       string
	Headers   map[string]string
	Body      any

	// Delay is how long the request waits before it is resubmitted.
	Delay time.Duration
}

// ResponseEvent describes the outcome of one executor call.
type ResponseEvent struct {
	RequestID string
	Method    string
	URL       string

	// Status is zero when Err is a transport failure.
	Status   int
	Duration time.Duration
	Err      error
}

// Observer receives scheduler events. Calls happen on the goroutine doing
// the work, so implementations must be quick and safe for concurrent use.
type Observer interface {
	OnRequest(RequestEvent)
	OnQueued(QueuedEvent)
	OnRateLimited(RateLimitedEvent)
}

// ResponseObserver is implemented by observers that also want per-call
// outcomes.
type ResponseObserver interface {
	OnResponse(ResponseEvent)
}

// Nop ignores every event.
type Nop struct{}

func (Nop) OnRequest(RequestEvent)         {}
func (Nop) OnQueued(QueuedEvent)           {}
func (Nop) OnRateLimited(RateLimitedEvent) {}

// Funcs adapts optional functions to Observer and ResponseObserver.
// Nil fields are skipped.
type Funcs struct {
	Request     func(RequestEvent)
	Queued      func(QueuedEvent)
	RateLimited func(RateLimitedEvent)
	Response    func(ResponseEvent)
}

func (f Funcs) OnRequest(e RequestEvent) {
	if f.Request != nil {
		f.Request(e)
	}
}

func (f Funcs) OnQueued(e QueuedEvent) {
	if f.Queued != nil {
		f.Queued(e)
	}
}

func (f Funcs) OnRateLimited(e RateLimitedEvent) {
	if f.RateLimited != nil {
		f.RateLimited(e)
	}
}

func (f Funcs) OnResponse(e ResponseEvent) {
	if f.Response != nil {
		f.Response(e)
	}
}

// Observers fans every event out to each member in order.
type Observers []Observer

// Multi combines observers, dropping nils and flattening nested Observers.
func Multi(obs ...Observer) Observers {
	out := make(Observers, 0, len(obs))
	for _, o := range obs {
		switch v := o.(type) {
		case nil:
		case Observers:
			out = append(out, v...)
		default:
			out = append(out, o)
		}
	}
	return out
}

func (m Observers) OnRequest(e RequestEvent) {
	for _, o := range m {
		o.OnRequest(e)
	}
}

func (m Observers) OnQueued(e QueuedEvent) {
	for _, o := range m {
		o.OnQueued(e)
	}
}

func (m Observers) OnRateLimited(e RateLimitedEvent) {
	for _, o := range m {
		o.OnRateLimited(e)
	}
}

func (m Observers) OnResponse(e ResponseEvent) {
	for _, o := range m {
		if ro, ok := o.(ResponseObserver); ok {
			ro.OnResponse(e)
		}
	}
}

// sensitiveHeaders are masked by Redact.
var sensitiveHeaders = []string{"authorization", "cookie", "set-cookie"}

// Redact returns a copy of headers with credential values masked.
func Redact(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
		for _, s := range sensitiveHeaders {
			if strings.EqualFold(k, s) {
				out[k] = redactValue(v)
				break
			}
		}
	}
	return out
}

// redactValue keeps the auth scheme so logs still show "Bearer ...".
func redactValue(v string) string {
	if scheme, _, ok := strings.Cut(v, " "); ok {
		return scheme + " [REDACTED]"
	}
	return "[REDACTED]"
}
