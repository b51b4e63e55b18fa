// Package classify interprets one response envelope for the request that
// produced it. The outcome is a Verdict: finish with a result, fail, retry
// the same request after a delay, or continue with the next page.
package classify

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/spark-client/pkg/pagination"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

// DefaultRetryAfter applies to a 429 without a usable retry-after header.
const DefaultRetryAfter = 15 * time.Second

// RetryAfterHeader is matched literally against the envelope header names.
const RetryAfterHeader = "retry-after"

// maxRetryAfterSeconds is the largest delay a time.Duration can hold.
const maxRetryAfterSeconds = float64(math.MaxInt64 / int64(time.Second))

// ItemsField is the body field holding a collection page.
const ItemsField = "items"

// Action is what the driver should do next.
type Action int

const (
	// Done ends the chain with Verdict.Result.
	Done Action = iota

	// Fail ends the chain with Verdict.Err.
	Fail

	// Retry resubmits the same descriptor after Verdict.Delay.
	Retry

	// NextPage submits Verdict.Next.
	NextPage
)

// String returns the action name used in logs and metrics.
func (a Action) String() string {
	switch a {
	case Done:
		return "done"
	case Fail:
		return "fail"
	case Retry:
		return "retry"
	case NextPage:
		return "next_page"
	default:
		return "unknown"
	}
}

// Kind describes the shape of a successful result.
type Kind string

const (
	KindEmpty      Kind = "empty"
	KindCollection Kind = "collection"
	KindResource   Kind = "resource"
)

// Result is the value delivered to the caller.
type Result struct {
	Kind     Kind
	Items    []any
	Resource map[string]any
}

// Collection wraps items as a collection result. Items is never nil.
func Collection(items []any) Result {
	if items == nil {
		items = []any{}
	}
	return Result{Kind: KindCollection, Items: items}
}

// Verdict is the classification of one round.
type Verdict struct {
	Action Action
	Result Result
	Err    error
	Delay  time.Duration
	Next   *transport.Descriptor
	Status int
}

// Failed builds a Fail verdict.
func Failed(err error) Verdict {
	return Verdict{Action: Fail, Err: err}
}

// Classifier holds the classification settings.
type Classifier struct {
	// DefaultRetryAfter is used for 429 responses without retry-after.
	DefaultRetryAfter time.Duration

	// Now resolves HTTP-date retry-after values. Defaults to time.Now.
	Now func() time.Time
}

// New returns a Classifier using defaultRetryAfter, or DefaultRetryAfter
// when it is not positive.
func New(defaultRetryAfter time.Duration) Classifier {
	if defaultRetryAfter <= 0 {
		defaultRetryAfter = DefaultRetryAfter
	}
	return Classifier{DefaultRetryAfter: defaultRetryAfter, Now: time.Now}
}

// Classify validates env and decides the next step for d. It does not modify
// d; a continuation is returned as a new descriptor.
func (c Classifier) Classify(env *transport.Envelope, d *transport.Descriptor) Verdict {
	if env == nil {
		return Failed(&StructuralError{URL: d.URL, Err: ErrInvalidResponse})
	}

	status := env.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if env.Headers == nil {
		return Failed(&StructuralError{URL: d.URL, Err: ErrInvalidHeaders})
	}
	body, ok := env.Body.(map[string]any)
	if !ok || body == nil {
		return Failed(&StructuralError{URL: d.URL, Err: ErrInvalidBody})
	}

	var v Verdict
	switch status {
	case http.StatusNoContent:
		v = Verdict{Action: Done, Result: Result{Kind: KindEmpty}}
	case http.StatusTooManyRequests:
		v = Verdict{Action: Retry, Delay: c.retryAfter(env.Headers)}
	case http.StatusOK:
		if items, ok := body[ItemsField].([]any); ok {
			v = c.page(env.Headers, d, items)
		} else {
			v = Verdict{Action: Done, Result: Result{Kind: KindResource, Resource: body}}
		}
	default:
		v = Failed(&HTTPError{StatusCode: status, URL: d.URL, Body: body})
	}
	v.Status = status
	return v
}

func (c Classifier) page(headers map[string]string, d *transport.Descriptor, items []any) Verdict {
	if !d.HasCap {
		return Verdict{Action: Done, Result: Collection(items)}
	}

	merged, full := pagination.Accumulate(d.Items, items, d.MaxResults)
	if full {
		return Verdict{Action: Done, Result: Collection(merged)}
	}

	next, ok := pagination.NextLink(headers)
	if !ok {
		return Verdict{Action: Done, Result: Collection(merged)}
	}

	nd := d.Clone()
	nd.URL = next
	nd.Items = merged
	return Verdict{Action: NextPage, Next: nd}
}

// retryAfter reads delay-seconds or an HTTP date from the retry-after header.
// Negative or non-finite seconds fall back to the default; huge values are
// clamped to the largest Duration. A date in the past means no delay.
func (c Classifier) retryAfter(headers map[string]string) time.Duration {
	raw, ok := headers[RetryAfterHeader]
	if !ok {
		return c.DefaultRetryAfter
	}
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		switch {
		case math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0:
			return c.DefaultRetryAfter
		case seconds >= maxRetryAfterSeconds:
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		if d := at.Sub(now()); d > 0 {
			return d
		}
		return 0
	}
	return c.DefaultRetryAfter
}
