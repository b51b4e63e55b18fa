package transport

import (
	"net/http"

	"golang.org/x/time/rate"
)

// ThrottledTransport is an http.RoundTripper that holds every outbound call
// to a hard requests-per-second ceiling. It sits below the scheduler and only
// matters when spacing alone is not strict enough.
type ThrottledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// NewThrottledTransport allows perSecond calls per second with the given burst.
func NewThrottledTransport(perSecond float64, burst int, base http.RoundTripper) *ThrottledTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledTransport{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// RoundTrip waits for the limiter, then forwards to the base transport.
func (t *ThrottledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
