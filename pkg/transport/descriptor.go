// Package transport defines the request descriptor and response envelope
// exchanged with the Spark API, and the executor that performs one outbound
// call per descriptor.
package transport

import (
	"context"
	"time"
)

// Descriptor is one fully-resolved outbound request plus the pagination
// state of the chain it belongs to.
type Descriptor struct {
	// ID correlates every round (pages and retries) of one logical request.
	ID string

	Method  string
	URL     string
	Headers map[string]string
	Body    any

	// Timeout bounds a single network call. Zero means no per-call timeout.
	Timeout time.Duration

	// MaxResults is the requested cap, captured once from the first request
	// of a chain. Only meaningful when HasCap is true.
	MaxResults int
	HasCap     bool

	// Items holds what has been accumulated across pages so far.
	// It is append-only and never modified in place.
	Items []any
}

// Clone returns a copy that can be modified without affecting d.
// The Items slice is shared since it is never written in place.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Headers != nil {
		c.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// SetHeader sets a header, allocating the map if needed.
func (d *Descriptor) SetHeader(name, value string) {
	if d.Headers == nil {
		d.Headers = make(map[string]string)
	}
	d.Headers[name] = value
}

// Envelope is the raw result of one call: status, headers and decoded body.
// Header names are lower-cased. A zero Status means none was received.
type Envelope struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Executor performs exactly one outbound call for a descriptor.
type Executor interface {
	Execute(ctx context.Context, d *Descriptor) (*Envelope, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, d *Descriptor) (*Envelope, error)

// Execute calls f(ctx, d).
func (f ExecutorFunc) Execute(ctx context.Context, d *Descriptor) (*Envelope, error) {
	return f(ctx, d)
}
