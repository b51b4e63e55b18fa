package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is applied by the HTTP client when none is configured.
const DefaultTimeout = 30 * time.Second

// HTTPExecutor executes descriptors with net/http and decodes JSON bodies.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an executor around client.
// A nil client gets a default one with DefaultTimeout.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPExecutor{client: client}
}

// Execute performs one call. Non-2xx statuses are not errors here; only
// failures to obtain a response are returned as *TransportError.
func (e *HTTPExecutor) Execute(ctx context.Context, d *Descriptor) (*Envelope, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	body, err := encodeBody(d.Body)
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: d.URL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, body)
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: d.URL, Err: fmt.Errorf("create request: %w", err)}
	}
	for name, value := range d.Headers {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: d.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: d.Method, URL: d.URL, Err: fmt.Errorf("read response body: %w", err)}
	}

	return &Envelope{
		Status:  resp.StatusCode,
		Headers: FlattenHeaders(resp.Header),
		Body:    decodeBody(data),
	}, nil
}

// FlattenHeaders lower-cases header names and joins repeated values with ", ".
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(b), nil
	case string:
		return strings.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}

// decodeBody turns an empty payload into an empty object so bodiless
// responses such as 204 still classify. Payloads that are not JSON are
// returned as a string and rejected by classification.
func decodeBody(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}
