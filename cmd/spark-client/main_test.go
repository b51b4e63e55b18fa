package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Sternrassler/spark-client/internal/testutil"
	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/client"
	"github.com/Sternrassler/spark-client/pkg/ratelimit"
	"github.com/Sternrassler/spark-client/pkg/scheduler"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func newTestRouter(t *testing.T, mock *testutil.MockSpark, rdb *redis.Client) http.Handler {
	t.Helper()

	cfg := client.DefaultConfig("test-token")
	cfg.BaseURL = mock.URL() + "/v1"
	cfg.Delay = time.Millisecond
	cfg.Redis = rdb
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return newRouter(c, rdb)
}

func doRequest(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()

	w := doRequest(newTestRouter(t, mock, nil), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", w.Body.String())
	}
}

func TestReadyEndpoint(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	rdb, mr := setupTestRedis(t)
	h := newTestRouter(t, mock, rdb)

	if w := doRequest(h, http.MethodGet, "/ready", nil); w.Code != http.StatusOK {
		t.Errorf("ready with Redis up = %d, want 200", w.Code)
	}

	mr.Close()
	if w := doRequest(h, http.MethodGet, "/ready", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with Redis down = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	mock.SetResponse("/v1/people/me", testutil.NewResourceResponse(`{"id":"me"}`))
	h := newTestRouter(t, mock, nil)

	doRequest(h, http.MethodGet, "/api/people/me", nil)

	w := doRequest(h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "spark_requests_total") {
		t.Error("metrics output lacks spark_requests_total")
	}
}

func TestProxy_Collection(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	mock.SetCollection("/v1/rooms", testutil.Items(150))
	h := newTestRouter(t, mock, nil)

	w := doRequest(h, http.MethodGet, "/api/rooms?max=120", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 120 {
		t.Errorf("items = %d, want 120", len(body.Items))
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("upstream requests = %d, want 2", mock.GetRequestCount())
	}
}

func TestProxy_PostAndDelete(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()

	var received map[string]any
	mock.SetHandler("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m1"}`))
	})
	mock.SetResponse("/v1/messages/m1", testutil.NewNoContentResponse())
	h := newTestRouter(t, mock, nil)

	w := doRequest(h, http.MethodPost, "/api/messages", strings.NewReader(`{"roomId":"r1","text":"hi"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body = %s", w.Code, w.Body.String())
	}
	if received["text"] != "hi" {
		t.Errorf("upstream body = %v", received)
	}

	w = doRequest(h, http.MethodDelete, "/api/messages/m1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", w.Code)
	}
}

func TestProxy_InvalidBody(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	h := newTestRouter(t, mock, nil)

	w := doRequest(h, http.MethodPost, "/api/messages", strings.NewReader(`{not json`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if mock.GetRequestCount() != 0 {
		t.Error("invalid body reached upstream")
	}
}

func TestProxy_UpstreamErrors(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	mock.SetResponse("/v1/broken", testutil.NewServerErrorResponse())
	h := newTestRouter(t, mock, nil)

	tests := []struct {
		path       string
		wantStatus int
		wantClass  string
	}{
		{path: "/api/missing", wantStatus: http.StatusNotFound, wantClass: "client"},
		{path: "/api/broken", wantStatus: http.StatusBadGateway, wantClass: "server"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doRequest(h, http.MethodGet, tt.path, nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]any
			json.Unmarshal(w.Body.Bytes(), &body)
			if body["class"] != tt.wantClass {
				t.Errorf("class = %v, want %s", body["class"], tt.wantClass)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	rdb, _ := setupTestRedis(t)
	h := newTestRouter(t, mock, rdb)

	tracker := ratelimit.NewTracker(rdb, zerolog.Nop())
	if err := tracker.Record(context.Background(), 30*time.Second); err != nil {
		t.Fatal(err)
	}

	w := doRequest(h, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		QueueDepth int `json:"queue_depth"`
		RateLimit  struct {
			Count429 int64 `json:"count_429"`
			Healthy  bool  `json:"healthy"`
		} `json:"rate_limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.RateLimit.Count429 != 1 || body.RateLimit.Healthy {
		t.Errorf("rate_limit = %+v, want one 429 and unhealthy", body.RateLimit)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "upstream 404", err: &classify.HTTPError{StatusCode: 404}, want: http.StatusNotFound},
		{name: "upstream 401", err: &classify.HTTPError{StatusCode: 401}, want: http.StatusUnauthorized},
		{name: "upstream 503", err: &classify.HTTPError{StatusCode: 503}, want: http.StatusBadGateway},
		{name: "retries exhausted", err: scheduler.ErrRetryExhausted, want: http.StatusTooManyRequests},
		{name: "transport", err: &transport.TransportError{Err: errors.New("refused")}, want: http.StatusGatewayTimeout},
		{name: "closed", err: scheduler.ErrClosed, want: http.StatusServiceUnavailable},
		{name: "structural", err: &classify.StructuralError{Err: classify.ErrInvalidBody}, want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRenderState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := &ratelimit.RateLimitState{
		Count429:     3,
		Last429At:    now.Add(-time.Second),
		RetryAfter:   20 * time.Second,
		BackoffUntil: now.Add(19 * time.Second),
	}

	var buf bytes.Buffer
	renderState(&buf, state, now)
	out := buf.String()

	for _, want := range []string{"429 responses", "3", "backing off", "20s", "2026-03-01T11:59:59Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderState(&buf, &ratelimit.RateLimitState{}, now)
	if !strings.Contains(buf.String(), "healthy") {
		t.Errorf("empty state should render healthy:\n%s", buf.String())
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetCommand(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	mock.RequireToken("cli-token")
	mock.SetCollection("/v1/rooms", testutil.Items(30))

	out, err := runCLI(t, "get", "/rooms", "--max", "25",
		"--token", "cli-token", "--base-url", mock.URL()+"/v1", "--delay", "1ms")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}

	var body struct {
		Items []any `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(body.Items) != 25 {
		t.Errorf("items = %d, want 25", len(body.Items))
	}
}

func TestGetCommand_PageLimitPrintsPartial(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	mock.SetCollection("/v1/rooms", testutil.Items(280))

	out, err := runCLI(t, "get", "/rooms", "--max", "250", "--max-pages", "1",
		"--token", "cli-token", "--base-url", mock.URL()+"/v1", "--delay", "1ms")
	if err != nil {
		t.Fatalf("get error = %v, want the partial collection printed", err)
	}

	var body struct {
		Items []any `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(body.Items) != 100 {
		t.Errorf("items = %d, want the first page of 100", len(body.Items))
	}
}

func TestGetCommand_TokenFromEnv(t *testing.T) {
	mock := testutil.NewMockSpark()
	defer mock.Close()
	mock.RequireToken("env-token")
	mock.SetResponse("/v1/people/me", testutil.NewResourceResponse(`{"id":"me"}`))

	t.Setenv("SPARK_TOKEN", "env-token")
	t.Setenv("SPARK_BASE_URL", mock.URL()+"/v1")

	out, err := runCLI(t, "get", "/people/me")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if !strings.Contains(out, `"id": "me"`) {
		t.Errorf("output = %q", out)
	}
}

func TestGetCommand_MissingToken(t *testing.T) {
	t.Setenv("SPARK_TOKEN", "")

	_, err := runCLI(t, "get", "/rooms")
	var confErr *client.ConfigurationError
	if !errors.As(err, &confErr) || confErr.Field != "token" {
		t.Errorf("error = %v, want token ConfigurationError", err)
	}
}

func TestStatusCommand(t *testing.T) {
	_, mr := setupTestRedis(t)

	out, err := runCLI(t, "status", "--redis-url", mr.Addr())
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "healthy") || !strings.Contains(out, "cached responses: 0") {
		t.Errorf("output = %q", out)
	}

	mr.Set("spark:cache:v1/rooms", "{}")
	out, err = runCLI(t, "status", "--redis-url", mr.Addr(), "--purge-cache")
	if err != nil {
		t.Fatalf("status --purge-cache error = %v", err)
	}
	if !strings.Contains(out, "purged 1 cached responses") {
		t.Errorf("output = %q", out)
	}
	if mr.Exists("spark:cache:v1/rooms") {
		t.Error("cache key should be purged")
	}

	if _, err := runCLI(t, "status"); !errors.Is(err, errNoRedis) {
		t.Errorf("status without Redis error = %v, want errNoRedis", err)
	}
}

func TestConfigFile(t *testing.T) {
	path := t.TempDir() + "/spark.yaml"
	if err := os.WriteFile(path, []byte("token: file-token\ndelay: 250ms\nmax-pages: 4\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	a := &app{v: viper.New()}
	root := a.command()
	if err := root.PersistentFlags().Parse([]string{"--config", path, "--max-pages", "7"}); err != nil {
		t.Fatal(err)
	}
	if err := a.init(); err != nil {
		t.Fatalf("init() error = %v", err)
	}
	cfg := a.clientConfig()
	if cfg.Token != "file-token" {
		t.Errorf("Token = %q, want file-token", cfg.Token)
	}
	if cfg.Delay != 250*time.Millisecond {
		t.Errorf("Delay = %v, want 250ms", cfg.Delay)
	}
	if cfg.MaxPages != 7 {
		t.Errorf("MaxPages = %d, want the flag value 7", cfg.MaxPages)
	}
}
