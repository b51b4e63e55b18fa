package cache

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/spark-client/pkg/transport"
)

// etagServer answers 304 when If-None-Match matches its current ETag.
type etagServer struct {
	mu       sync.Mutex
	etag     string
	body     map[string]any
	requests []*transport.Descriptor
}

func (s *etagServer) Execute(_ context.Context, d *transport.Descriptor) (*transport.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, d)

	if d.Headers["If-None-Match"] == s.etag {
		return &transport.Envelope{Status: http.StatusNotModified, Headers: map[string]string{"etag": s.etag}, Body: map[string]any{}}, nil
	}
	return &transport.Envelope{
		Status:  http.StatusOK,
		Headers: map[string]string{"etag": s.etag, "content-type": "application/json"},
		Body:    s.body,
	}, nil
}

func newTestExecutor(t *testing.T, next transport.Executor) (*Executor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewExecutor(next, NewManager(client), time.Minute, zerolog.Nop()), mr
}

func getRoom() *transport.Descriptor {
	return &transport.Descriptor{
		Method:  http.MethodGet,
		URL:     "https://api.ciscospark.com/v1/rooms/r1",
		Headers: map[string]string{"Authorization": "Bearer t"},
	}
}

func TestExecutor_RevalidatesWithETag(t *testing.T) {
	server := &etagServer{etag: `"v1"`, body: map[string]any{"id": "r1", "title": "Ops"}}
	exec, _ := newTestExecutor(t, server)
	ctx := context.Background()

	first, err := exec.Execute(ctx, getRoom())
	if err != nil || first.Status != http.StatusOK {
		t.Fatalf("first Execute() = %+v, %v", first, err)
	}

	second, err := exec.Execute(ctx, getRoom())
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if second.Status != http.StatusOK {
		t.Errorf("second Status = %d, want the cached 200", second.Status)
	}
	body, _ := second.Body.(map[string]any)
	if body["title"] != "Ops" {
		t.Errorf("second Body = %v, want cached room", second.Body)
	}

	if len(server.requests) != 2 {
		t.Fatalf("server requests = %d, want 2", len(server.requests))
	}
	if got := server.requests[1].Headers["If-None-Match"]; got != `"v1"` {
		t.Errorf("If-None-Match = %q, want \"v1\"", got)
	}
	if _, ok := server.requests[0].Headers["If-None-Match"]; ok {
		t.Error("first request carried If-None-Match")
	}
}

func TestExecutor_DoesNotModifyDescriptor(t *testing.T) {
	server := &etagServer{etag: `"v1"`, body: map[string]any{"id": "r1"}}
	exec, _ := newTestExecutor(t, server)
	ctx := context.Background()

	if _, err := exec.Execute(ctx, getRoom()); err != nil {
		t.Fatal(err)
	}
	d := getRoom()
	if _, err := exec.Execute(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Headers["If-None-Match"]; ok {
		t.Error("Execute() added conditional headers to the caller's descriptor")
	}
}

func TestExecutor_ChangedResourceReplacesEntry(t *testing.T) {
	server := &etagServer{etag: `"v1"`, body: map[string]any{"title": "old"}}
	exec, _ := newTestExecutor(t, server)
	ctx := context.Background()

	if _, err := exec.Execute(ctx, getRoom()); err != nil {
		t.Fatal(err)
	}

	server.mu.Lock()
	server.etag = `"v2"`
	server.body = map[string]any{"title": "new"}
	server.mu.Unlock()

	env, err := exec.Execute(ctx, getRoom())
	if err != nil {
		t.Fatal(err)
	}
	if body, _ := env.Body.(map[string]any); body["title"] != "new" {
		t.Errorf("Body = %v, want the changed resource", env.Body)
	}

	entry, err := exec.manager.Get(ctx, KeyFor(getRoom()))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.ETag != `"v2"` {
		t.Errorf("stored ETag = %q, want \"v2\"", entry.ETag)
	}
}

func TestExecutor_SkipsNonGET(t *testing.T) {
	server := &etagServer{etag: `"v1"`, body: map[string]any{"id": "m1"}}
	exec, mr := newTestExecutor(t, server)

	d := getRoom()
	d.Method = http.MethodPost
	if _, err := exec.Execute(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("POST response was cached: %v", keys)
	}
}

func TestExecutor_SkipsResponsesWithoutValidator(t *testing.T) {
	next := transport.ExecutorFunc(func(context.Context, *transport.Descriptor) (*transport.Envelope, error) {
		return &transport.Envelope{Status: http.StatusOK, Headers: map[string]string{}, Body: map[string]any{"items": []any{}}}, nil
	})
	exec, mr := newTestExecutor(t, next)

	if _, err := exec.Execute(context.Background(), getRoom()); err != nil {
		t.Fatal(err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("response without ETag was cached: %v", keys)
	}
}

func TestExecutor_RedisDown(t *testing.T) {
	server := &etagServer{etag: `"v1"`, body: map[string]any{"id": "r1"}}
	exec, mr := newTestExecutor(t, server)
	mr.Close()

	env, err := exec.Execute(context.Background(), getRoom())
	if err != nil {
		t.Fatalf("Execute() with Redis down error = %v", err)
	}
	if env.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200 from the server", env.Status)
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	lastMod := time.Date(2025, 10, 21, 7, 28, 0, 0, time.UTC)

	tests := []struct {
		name       string
		entry      *CacheEntry
		wantHeader string
		wantValue  string
	}{
		{name: "etag preferred", entry: &CacheEntry{ETag: `"abc"`, LastModified: lastMod}, wantHeader: "If-None-Match", wantValue: `"abc"`},
		{name: "last-modified fallback", entry: &CacheEntry{LastModified: lastMod}, wantHeader: "If-Modified-Since", wantValue: "Tue, 21 Oct 2025 07:28:00 GMT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !ShouldMakeConditionalRequest(tt.entry) {
				t.Fatal("ShouldMakeConditionalRequest() = false")
			}
			d := &transport.Descriptor{}
			AddConditionalHeaders(d, tt.entry)
			if d.Headers[tt.wantHeader] != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantHeader, d.Headers[tt.wantHeader], tt.wantValue)
			}
		})
	}

	if ShouldMakeConditionalRequest(&CacheEntry{}) || ShouldMakeConditionalRequest(nil) {
		t.Error("entries without validators should not be revalidated")
	}
	AddConditionalHeaders(nil, nil)
}
