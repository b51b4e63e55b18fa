package cache

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/spark-client/pkg/transport"
)

func TestCacheEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{
			name:    "expired entry",
			expires: time.Now().Add(-1 * time.Hour),
			want:    true,
		},
		{
			name:    "valid entry",
			expires: time.Now().Add(1 * time.Hour),
			want:    false,
		},
		{
			name:    "just expired",
			expires: time.Now().Add(-1 * time.Second),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{
				Expires: tt.expires,
			}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_TTL(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		wantMin time.Duration
		wantMax time.Duration
	}{
		{
			name:    "one hour remaining",
			expires: time.Now().Add(1 * time.Hour),
			wantMin: 59 * time.Minute,
			wantMax: 61 * time.Minute,
		},
		{
			name:    "already expired",
			expires: time.Now().Add(-1 * time.Hour),
			wantMin: 0,
			wantMax: 0,
		},
		{
			name:    "5 minutes remaining",
			expires: time.Now().Add(5 * time.Minute),
			wantMin: 4*time.Minute + 59*time.Second,
			wantMax: 5*time.Minute + 1*time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{
				Expires: tt.expires,
			}
			got := entry.TTL()
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("TTL() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestEnvelopeToEntry(t *testing.T) {
	env := &transport.Envelope{
		Status: http.StatusOK,
		Headers: map[string]string{
			"etag":          `"v1"`,
			"last-modified": "Tue, 21 Oct 2025 07:28:00 GMT",
			"content-type":  "application/json",
		},
		Body: map[string]any{"id": "room-1", "title": "Ops"},
	}

	entry, err := EnvelopeToEntry(env, time.Minute)
	if err != nil {
		t.Fatalf("EnvelopeToEntry() error = %v", err)
	}
	if entry.ETag != `"v1"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if entry.LastModified.IsZero() {
		t.Error("LastModified not parsed")
	}
	if ttl := entry.TTL(); ttl < 59*time.Second || ttl > time.Minute {
		t.Errorf("TTL() = %v, want about 1m", ttl)
	}

	back, err := entry.Envelope()
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	body, ok := back.Body.(map[string]any)
	if !ok || body["id"] != "room-1" || back.Status != http.StatusOK || back.Headers["content-type"] != "application/json" {
		t.Errorf("Envelope() = %+v", back)
	}
}

func TestEnvelopeToEntry_ExpiresHeader(t *testing.T) {
	later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	env := &transport.Envelope{
		Status:  http.StatusOK,
		Headers: map[string]string{"expires": later.Format(http.TimeFormat)},
		Body:    map[string]any{},
	}

	entry, err := EnvelopeToEntry(env, time.Minute)
	if err != nil {
		t.Fatalf("EnvelopeToEntry() error = %v", err)
	}
	if !entry.Expires.Equal(later) {
		t.Errorf("Expires = %v, want %v", entry.Expires, later)
	}

	if _, err := EnvelopeToEntry(nil, time.Minute); err == nil {
		t.Error("EnvelopeToEntry(nil) should fail")
	}
}

func TestCacheEntry_EnvelopeInvalid(t *testing.T) {
	entry := &CacheEntry{Data: []byte("{not json")}
	if _, err := entry.Envelope(); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Envelope() error = %v, want ErrInvalidEntry", err)
	}
}
