package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/spark-client/pkg/transport"
)

// CacheKey represents a unique identifier for a cached Spark response.
type CacheKey struct {
	// Endpoint is the request path (e.g., "/v1/rooms/abc")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"max": "100"})
	QueryParams url.Values

	// Principal identifies the credential the response was fetched with,
	// so tokens never share entries. Empty for unauthenticated requests.
	Principal string
}

// KeyPrefix namespaces cache entries apart from the rate-limit keys.
const KeyPrefix = "spark:cache"

// String generates a deterministic cache key string.
// Format: spark:cache:endpoint:query1=val1:query2=val2:auth=principal
//
// Example:
//
//	spark:cache:v1/rooms:max=100:type=group:auth=5e884898da280471
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Add query params (sorted for determinism)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	if k.Principal != "" {
		parts = append(parts, "auth="+k.Principal)
	}

	return strings.Join(parts, ":")
}

// KeyFor derives the cache key of a descriptor from its URL and
// authorization header.
func KeyFor(d *transport.Descriptor) CacheKey {
	key := CacheKey{Endpoint: d.URL}
	if u, err := url.Parse(d.URL); err == nil {
		key.Endpoint = u.Host + u.Path
		key.QueryParams = u.Query()
	}
	for name, value := range d.Headers {
		if strings.EqualFold(name, "authorization") && value != "" {
			key.Principal = Fingerprint(value)
			break
		}
	}
	return key
}

// Fingerprint returns a short, non-reversible identifier for a credential.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}
