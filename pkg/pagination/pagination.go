package pagination

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/spark-client/pkg/transport"
)

// DefaultPageSize is the number of items requested per network call.
const DefaultPageSize = 100

// MaxParam is the query parameter (matched case-insensitively) that carries
// the caller's requested cap.
const MaxParam = "max"

// CaptureCap prepares the first descriptor of a chain. When d has no cap yet
// and its URL carries a positive integer max parameter, that value becomes
// d.MaxResults and every max parameter is rewritten to pageSize. Descriptors
// that already carry a cap are left untouched, so continuation and retry
// rounds never repeat the rewrite. Reports whether a cap was captured.
func CaptureCap(d *transport.Descriptor, pageSize int) bool {
	if d == nil || d.HasCap {
		return false
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	u, err := url.Parse(d.URL)
	if err != nil || u.RawQuery == "" {
		return false
	}

	params := strings.Split(u.RawQuery, "&")
	captured := -1
	for i, param := range params {
		key, value, _ := strings.Cut(param, "=")
		if name, err := url.QueryUnescape(key); err != nil || !strings.EqualFold(name, MaxParam) {
			continue
		}
		if captured < 0 {
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return false
			}
			captured = n
		}
		params[i] = key + "=" + strconv.Itoa(pageSize)
	}
	if captured < 0 {
		return false
	}

	u.RawQuery = strings.Join(params, "&")
	d.URL = u.String()
	d.MaxResults = captured
	d.HasCap = true
	return true
}

// Accumulate appends page onto prev without modifying either slice. If the
// result reaches limit it is truncated to exactly limit and full is true.
func Accumulate(prev, page []any, limit int) (items []any, full bool) {
	items = make([]any, 0, len(prev)+len(page))
	items = append(items, prev...)
	items = append(items, page...)
	if limit > 0 && len(items) >= limit {
		return items[:limit:limit], true
	}
	return items, false
}

// Truncate returns at most limit items. A non-positive limit returns items.
func Truncate(items []any, limit int) []any {
	if limit > 0 && len(items) > limit {
		return items[:limit:limit]
	}
	return items
}
