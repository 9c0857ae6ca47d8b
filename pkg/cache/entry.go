package cache

import (
	"net/http"
	"time"
)

// Entry represents a stored response in a named cache store.
type Entry struct {
	// URL is the absolute URL of the request that produced the response
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// CachedAt is when the response was put into the store
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	age := time.Since(e.CachedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Size returns the approximate number of bytes the entry occupies.
func (e *Entry) Size() int {
	size := len(e.Data) + len(e.URL)
	for name, values := range e.Headers {
		for _, v := range values {
			size += len(name) + len(v)
		}
	}
	return size
}

// OK reports whether the stored status is in the 2xx range.
func (e *Entry) OK() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}
