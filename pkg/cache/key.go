package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RequestKey identifies a stored response inside a cache store.
type RequestKey struct {
	// Method is the request method (e.g., "GET")
	Method string
	// URL is the request URL without fragment
	URL string
}

// String generates the key string used by storage backends.
// Format: METHOD SP URL
//
// Example:
//
//	GET https://buddha.example/static/css/style.css
func (k RequestKey) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + k.URL
}

// KeyFor builds a key from a method and raw URL.
// The fragment is dropped since it never reaches the network.
func KeyFor(method, rawURL string) (RequestKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RequestKey{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{Method: strings.ToUpper(method), URL: u.String()}, nil
}

// KeyForRequest builds the key of an outgoing request.
func KeyForRequest(req *http.Request) RequestKey {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{Method: strings.ToUpper(method), URL: u.String()}
}

// ParseKey reverses String.
func ParseKey(s string) (RequestKey, error) {
	method, rawURL, found := strings.Cut(s, " ")
	if !found || method == "" || rawURL == "" {
		return RequestKey{}, fmt.Errorf("malformed key: %q", s)
	}
	return RequestKey{Method: method, URL: rawURL}, nil
}
