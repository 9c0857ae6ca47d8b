// Package testutil provides testing utilities for the swcache packages.
package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// ErrOffline is returned by the mock transport while the origin is offline.
var ErrOffline = errors.New("mock origin: network unreachable")

// DefaultAssets are the static files served by the mock origin.
var DefaultAssets = map[string]MockResponse{
	"/": {
		StatusCode: http.StatusOK,
		Body:       "<!doctype html><title>Buddha Talk</title>",
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	},
	"/static/css/style.css": {
		StatusCode: http.StatusOK,
		Body:       "body { font-family: serif; }",
		Headers:    map[string]string{"Content-Type": "text/css"},
	},
	"/static/js/app.js": {
		StatusCode: http.StatusOK,
		Body:       "class BuddhaChat {}",
		Headers:    map[string]string{"Content-Type": "application/javascript"},
	},
	"/static/js/music-player.js": {
		StatusCode: http.StatusOK,
		Body:       "class MusicPlayer {}",
		Headers:    map[string]string{"Content-Type": "application/javascript"},
	},
	"/static/manifest.json": {
		StatusCode: http.StatusOK,
		Body:       `{"name": "Buddha Talk", "start_url": "/"}`,
		Headers:    map[string]string{"Content-Type": "application/manifest+json"},
	},
}

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable mock Buddha Talk backend for testing.
//
// It serves the static assets and the chat API. Tests reach it through
// Transport, which can simulate an unreachable network for the whole origin
// (SetOffline) or for single paths (FailPath).
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	offline  bool
	failing  map[string]bool

	// Tracking
	requests    map[string]int
	lastRequest *http.Request
	statusCalls int
}

// NewMockOrigin creates and starts a mock origin.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failing:  make(map[string]bool),
		requests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests[r.URL.Path]++
		mock.lastRequest = r.Clone(r.Context())
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the origin URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// Reset clears tracking counters, failures and the offline flag.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.failing = make(map[string]bool)
	m.offline = false
	m.lastRequest = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeMockResponse(w, resp)
	})
}

// SetOffline makes every request through Transport fail.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailPath makes requests for path through Transport fail.
func (m *MockOrigin) FailPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[path] = true
}

// RequestCount returns the number of requests that reached the server.
func (m *MockOrigin) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// PathCount returns the number of requests for path that reached the server.
func (m *MockOrigin) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// LastRequest returns a copy of the last request the server received.
func (m *MockOrigin) LastRequest() *http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequest
}

// Transport returns a RoundTripper that reaches the server unless the
// origin or the requested path is marked as failing.
func (m *MockOrigin) Transport() http.RoundTripper {
	return &mockTransport{origin: m, next: m.server.Client().Transport}
}

type mockTransport struct {
	origin *MockOrigin
	next   http.RoundTripper
}

func (t *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.origin.mu.RLock()
	offline := t.origin.offline
	failing := t.origin.failing[req.URL.Path]
	t.origin.mu.RUnlock()

	if offline || failing {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("dial %s: %w", req.URL.Host, ErrOffline)
	}
	return t.next.RoundTrip(req)
}

// defaultHandler serves the static assets and a minimal chat API.
func (m *MockOrigin) defaultHandler(w http.ResponseWriter, r *http.Request) {
	if asset, ok := DefaultAssets[r.URL.Path]; ok && r.Method == http.MethodGet {
		writeMockResponse(w, asset)
		return
	}

	switch r.URL.Path {
	case "/api/status":
		m.mu.Lock()
		m.statusCalls++
		n := m.statusCalls
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"api_configured": true,
			"status":         "active",
			"session_id":     fmt.Sprintf("session-%d", n),
			"data_consent":   false,
		})
	case "/api/setup":
		var body struct {
			APIKey string `json:"api_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.APIKey == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "API key is required"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "API key configured"})
	case "/api/consent":
		var body struct {
			Consent bool `json:"consent"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "consent saved",
			"user_id": "user-7f3a",
		})
	case "/api/chat":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		var body struct {
			Message string            `json:"message"`
			History []json.RawMessage `json:"history"`
			UserID  string            `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   fmt.Sprintf("You said: %s (%d earlier turns)", body.Message, len(body.History)),
			"timestamp": time.Now().Format(time.RFC3339),
			"meditation_suggestion": map[string]string{
				"type":        "breathing",
				"description": "Observe the breath.",
				"duration":    "5-10 min",
			},
		})
	case "/api/meditation/daily":
		writeJSON(w, http.StatusOK, map[string]string{
			"title": "Breathing meditation",
			"quote": "Watching the breath alone quiets the mind",
			"guide": "Observe the breath going in and out for five minutes.",
		})
	case "/api/session/summary":
		writeJSON(w, http.StatusOK, map[string]any{
			"session_summary": map[string]any{
				"total_messages":   3,
				"dominant_emotion": "calm",
				"overall_valence":  "positive",
			},
			"session_id": "session-1",
		})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		io.WriteString(w, resp.Body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
