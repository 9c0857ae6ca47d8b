// Package chat is a typed client for the Buddha Talk API.
//
// The client speaks to the backend through any http.RoundTripper. Wired to a
// worker.Worker it gets network-first semantics for every /api/ call: fresh
// answers when online, the last stored answer when offline.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buddhatalk/swcache/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	chatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_chat_requests_total",
		Help: "Total Buddha Talk API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	chatRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swcache_chat_request_duration_seconds",
		Help:    "Buddha Talk API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	chatErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_chat_errors_total",
		Help: "Total Buddha Talk API errors by class",
	}, []string{"class"})
)

// Default client settings.
const (
	DefaultUserAgent = "buddha-talk-swcache/1.0"
	DefaultTimeout   = 30 * time.Second
)

// maxErrorBody bounds how much of a failed answer is read for its message.
const maxErrorBody = 64 << 10

// Config holds the client configuration.
type Config struct {
	// BaseURL is the application origin, e.g. "http://localhost:5000". Required.
	BaseURL string

	// Transport carries every request. Pass the worker to get offline support.
	// Nil selects http.DefaultTransport.
	Transport http.RoundTripper

	// Timeout bounds each call (default DefaultTimeout).
	Timeout time.Duration

	// UserAgent is sent with every request (default DefaultUserAgent).
	UserAgent string
}

// Client calls the Buddha Talk API.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	logger := logging.NewLogger(logging.ComponentChat)
	transport := cfg.Transport
	if transport == nil {
		logger.Warn().Msg("No transport configured, requests bypass the offline cache")
		transport = http.DefaultTransport
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		base:       base,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Status returns the backend's configuration and session state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Setup stores the language model API key on the backend.
func (c *Client) Setup(ctx context.Context, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("api key cannot be empty")
	}
	return c.do(ctx, http.MethodPost, "/api/setup", setupRequest{APIKey: apiKey}, nil)
}

// Consent records the data-use consent and returns the user id the backend
// assigned. The id is empty when consent is refused.
func (c *Client) Consent(ctx context.Context, consent bool) (string, error) {
	var out consentResponse
	if err := c.do(ctx, http.MethodPost, "/api/consent", consentRequest{Consent: consent}, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Send posts message with conv's history and records the exchange in conv on success.
func (c *Client) Send(ctx context.Context, conv *Conversation, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	req := chatRequest{
		Message: message,
		History: conv.History(),
		UserID:  conv.UserID(),
	}

	var out Reply
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	conv.Append(Turn{User: message, Buddha: out.Message})
	if out.CrisisAlert {
		c.logger.Warn().Str("user_id", req.UserID).Msg("Crisis alert raised by backend")
	}
	return &out, nil
}

// DailyMeditation returns today's meditation.
func (c *Client) DailyMeditation(ctx context.Context) (*Meditation, error) {
	var out Meditation
	if err := c.do(ctx, http.MethodGet, "/api/meditation/daily", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionSummary returns the emotion summary of the current session.
func (c *Client) SessionSummary(ctx context.Context) (*SessionSummary, error) {
	var out SessionSummary
	if err := c.do(ctx, http.MethodGet, "/api/session/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one JSON call. out may be nil when the answer is not needed.
func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	startTime := time.Now()
	defer func() {
		chatRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(&url.URL{Path: endpoint}).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Calling Buddha Talk API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		chatErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		chatRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("API request failed")
		return &APIError{Endpoint: endpoint, Class: ErrorClassNetwork, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	chatRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classify(resp.StatusCode)
		chatErrorsTotal.WithLabelValues(string(class)).Inc()
		apiErr := &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    errorMessage(resp),
		}
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a failed answer, falling back to the status text.
func errorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		var payload errorResponse
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			return payload.Error
		}
	}
	return resp.Status
}

// unwrapURLError strips the *url.Error added by http.Client so the
// transport's own error (e.g. worker.ErrNetwork) is what callers match on.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
