package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/logging"
)

// Worker intercepts requests for one origin and answers them from the
// network or from its cache stores.
//
// A new worker passes every request through until it has been installed
// and activated. Install pre-caches the manifest into the static store;
// Activate deletes stores of other versions and starts intercepting.
type Worker struct {
	config    Config
	origin    *url.URL
	storage   cache.Storage
	transport http.RoundTripper
	logger    zerolog.Logger

	installed   atomic.Bool
	controlling atomic.Bool
	redundant   atomic.Bool

	mu       sync.Mutex
	static   cache.Store // opened by install
	handlers map[EventKind]Handler
	closed   bool
	inflight sync.WaitGroup
	pending  atomic.Int64
}

// New creates a worker for cfg.Origin backed by storage.
func New(storage cache.Storage, cfg Config) (*Worker, error) {
	if storage == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	origin, err := cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Worker{
		config:    cfg,
		origin:    origin,
		storage:   storage,
		transport: transport,
		logger:    logging.NewLogger(logging.ComponentWorker).With().Str("version", cfg.Version).Logger(),
		handlers:  make(map[EventKind]Handler),
	}, nil
}

// Config returns the worker configuration.
func (w *Worker) Config() Config {
	return w.config
}

// Storage returns the cache storage the worker reads and writes.
func (w *Worker) Storage() cache.Storage {
	return w.storage
}

// Installed reports whether the static store for this version is populated.
func (w *Worker) Installed() bool {
	return w.installed.Load()
}

// Controlling reports whether the worker intercepts requests.
func (w *Worker) Controlling() bool {
	return w.controlling.Load()
}

// Redundant reports whether the worker has been retired.
func (w *Worker) Redundant() bool {
	return w.redundant.Load()
}

// Retire makes the worker redundant: it stops intercepting and passes every
// request through from then on. A retired worker cannot be activated again.
// It is called on the active worker before a successor activates, so the
// old version never writes to stores the successor deletes.
func (w *Worker) Retire() {
	w.redundant.Store(true)
	if w.controlling.Swap(false) {
		w.logger.Info().Msg("Retired, no longer controlling")
	}
}

// staticStore returns the static store opened by install, or nil.
func (w *Worker) staticStore() cache.Store {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.static
}

// Install dispatches an install event and waits for it to settle.
func (w *Worker) Install(ctx context.Context) error {
	_, err := w.Dispatch(ctx, &Event{Kind: EventInstall}).Wait()
	return err
}

// Activate dispatches an activate event and waits for it to settle.
func (w *Worker) Activate(ctx context.Context) error {
	_, err := w.Dispatch(ctx, &Event{Kind: EventActivate}).Wait()
	return err
}

// Fetch dispatches a fetch event for req and waits for the response.
func (w *Worker) Fetch(req *http.Request) (*http.Response, error) {
	return w.Dispatch(req.Context(), &Event{Kind: EventFetch, Request: req}).Wait()
}

// RoundTrip implements http.RoundTripper so the worker can serve as the
// transport of an http.Client.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.Fetch(req)
}

// Client returns an HTTP client whose requests go through the worker.
func (w *Worker) Client() *http.Client {
	return &http.Client{Transport: w}
}

// sameOrigin reports whether u targets the controlled origin.
func (w *Worker) sameOrigin(u *url.URL) bool {
	return u.Scheme == w.origin.Scheme && u.Host == w.origin.Host
}

// resolve returns the absolute URL of an origin-relative path.
func (w *Worker) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}
	return w.origin.ResolveReference(ref).String(), nil
}
