package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/chat"
	"github.com/buddhatalk/swcache/pkg/logging"
	"github.com/buddhatalk/swcache/pkg/metrics"
	"github.com/buddhatalk/swcache/pkg/registration"
	"github.com/buddhatalk/swcache/pkg/worker"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxEventData bounds the payload of a dispatched push event.
const maxEventData = 1 << 20

// server owns the active worker and swaps it when a new version is registered.
type server struct {
	cfg       proxyConfig
	storage   cache.Storage
	registrar *registration.Registrar
	chat      *chat.Client
	logger    zerolog.Logger

	// transport reaches the origin; tests replace it
	transport http.RoundTripper

	current atomic.Pointer[worker.Worker]

	// serializes updates
	updateMu sync.Mutex
}

func newServer(cfg proxyConfig, storage cache.Storage, states registration.StateStore, transport http.RoundTripper) (*server, error) {
	s := &server{
		cfg:       cfg,
		storage:   storage,
		registrar: registration.NewRegistrar(states, cfg.retryConfig()),
		logger:    logging.NewLogger(logging.ComponentProxy),
		transport: transport,
	}

	// API calls made by the proxy itself go through the active worker.
	chatClient, err := chat.New(chat.Config{BaseURL: cfg.Origin, Transport: s})
	if err != nil {
		return nil, err
	}
	s.chat = chatClient
	return s, nil
}

// RoundTrip sends req through the active worker.
func (s *server) RoundTrip(req *http.Request) (*http.Response, error) {
	w := s.current.Load()
	if w == nil {
		return nil, worker.ErrClosed
	}
	return w.RoundTrip(req)
}

// newWorker builds a worker for the current configuration and manifest file.
func (s *server) newWorker() (*worker.Worker, error) {
	wc, err := s.cfg.workerConfig()
	if err != nil {
		return nil, err
	}
	wc.Transport = s.transport

	w, err := worker.New(s.storage, wc)
	if err != nil {
		return nil, err
	}
	if err := w.On(worker.EventPeriodicSync, chat.MeditationRefresher(s.chat)); err != nil {
		return nil, err
	}
	if err := w.On(worker.EventSync, chat.MessageSync(s.chat)); err != nil {
		return nil, err
	}
	return w, nil
}

// start builds the first worker and registers it. The worker serves requests
// even when registration fails; it then passes everything through.
func (s *server) start(ctx context.Context) error {
	w, err := s.newWorker()
	if err != nil {
		return err
	}
	s.current.Store(w)

	if _, err := s.registrar.Register(ctx, w); err != nil {
		s.logger.Error().
			Err(err).
			Str("version", w.Config().Version).
			Msg("Registration failed, serving in pass-through mode")
	}
	return nil
}

// update registers a worker for the current manifest and, once it is
// activated, makes it the active worker. A failed install keeps the previous
// worker serving.
func (s *server) update(ctx context.Context) (*registration.State, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	next, err := s.newWorker()
	if err != nil {
		return nil, err
	}

	state, err := s.registrar.Register(ctx, handover{Worker: next, s: s})
	if err != nil {
		_ = next.Shutdown(ctx)
		return state, err
	}
	return state, nil
}

// handover activates a new worker in place of the active one.
//
// The active worker is retired before the new one deletes its stores, so
// requests in between pass through to the origin instead of writing to a
// store that is about to go. If activation then fails the retired worker
// stays in place and keeps passing requests through.
type handover struct {
	*worker.Worker
	s *server
}

func (h handover) Activate(ctx context.Context) error {
	prev := h.s.current.Load()
	if prev != nil {
		prev.Retire()
	}
	if err := h.Worker.Activate(ctx); err != nil {
		return err
	}
	h.s.current.Store(h.Worker)
	if prev != nil {
		go h.s.retire(prev)
	}
	return nil
}

// retire waits for the events of a replaced worker and shuts it down.
func (s *server) retire(w *worker.Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Str("version", w.Config().Version).Msg("Replaced worker did not drain")
	}
}

// shutdown stops the active worker after waiting for its events.
func (s *server) shutdown(ctx context.Context) error {
	if w := s.current.Load(); w != nil {
		return w.Shutdown(ctx)
	}
	return nil
}

// refreshLoop dispatches the "daily-meditation" periodic sync until ctx ends.
func (s *server) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w := s.current.Load()
			if w == nil {
				continue
			}
			ev := &worker.Event{Kind: worker.EventPeriodicSync, Tag: chat.TagDailyMeditation}
			if _, err := w.Dispatch(ctx, ev).Wait(); err != nil {
				s.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Daily meditation refresh failed")
			}
		}
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/_sw", func(r chi.Router) {
		r.Get("/registration", s.handleRegistration)
		r.Get("/caches", s.handleCaches)
		r.Post("/update", s.handleUpdate)
		r.Post("/events/{kind}", s.handleEvent)
	})
	r.Handle("/*", http.HandlerFunc(s.handleIntercept))
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	current := s.current.Load()
	if current == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	current.ServeHTTP(w, r)
}

func (s *server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	state, err := s.registrar.State(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type cacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

func (s *server) handleCaches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := s.storage.Names(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]cacheInfo, 0, len(names))
	for _, name := range names {
		store, err := s.storage.Open(ctx, name)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, cacheInfo{Name: name, Entries: len(keys)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	state, err := s.update(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Update failed")
		if state != nil {
			writeJSON(w, http.StatusBadGateway, state)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type eventResult struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Error string `json:"error,omitempty"`
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	kind := worker.EventKind(chi.URLParam(r, "kind"))
	switch kind {
	case worker.EventPush, worker.EventSync, worker.EventPeriodicSync:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("event kind %q cannot be dispatched", kind))
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxEventData))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	current := s.current.Load()
	if current == nil {
		s.writeError(w, http.StatusServiceUnavailable, worker.ErrClosed)
		return
	}
	ev := &worker.Event{Kind: kind, Tag: r.URL.Query().Get("tag"), Data: data}
	_, err = current.Dispatch(r.Context(), ev).Wait()

	res := eventResult{ID: ev.ID, Kind: string(kind)}
	status := http.StatusOK
	if err != nil {
		res.Error = err.Error()
		status = http.StatusBadGateway
		if errors.Is(err, worker.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, res)
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
