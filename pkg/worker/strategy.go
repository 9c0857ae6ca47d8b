package worker

import (
	"errors"
	"net/http"

	"github.com/buddhatalk/swcache/pkg/cache"
)

// send performs the round trip without reading the body.
func (w *Worker) send(req *http.Request) (*http.Response, error) {
	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Err: err}
	}
	return resp, nil
}

// buffer reads the whole body of resp into an entry.
// A body that cannot be read to the end (e.g., the request was aborted)
// is a failed fetch.
func (w *Worker) buffer(req *http.Request, resp *http.Response) (*cache.Entry, error) {
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Err: err}
	}
	entry.URL = cache.KeyForRequest(req).URL
	return entry, nil
}

// network performs the fetch and reads the whole body.
func (w *Worker) network(req *http.Request) (*cache.Entry, error) {
	resp, err := w.send(req)
	if err != nil {
		return nil, err
	}
	return w.buffer(req, resp)
}

// forward returns a live response with its Cache-Status annotation.
// The body is left for the caller to stream.
func forward(resp *http.Response, cs cacheStatus) *http.Response {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Add(CacheStatusHeader, cs.String())
	return resp
}

func (w *Worker) respond(entry *cache.Entry, req *http.Request, cs cacheStatus) *http.Response {
	resp := cache.EntryToResponse(entry, req)
	resp.Header.Add(CacheStatusHeader, cs.String())
	return resp
}

// cacheFirst answers from the static store. On a miss it fetches and stores
// 200 responses. When the network fails, navigations fall back to the
// stored root document.
func (w *Worker) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cache.KeyForRequest(req)
	name := w.config.StaticCacheName()
	logger := w.logger.With().
		Str("strategy", string(StrategyCacheFirst)).
		Str("url", key.URL).
		Logger()

	// never reopened by name: a newer version may have deleted it
	store := w.staticStore()
	if store == nil {
		logger.Warn().Str("cache", name).Msg("Static cache unavailable, using network")
	} else {
		entry, err := store.Match(ctx, key)
		if err == nil {
			logger.Debug().Msg("Cache hit")
			fetchesTotal.WithLabelValues(string(StrategyCacheFirst), "cache").Inc()
			return w.respond(entry, req, cacheStatus{hit: true}), nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Str("cache", name).Msg("Cache match error")
		}
	}

	entry, err := w.network(req)
	if err != nil {
		networkErrorsTotal.WithLabelValues(string(StrategyCacheFirst)).Inc()
		logger.Warn().Err(err).Msg("Fetch failed")

		if store != nil && isDocumentRequest(req) && ctx.Err() == nil {
			if fallback := w.offlineDocument(req, store); fallback != nil {
				fetchesTotal.WithLabelValues(string(StrategyCacheFirst), "fallback").Inc()
				logger.Info().Msg("Serving offline fallback document")
				return fallback, nil
			}
		}
		fetchesTotal.WithLabelValues(string(StrategyCacheFirst), "error").Inc()
		return nil, err
	}

	cs := cacheStatus{fwdReason: fwdURIMiss}
	if store != nil && entry.StatusCode == http.StatusOK && ctx.Err() == nil {
		if err := store.Put(ctx, key, entry); err != nil {
			logger.Warn().Err(err).Str("cache", name).Msg("Failed to cache response")
		} else {
			cs.stored = true
			logger.Debug().Str("cache", name).Msg("Cached response")
		}
	}

	fetchesTotal.WithLabelValues(string(StrategyCacheFirst), "network").Inc()
	return w.respond(entry, req, cs), nil
}

// offlineDocument returns the stored root document, or nil.
func (w *Worker) offlineDocument(req *http.Request, store cache.Store) *http.Response {
	root, err := w.resolve("/")
	if err != nil {
		return nil
	}
	key, err := cache.KeyFor(http.MethodGet, root)
	if err != nil {
		return nil
	}
	entry, err := store.Match(req.Context(), key)
	if err != nil {
		return nil
	}
	return w.respond(entry, req, cacheStatus{hit: true, detail: "offline-fallback"})
}

// networkFirst answers from the network and stores 200 GET responses in the
// runtime store. Responses that will not be stored are returned as they
// arrive, so streamed API answers reach the caller chunk by chunk. When the
// network fails it serves the stored entry, if any.
func (w *Worker) networkFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cache.KeyForRequest(req)
	name := w.config.RuntimeCache
	logger := w.logger.With().
		Str("strategy", string(StrategyNetworkFirst)).
		Str("method", key.Method).
		Str("url", key.URL).
		Logger()

	resp, netErr := w.send(req)
	if netErr == nil && (resp.StatusCode != http.StatusOK || !isRead(req.Method)) {
		fetchesTotal.WithLabelValues(string(StrategyNetworkFirst), "network").Inc()
		return forward(resp, cacheStatus{fwdReason: fwdRequest}), nil
	}

	var entry *cache.Entry
	if netErr == nil {
		entry, netErr = w.buffer(req, resp)
	}
	if netErr == nil {
		cs := cacheStatus{fwdReason: fwdRequest}
		if ctx.Err() == nil {
			// the runtime store is created on the first response worth keeping
			store, err := w.storage.Open(ctx, name)
			if err == nil {
				err = store.Put(ctx, key, entry)
			}
			if err != nil {
				logger.Warn().Err(err).Str("cache", name).Msg("Failed to cache response")
			} else {
				cs.stored = true
			}
		}
		fetchesTotal.WithLabelValues(string(StrategyNetworkFirst), "network").Inc()
		return w.respond(entry, req, cs), nil
	}

	networkErrorsTotal.WithLabelValues(string(StrategyNetworkFirst)).Inc()
	logger.Info().Err(netErr).Msg("Network failed, trying cache")

	if isRead(req.Method) && ctx.Err() == nil {
		if stale := w.matchRuntime(req, key); stale != nil {
			fetchesTotal.WithLabelValues(string(StrategyNetworkFirst), "stale").Inc()
			return w.respond(stale, req, cacheStatus{hit: true, detail: "stale"}), nil
		}
	}

	fetchesTotal.WithLabelValues(string(StrategyNetworkFirst), "error").Inc()
	return nil, netErr
}

// matchRuntime looks key up without creating the runtime store.
func (w *Worker) matchRuntime(req *http.Request, key cache.RequestKey) *cache.Entry {
	ctx := req.Context()
	name := w.config.RuntimeCache

	exists, err := w.storage.Has(ctx, name)
	if err != nil {
		w.logger.Warn().Err(err).Str("cache", name).Msg("Runtime cache unavailable")
		return nil
	}
	if !exists {
		return nil
	}
	store, err := w.storage.Open(ctx, name)
	if err != nil {
		w.logger.Warn().Err(err).Str("cache", name).Msg("Runtime cache unavailable")
		return nil
	}
	entry, err := store.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			w.logger.Warn().Err(err).Str("cache", name).Msg("Cache match error")
		}
		return nil
	}
	return entry
}

// passthrough forwards req without touching any store.
func (w *Worker) passthrough(req *http.Request) (*http.Response, error) {
	resp, err := w.send(req)
	if err != nil {
		fetchesTotal.WithLabelValues(string(StrategyPassthrough), "error").Inc()
		return nil, err
	}

	fetchesTotal.WithLabelValues(string(StrategyPassthrough), "network").Inc()
	if w.controlling.Load() && w.sameOrigin(req.URL) {
		reason := fwdBypass
		if !isRead(req.Method) {
			reason = fwdMethod
		}
		return forward(resp, cacheStatus{fwdReason: reason}), nil
	}
	return resp, nil
}
