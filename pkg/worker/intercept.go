package worker

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Strategy names how a request is answered.
type Strategy string

const (
	// StrategyCacheFirst serves from the static store, populating it on miss.
	StrategyCacheFirst Strategy = "cache-first"
	// StrategyNetworkFirst serves from the network, falling back to the runtime store.
	StrategyNetworkFirst Strategy = "network-first"
	// StrategyPassthrough forwards the request untouched.
	StrategyPassthrough Strategy = "passthrough"
)

// Route returns the strategy the worker applies to req.
//
// Nothing is intercepted before activation or for other origins. Paths under
// the API prefix go network-first regardless of method; remaining GET requests
// go cache-first; everything else passes through.
func (w *Worker) Route(req *http.Request) Strategy {
	if !w.controlling.Load() || req.URL == nil || !w.sameOrigin(req.URL) {
		return StrategyPassthrough
	}
	if strings.HasPrefix(req.URL.Path, w.config.APIPrefix) {
		return StrategyNetworkFirst
	}
	if isRead(req.Method) {
		return StrategyCacheFirst
	}
	return StrategyPassthrough
}

func isRead(method string) bool {
	return method == "" || method == http.MethodGet
}

// isDocumentRequest reports whether req expects a full page document.
func isDocumentRequest(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Dest") == "document" ||
		req.Header.Get("Sec-Fetch-Mode") == "navigate"
}

func (w *Worker) handleFetch(_ context.Context, ev *Event) (*http.Response, error) {
	req := ev.Request
	strategy := w.Route(req)

	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	}()

	switch strategy {
	case StrategyNetworkFirst:
		return w.networkFirst(req)
	case StrategyCacheFirst:
		return w.cacheFirst(req)
	default:
		return w.passthrough(req)
	}
}
