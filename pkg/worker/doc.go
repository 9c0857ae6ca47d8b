// Package worker implements the offline caching worker that sits between a
// client and the Buddha Talk backend.
//
// Every request goes through the fetch interceptor, which picks a strategy:
//
//   - network-first for paths under the API prefix (default "/api/"):
//     fresh responses whenever the backend is reachable, the last stored
//     response from the runtime store when it is not
//   - cache-first for other GET requests: the static store answers, the
//     network fills misses, navigations fall back to the stored root document
//   - passthrough for everything else, for other origins and before activation
//
// # Lifecycle
//
//	w, err := worker.New(storage, worker.DefaultConfig("https://buddha.example"))
//	if err != nil {
//		return err
//	}
//	if err := w.Install(ctx); err != nil {
//		// nothing was stored; retry later
//	}
//	if err := w.Activate(ctx); err != nil {
//		return err
//	}
//
// Install fetches the manifest and stores it as one set into the versioned
// static store (buddha-talk-v<version>). Activate deletes every other store
// except the runtime store and starts intercepting.
//
// # Transports
//
// The worker is an http.Handler (proxy mode, requests are rewritten to the
// origin) and an http.RoundTripper (client mode):
//
//	client := w.Client()
//	resp, err := client.Get("https://buddha.example/api/status")
//
// # Events
//
// Install, activate and fetch are events dispatched to the worker's own
// handlers. Push, sync and periodicsync are extension points; register a
// handler with On. Dispatch returns a Pending that settles when the handler
// returns, and Shutdown waits for every pending event.
package worker
