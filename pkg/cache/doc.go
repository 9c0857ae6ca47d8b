// Package cache provides named response stores for the offline worker.
//
// A Storage holds any number of named stores, the way the browser's
// CacheStorage does for a service worker. Each Store maps a request identity
// (method + URL) to a stored response (status, headers, body).
//
// Three backends are available:
//
//   - MemoryStorage - process memory, used by tests and ephemeral proxies
//   - RedisStorage - one Redis hash per store plus a set of store names
//   - SQLiteStorage - a single SQLite file (modernc.org/sqlite, no cgo)
//
// # Basic Usage
//
//	storage := cache.NewMemoryStorage()
//
//	store, err := storage.Open(ctx, "buddha-talk-v1.0.0")
//	if err != nil {
//		return err
//	}
//
//	key := cache.KeyForRequest(req)
//	entry, err := store.Match(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the network
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//	if err := store.Put(ctx, key, entry); err != nil {
//		return err
//	}
//
//	// later
//	resp := cache.EntryToResponse(entry, req)
//
// # Atomic population
//
// PutAll stores a set of entries in one operation. Backends implement it with
// a MULTI/EXEC transaction (Redis), a SQL transaction (SQLite) or a single
// critical section (memory), so a failed population leaves nothing behind.
//
// # Metrics
//
//   - swcache_store_hits_total{cache,layer} - store hits
//   - swcache_store_misses_total{cache} - store misses
//   - swcache_store_written_bytes_total{layer} - bytes written
//   - swcache_store_errors_total{operation} - storage errors
package cache
