package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/precache"
)

// handleInstall pre-caches the manifest into the static store.
// Either every asset is stored or none is; the previous version's stores
// are left untouched.
func (w *Worker) handleInstall(ctx context.Context, _ *Event) (*http.Response, error) {
	start := time.Now()
	name := w.config.StaticCacheName()

	w.logger.Info().
		Str("cache", name).
		Int("assets", len(w.config.Manifest)).
		Msg("Installing")

	fail := func(path string, err error) (*http.Response, error) {
		installsTotal.WithLabelValues("failed").Inc()
		w.logger.Error().
			Err(err).
			Str("cache", name).
			Str("path", path).
			Msg("Install failed")
		return nil, &InstallError{Version: w.config.Version, Path: path, Err: err}
	}

	store, err := w.storage.Open(ctx, name)
	if err != nil {
		return fail("", fmt.Errorf("open static cache: %w", err))
	}

	fetcher := precache.NewBatchFetcher(precache.AssetFetcherFunc(w.fetchAsset), precache.Config{
		MaxConcurrency: w.config.PrecacheConcurrency,
		Timeout:        w.config.PrecacheTimeout,
	})
	assets, err := fetcher.FetchAll(ctx, w.config.Manifest)
	if err != nil {
		var assetErr *precache.AssetError
		if errors.As(err, &assetErr) {
			return fail(assetErr.Path, assetErr.Err)
		}
		return fail("", err)
	}

	items := make([]cache.Item, 0, len(assets))
	for _, asset := range assets {
		key, err := cache.KeyFor(http.MethodGet, asset.Entry.URL)
		if err != nil {
			return fail(asset.Path, err)
		}
		items = append(items, cache.Item{Key: key, Entry: asset.Entry})
	}
	if err := store.PutAll(ctx, items); err != nil {
		return fail("", fmt.Errorf("store assets: %w", err))
	}

	w.mu.Lock()
	w.static = store
	w.mu.Unlock()
	w.installed.Store(true)
	installsTotal.WithLabelValues("ok").Inc()

	// Activation follows immediately instead of waiting for the previous
	// version to release its clients.
	w.logger.Info().
		Str("cache", name).
		Int("assets", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Installed, skip waiting")

	return nil, nil
}

// fetchAsset fetches one manifest path from the network.
// Transport failures and non-2xx answers are errors.
func (w *Worker) fetchAsset(ctx context.Context, path string) (*cache.Entry, error) {
	target, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	entry, err := w.network(req)
	if err != nil {
		return nil, err
	}
	if !entry.OK() {
		return nil, &FetchError{URL: target, StatusCode: entry.StatusCode}
	}
	return entry, nil
}

// handleActivate deletes every store that is neither the current static
// store nor the runtime store, then starts intercepting requests.
func (w *Worker) handleActivate(ctx context.Context, _ *Event) (*http.Response, error) {
	if w.redundant.Load() {
		return nil, ErrRedundant
	}
	if !w.installed.Load() {
		return nil, ErrNotInstalled
	}

	static := w.config.StaticCacheName()
	w.logger.Info().Str("cache", static).Msg("Activating")

	names, err := w.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	for _, name := range names {
		if name == static || name == w.config.RuntimeCache {
			continue
		}
		deleted, err := w.storage.Delete(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("delete cache %q: %w", name, err)
		}
		if deleted {
			cachesDeletedTotal.Inc()
			w.logger.Info().Str("cache", name).Msg("Deleted old cache")
		}
	}

	// claim: intercept from now on without a restart
	w.controlling.Store(true)
	if w.redundant.Load() {
		// retired while activating
		w.controlling.Store(false)
		return nil, ErrRedundant
	}
	w.logger.Info().Str("cache", static).Msg("Activated, claiming clients")

	return nil, nil
}
