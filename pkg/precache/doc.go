// Package precache fetches an asset manifest in parallel for the install step.
//
// The manifest is a short, fixed list of paths (root document, stylesheet,
// script bundles, PWA manifest). Every path must be fetched successfully:
// the first failure cancels the remaining fetches and the whole batch fails,
// so the caller never stores a partial set.
//
// Example usage:
//
//	config := precache.DefaultConfig()
//	fetcher := precache.NewBatchFetcher(assetFetcher, config)
//	assets, err := fetcher.FetchAll(ctx, []string{"/", "/static/css/style.css"})
//
// The batch fetcher:
//   - Runs at most MaxConcurrency fetches at a time (default 4)
//   - Applies a per-asset timeout when one is configured
//   - Stops at the first error and reports the failing path
//   - Returns assets in manifest order
package precache
